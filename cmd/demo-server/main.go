package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"agilitytrack/agility"
	"agilitytrack/api/httpapi"
	"agilitytrack/core"
	"agilitytrack/engine"
	"agilitytrack/leaderboard"
	"agilitytrack/realtime"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	// Use readable text logging for development/demo
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	hub := realtime.NewHub()
	board := leaderboard.NewSkipList()
	svc := agility.New(
		agility.WithRealtime(hub),
		agility.WithLeaderboard(board),
		agility.WithLogger(logger),
	)
	defer svc.Close()

	if err := seed(ctx, svc); err != nil {
		slog.Error("seeding demo data", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:      "/api",
		AllowCORSOrigin: "*",
		Leaderboard:     board,
		Logger:          logger,
	})

	slog.Info("starting demo server", "address", *addr)
	srv := &http.Server{Addr: *addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("demo server crashed", "error", err)
		os.Exit(1)
	}
}

// seed registers two dogs. Rex is one Open Standard Q short of Excellent;
// Pip already has Masters points on the board.
func seed(ctx context.Context, svc *engine.TrackerService) error {
	day := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	next := func() time.Time {
		day = day.AddDate(0, 0, 7)
		return day
	}

	if _, err := svc.CreateDog(ctx, engine.NewDog{ID: "rex", Name: "Rex", Breed: "Border Collie", Handler: "Sam"}); err != nil {
		return err
	}
	rex := []engine.RunInput{}
	for range 3 {
		rex = append(rex, engine.RunInput{Date: next(), Class: core.ClassStandard, Level: core.LevelNovice, Qualified: true})
	}
	for range 2 {
		rex = append(rex, engine.RunInput{Date: next(), Class: core.ClassStandard, Level: core.LevelOpen, Qualified: true})
	}
	rex = append(rex, engine.RunInput{Date: next(), Class: core.ClassJumpers, Level: core.LevelNovice, Qualified: false, Faults: 5})
	if _, err := svc.ImportRuns(ctx, "rex", rex); err != nil {
		return err
	}

	if _, err := svc.CreateDog(ctx, engine.NewDog{ID: "pip", Name: "Pip", Breed: "Sheltie", Classes: []core.Class{core.ClassStandard, core.ClassJumpers}}); err != nil {
		return err
	}
	var pip []engine.RunInput
	for _, class := range []core.Class{core.ClassStandard, core.ClassJumpers} {
		for _, level := range []core.Level{core.LevelNovice, core.LevelOpen, core.LevelExcellent} {
			for range 3 {
				pip = append(pip, engine.RunInput{Date: next(), Class: class, Level: level, Qualified: true})
			}
		}
	}
	// a Double Q weekend at Masters
	dq := next()
	pip = append(pip,
		engine.RunInput{Date: dq, Class: core.ClassStandard, Level: core.LevelMasters, Qualified: true, Score: 12, Placement: 1},
		engine.RunInput{Date: dq, Class: core.ClassJumpers, Level: core.LevelMasters, Qualified: true, Score: 8, Placement: 2},
	)
	if _, err := svc.ImportRuns(ctx, "pip", pip); err != nil {
		return err
	}

	slog.Info("demo data seeded", "dogs", 2, "runs", len(rex)+len(pip))
	return nil
}
