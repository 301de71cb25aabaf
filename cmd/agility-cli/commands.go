package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agilitytrack/agility"
	"agilitytrack/config"
	"agilitytrack/core"
	"agilitytrack/engine"
)

// recalcWorkers bounds concurrent per-dog recalculations.
const recalcWorkers = 4

// openFunc builds a tracker from the config file at path ("" uses
// AGILITY_CONFIG and the environment). The returned func releases it.
type openFunc func(ctx context.Context, path string) (*engine.TrackerService, func(), error)

func openService(ctx context.Context, path string) (*engine.TrackerService, func(), error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	store, cleanup, err := agility.OpenStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open storage: %w", err)
	}
	svc := agility.New(
		agility.WithStorage(store),
		agility.WithDispatchMode(engine.DispatchSync),
		agility.WithLogger(logger),
	)
	return svc, func() {
		svc.Close()
		cleanup()
	}, nil
}

type cli struct {
	open       openFunc
	configPath string
	asJSON     bool
}

func newRootCmd(open openFunc) *cobra.Command {
	c := &cli{open: open}
	root := &cobra.Command{
		Use:           "agility-cli",
		Short:         "Maintain dog agility run history and levels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (defaults to $AGILITY_CONFIG)")
	root.PersistentFlags().BoolVar(&c.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		&cobra.Command{
			Use:   "import <dog-id> <runs.json>",
			Short: "Import a JSON array of runs and recalculate the dog's levels",
			Args:  cobra.ExactArgs(2),
			RunE:  c.withService(c.runImport),
		},
		c.recalcCmd(),
		&cobra.Command{
			Use:   "progress <dog-id>",
			Short: "Show levels, titles and MACH progress",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withService(c.runProgress),
		},
		&cobra.Command{
			Use:   "diagnose <dog-id>",
			Short: "Compare persisted levels with both level computations",
			Args:  cobra.ExactArgs(1),
			RunE:  c.withService(c.runDiagnose),
		},
	)
	return root
}

func (c *cli) withService(fn func(*cobra.Command, *engine.TrackerService, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		svc, closeFn, err := c.open(cmd.Context(), c.configPath)
		if err != nil {
			return err
		}
		defer closeFn()
		return fn(cmd, svc, args)
	}
}

func (c *cli) recalcCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recalc [dog-id...]",
		Short: "Rebuild class levels from run history",
		RunE: c.withService(func(cmd *cobra.Command, svc *engine.TrackerService, args []string) error {
			return c.runRecalc(cmd, svc, args, all)
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "recalculate every dog")
	return cmd
}

// fileRun is one entry of an import file. Dates are YYYY-MM-DD or RFC 3339.
type fileRun struct {
	Date      string     `json:"date"`
	Class     core.Class `json:"class"`
	Level     core.Level `json:"level"`
	Qualified bool       `json:"qualified"`
	Placement int        `json:"placement,omitempty"`
	Score     int        `json:"score,omitempty"`
	Time      float64    `json:"time,omitempty"`
	Faults    int        `json:"faults,omitempty"`
	Location  string     `json:"location,omitempty"`
	Judge     string     `json:"judge,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

func (f fileRun) input() (engine.RunInput, error) {
	date, err := time.Parse(time.DateOnly, f.Date)
	if err != nil {
		if date, err = time.Parse(time.RFC3339, f.Date); err != nil {
			return engine.RunInput{}, fmt.Errorf("invalid date %q", f.Date)
		}
	}
	return engine.RunInput{
		Date:      date,
		Class:     core.Class(strings.ToLower(string(f.Class))),
		Level:     f.Level,
		Qualified: f.Qualified,
		Placement: f.Placement,
		Score:     f.Score,
		Time:      f.Time,
		Faults:    f.Faults,
		Location:  f.Location,
		Judge:     f.Judge,
		Notes:     f.Notes,
	}, nil
}

func readRuns(r io.Reader) ([]engine.RunInput, error) {
	var raw []fileRun
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode runs: %w", err)
	}
	out := make([]engine.RunInput, 0, len(raw))
	for i, fr := range raw {
		in, err := fr.input()
		if err != nil {
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		out = append(out, in)
	}
	return out, nil
}

func (c *cli) runImport(cmd *cobra.Command, svc *engine.TrackerService, args []string) error {
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	runs, err := readRuns(f)
	if err != nil {
		return err
	}
	res, err := svc.ImportRuns(cmd.Context(), core.DogID(args[0]), runs)
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Imported %d runs (%d counted, %d ignored)\n", res.Imported, res.Recalculation.Counted, res.Recalculation.Ignored)
	printChanges(out, res.Recalculation.Changes)
	return nil
}

type recalcResult struct {
	Dog           core.DogID            `json:"dog_id"`
	Recalculation *engine.Recalculation `json:"recalculation,omitempty"`
	Error         string                `json:"error,omitempty"`
}

func (c *cli) runRecalc(cmd *cobra.Command, svc *engine.TrackerService, args []string, all bool) error {
	ctx := cmd.Context()
	ids := make([]core.DogID, 0, len(args))
	switch {
	case all && len(args) > 0:
		return errors.New("pass dog ids or --all, not both")
	case all:
		dogs, err := svc.ListDogs(ctx)
		if err != nil {
			return err
		}
		for _, d := range dogs {
			ids = append(ids, d.ID)
		}
	case len(args) == 0:
		return errors.New("no dogs given; pass dog ids or --all")
	default:
		for _, a := range args {
			ids = append(ids, core.DogID(a))
		}
	}

	// one dog failing does not stop the others
	results := make([]recalcResult, len(ids))
	var g errgroup.Group
	g.SetLimit(recalcWorkers)
	for i, id := range ids {
		g.Go(func() error {
			results[i].Dog = id
			rc, err := svc.Recalculate(ctx, id)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Recalculation = &rc
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if c.asJSON {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(out, "%s: FAILED: %s\n", r.Dog, r.Error)
				continue
			}
			fmt.Fprintf(out, "%s: %d counted, %d ignored\n", r.Dog, r.Recalculation.Counted, r.Recalculation.Ignored)
			printChanges(out, r.Recalculation.Changes)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d recalculations failed", failed, len(results))
	}
	return nil
}

func (c *cli) runProgress(cmd *cobra.Command, svc *engine.TrackerService, args []string) error {
	p, err := svc.Progress(cmd.Context(), core.DogID(args[0]))
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), p)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n\n", p.DogName, p.DogID)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tLEVEL\tTOWARD NEXT")
	for _, lc := range p.Levels {
		next := "-"
		if lc.NextRule != nil {
			next = fmt.Sprintf("%d/%d", lc.QualifyingRunsAtCurrentLevel, lc.NextRule.Required)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", lc.Class, lc.CurrentLevel, next)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nMACH points: %d  Double Qs: %d  MACHs: %d\n", p.MachPoints, p.DoubleQs.Count, p.Mach.Complete)
	if len(p.Titles) > 0 {
		fmt.Fprintf(out, "Titles: %s\n", strings.Join(p.Titles, ", "))
	}
	return nil
}

func (c *cli) runDiagnose(cmd *cobra.Command, svc *engine.TrackerService, args []string) error {
	diags, err := svc.Diagnose(cmd.Context(), core.DogID(args[0]))
	if err != nil {
		return err
	}
	if c.asJSON {
		return writeJSON(cmd.OutOrStdout(), diags)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tPERSISTED\tORDERED\tEVER MET\tSTATUS")
	for _, d := range diags {
		status := "ok"
		switch {
		case !d.Consistent:
			status = "recalc needed"
		case d.Divergent:
			status = "divergent"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.Class, d.Persisted, d.Ordered.CurrentLevel, d.EverMet.CurrentLevel, status)
	}
	return tw.Flush()
}

func printChanges(w io.Writer, changes []engine.LevelChange) {
	for _, ch := range changes {
		fmt.Fprintf(w, "  %s: %s -> %s\n", ch.Class, ch.From, ch.To)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
