package sdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "agilitytrack/adapters/memory"
	"agilitytrack/api/httpapi"
	"agilitytrack/core"
	"agilitytrack/engine"
	"agilitytrack/realtime"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

// newTestServer runs the real API over an in-memory store.
func newTestServer(t *testing.T, keys ...string) *testServer {
	t.Helper()
	hub := realtime.NewHub()
	svc := engine.NewTrackerService(mem.New(), engine.NewEventBus(engine.DispatchSync))
	svc.SubscribeAll(hub.Broadcast)
	srv := httptest.NewServer(httpapi.NewMux(svc, hub, httpapi.Options{PathPrefix: "/api", APIKeys: keys}))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return &testServer{Server: srv, hub: hub}
}

func day(d int) time.Time { return time.Date(2024, 4, d, 0, 0, 0, 0, time.UTC) }

func TestClient_DogLifecycle(t *testing.T) {
	srv := newTestServer(t, "k1")
	client, err := NewClient(srv.URL+"/api", WithAPIKey("k1"))
	require.NoError(t, err)
	ctx := context.Background()

	dog, err := client.CreateDog(ctx, NewDog{ID: "rex", Name: "Rex", Classes: []string{"standard", "jumpers"}})
	require.NoError(t, err)
	assert.Equal(t, core.DogID("rex"), dog.ID)

	var last RunResult
	for d := 1; d <= 3; d++ {
		last, err = client.RecordRun(ctx, "rex", Run(day(d), core.ClassStandard, core.LevelNovice, true))
		require.NoError(t, err)
	}
	require.NotNil(t, last.LevelUp)
	assert.Equal(t, core.LevelOpen, last.LevelUp.ToLevel)

	got, err := client.GetDog(ctx, "rex")
	require.NoError(t, err)
	lvl, ok := got.LevelFor(core.ClassStandard)
	require.True(t, ok)
	assert.Equal(t, core.LevelOpen, lvl)

	imp, err := client.ImportRuns(ctx, "rex", []RunRequest{
		Run(day(4), core.ClassJumpers, core.LevelNovice, true),
		Run(day(5), core.ClassJumpers, core.LevelNovice, true),
		Run(day(6), core.ClassJumpers, core.LevelNovice, true),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, imp.Imported)
	assert.Contains(t, imp.Recalculation.Levels, core.ClassLevel{Class: core.ClassJumpers, Level: core.LevelOpen})

	rc, err := client.Recalculate(ctx, "rex")
	require.NoError(t, err)
	assert.Empty(t, rc.Changes)

	p, err := client.Progress(ctx, "rex")
	require.NoError(t, err)
	assert.Equal(t, "Rex", p.DogName)

	dogs, err := client.ListDogs(ctx)
	require.NoError(t, err)
	assert.Len(t, dogs, 1)

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
}

func TestClient_Errors(t *testing.T) {
	srv := newTestServer(t, "k1")
	ctx := context.Background()

	anon, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)
	_, err = anon.ListDogs(ctx)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "unauthorized", apiErr.Code)

	client, err := NewClient(srv.URL+"/api", WithAuthToken("k1"))
	require.NoError(t, err)
	_, err = client.GetDog(ctx, "ghost")
	assert.True(t, IsNotFound(err))
	_, err = client.Progress(ctx, " ")
	assert.ErrorIs(t, err, ErrEmptyDogID)

	_, err = NewClient("")
	assert.Error(t, err)
}

func TestClient_SubscribeEvents(t *testing.T) {
	srv := newTestServer(t)
	client, err := NewClient(srv.URL + "/api")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events, err := client.SubscribeEvents(ctx, "rex")
	require.NoError(t, err)
	for srv.hub.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatal("subscriber never registered")
		case <-time.After(5 * time.Millisecond):
		}
	}

	_, err = client.CreateDog(ctx, NewDog{ID: "rex", Name: "Rex"})
	require.NoError(t, err)

	select {
	case evt := <-events:
		assert.Equal(t, core.EventDogCreated, evt.Type)
		assert.Equal(t, core.DogID("rex"), evt.DogID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "wss://example.test/api/ws", deriveWSURL("https://example.test/api"))
	assert.Equal(t, "ws://localhost:8080/ws", deriveWSURL("http://localhost:8080/"))
}
