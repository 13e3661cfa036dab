package logging_test

import (
	"context"
	"testing"
	"time"

	"craft-and-carry/modsync/logging"
	"craft-and-carry/modsync/logging/sinks"
)

func newMemoryRouter(t *testing.T, cfg logging.Config) (*logging.Router, *sinks.MemorySink) {
	t.Helper()
	memory := sinks.NewMemorySink()
	router, err := logging.NewRouter(logging.SystemClock{}, cfg, []logging.NamedSink{
		{Name: "memory", Sink: memory},
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return router, memory
}

func closeRouter(t *testing.T, router *logging.Router) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("close router: %v", err)
	}
}

func TestRouterDeliversToSinks(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityDebug
	router, memory := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{
		Type:     "verification.peer_connected",
		Severity: logging.SeverityInfo,
	})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Type != "verification.peer_connected" {
		t.Fatalf("type = %q, want the published event", events[0].Type)
	}
	if events[0].Time.IsZero() {
		t.Fatalf("expected the router to stamp the event time")
	}

	stats := router.Stats()
	if stats.EventsTotal != 1 || stats.DroppedTotal != 0 {
		t.Fatalf("stats = %+v, want one event and no drops", stats)
	}
}

func TestRouterFiltersBelowMinimumSeverity(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.MinimumSeverity = logging.SeverityWarn
	router, memory := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{Type: "locks.update_applied", Severity: logging.SeverityDebug})
	router.Publish(context.Background(), logging.Event{Type: "verification.handshake_timeout", Severity: logging.SeverityWarn})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want only the warning through", len(events))
	}
	if events[0].Type != "verification.handshake_timeout" {
		t.Fatalf("type = %q, want the warning", events[0].Type)
	}
}

func TestRouterMergesConfiguredFields(t *testing.T) {
	cfg := logging.DefaultConfig()
	cfg.Fields = map[string]any{"session": "workshop-1"}
	router, memory := newMemoryRouter(t, cfg)

	router.Publish(context.Background(), logging.Event{
		Type:     "verification.peer_verified",
		Severity: logging.SeverityInfo,
		Extra:    map[string]any{"peer": "peer-1"},
	})
	closeRouter(t, router)

	events := memory.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	extra := events[0].Extra
	if extra["session"] != "workshop-1" || extra["peer"] != "peer-1" {
		t.Fatalf("extra = %v, want configured fields merged with the event's", extra)
	}
}

func TestRouterIgnoresUntypedEvents(t *testing.T) {
	router, memory := newMemoryRouter(t, logging.DefaultConfig())

	router.Publish(context.Background(), logging.Event{Severity: logging.SeverityInfo})
	closeRouter(t, router)

	if got := len(memory.Events()); got != 0 {
		t.Fatalf("events = %d, want untyped events discarded", got)
	}
}

func TestParseSeverity(t *testing.T) {
	cases := []struct {
		in   string
		want logging.Severity
		ok   bool
	}{
		{in: "debug", want: logging.SeverityDebug, ok: true},
		{in: "info", want: logging.SeverityInfo, ok: true},
		{in: "warn", want: logging.SeverityWarn, ok: true},
		{in: "warning", want: logging.SeverityWarn, ok: true},
		{in: "error", want: logging.SeverityError, ok: true},
		{in: "loud", want: logging.SeverityInfo, ok: false},
		{in: "", want: logging.SeverityInfo, ok: false},
	}
	for _, tc := range cases {
		got, ok := logging.ParseSeverity(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseSeverity(%q) = %v %v, want %v %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}
