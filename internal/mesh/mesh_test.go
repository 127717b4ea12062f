package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/blackroadhq/eventmesh/internal/bus"
	"github.com/blackroadhq/eventmesh/internal/dedupe"
	"github.com/blackroadhq/eventmesh/internal/engine"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/redact"
	"github.com/blackroadhq/eventmesh/internal/store"
)

func newTestMesh(t *testing.T) *Mesh {
	t.Helper()
	eng := engine.New(nil, store.NewMemoryStore(), engine.DefaultRules(), engine.Options{})
	b := bus.New(bus.Options{Tracker: dedupe.NewTracker(5 * time.Minute)})
	m := New(nil, redact.New(), b, eng)
	t.Cleanup(m.Close)
	return m
}

func sampleInit(traceID string) models.EnvelopeInit {
	return models.EnvelopeInit{
		TS:      "2025-06-01T12:00:00Z",
		Source:  models.SourceOTel,
		Service: "api",
		Kind:    models.KindSpan,
		TraceID: traceID,
		Attrs: map[string]any{
			"operation": "GET /v1/items",
			"authToken": "abc123",
		},
	}
}

func TestIngestDeliversRedactedEnvelopeOnce(t *testing.T) {
	m := newTestMesh(t)
	sub, err := m.Subscribe()
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Cancel()

	env, accepted, err := m.Ingest(context.Background(), sampleInit("t-1"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !accepted {
		t.Fatalf("first ingest should be accepted")
	}
	if got, _ := env.Attrs.Text("authToken"); got != redact.Marker {
		t.Fatalf("returned envelope not redacted: %q", got)
	}

	select {
	case got := <-sub.Events():
		if masked, _ := got.Attrs.Text("authToken"); masked != redact.Marker {
			t.Fatalf("delivered envelope not redacted: %q", masked)
		}
		if op, _ := got.Attrs.Text("operation"); op != "GET /v1/items" {
			t.Fatalf("non-sensitive attr modified: %q", op)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber did not receive envelope")
	}

	// Re-ingesting the identical record is a silent no-op.
	_, accepted, err = m.Ingest(context.Background(), sampleInit("t-1"))
	if err != nil {
		t.Fatalf("duplicate ingest errored: %v", err)
	}
	if accepted {
		t.Fatalf("duplicate should not be accepted")
	}
	select {
	case <-sub.Events():
		t.Fatalf("duplicate was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestIngestRejectsMalformedRecords(t *testing.T) {
	m := newTestMesh(t)

	init := sampleInit("t-1")
	init.Source = "syslog"
	_, _, err := m.Ingest(context.Background(), init)

	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestIngestThenCorrelate(t *testing.T) {
	m := newTestMesh(t)
	ctx := context.Background()

	init := sampleInit("t-1")
	init.ReleaseID = "rel-9"
	if _, _, err := m.Ingest(ctx, init); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	result, err := m.Correlate(ctx, "rel-9", models.KeyTypeRelease)
	if err != nil {
		t.Fatalf("correlate: %v", err)
	}
	if len(result.Timeline) != 1 {
		t.Fatalf("timeline len = %d, want 1", len(result.Timeline))
	}
	// Only redacted envelopes reach the store.
	if got, _ := result.Timeline[0].Attrs.Text("authToken"); got != redact.Marker {
		t.Fatalf("stored envelope not redacted: %q", got)
	}
}
