package dedupe

import (
	"testing"
	"time"

	"github.com/blackroadhq/eventmesh/internal/models"
)

func sampleEnvelope() models.Envelope {
	return models.Envelope{
		TS:            time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:        models.SourceOTel,
		Service:       "api",
		Kind:          models.KindSpan,
		TraceID:       "t-1",
		SchemaVersion: models.SchemaVersion,
	}
}

func TestRegisterDropsDuplicateWithinWindow(t *testing.T) {
	tr := NewTracker(5 * time.Minute)
	env := sampleEnvelope()

	if !tr.Register(env) {
		t.Fatalf("first registration should be accepted")
	}
	if tr.Register(env) {
		t.Fatalf("duplicate within window should be dropped")
	}
}

func TestRegisterSlidingWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(5 * time.Minute)
	tr.SetClock(func() time.Time { return now })

	env := sampleEnvelope()
	if !tr.Register(env) {
		t.Fatalf("first registration should be accepted")
	}

	// Just inside the window: still a duplicate.
	now = now.Add(5*time.Minute - time.Second)
	if tr.Register(env) {
		t.Fatalf("duplicate just inside window should be dropped")
	}

	// The failed attempt must not refresh the window.
	now = now.Add(2 * time.Second)
	if !tr.Register(env) {
		t.Fatalf("envelope after expiry should be accepted again")
	}
}

func TestRegisterPrunesExpiredEntries(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Minute)
	tr.SetClock(func() time.Time { return now })

	first := sampleEnvelope()
	tr.Register(first)

	now = now.Add(2 * time.Minute)
	other := sampleEnvelope()
	other.TraceID = "t-2"
	tr.Register(other)

	if got := tr.Len(); got != 1 {
		t.Fatalf("expired entry not pruned, len = %d", got)
	}
}

func TestDeriveKeyDisambiguatorFallback(t *testing.T) {
	base := sampleEnvelope()

	withTrace := base
	withSpan := base
	withSpan.TraceID = ""
	withSpan.SpanID = "t-1"
	if DeriveKey(withTrace) != DeriveKey(withSpan) {
		t.Fatalf("traceId and spanId fallback should derive the same key for equal values")
	}

	withAttr := base
	withAttr.TraceID = ""
	withAttr.Attrs = models.Map{"id": models.String("t-1")}
	if DeriveKey(withTrace) != DeriveKey(withAttr) {
		t.Fatalf("attrs id fallback should derive the same key for equal values")
	}

	none := base
	none.TraceID = ""
	if DeriveKey(withTrace) == DeriveKey(none) {
		t.Fatalf("missing disambiguator should change the key")
	}
}

func TestDeriveKeySensitivity(t *testing.T) {
	base := sampleEnvelope()

	byService := base
	byService.Service = "worker"
	if DeriveKey(base) == DeriveKey(byService) {
		t.Fatalf("service change should change the key")
	}

	byTS := base
	byTS.TS = base.TS.Add(time.Nanosecond)
	if DeriveKey(base) == DeriveKey(byTS) {
		t.Fatalf("timestamp change should change the key")
	}
}
