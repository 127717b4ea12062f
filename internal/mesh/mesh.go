// Package mesh is the ingestion facade: it normalizes, redacts, gates, and
// publishes producer records, and exposes subscription and correlation to the
// gateway. One Mesh instance is owned by the process entry point and injected
// where needed; there are no package-level singletons so tests can run
// isolated meshes side by side.
package mesh

import (
	"context"
	"log/slog"

	"github.com/blackroadhq/eventmesh/internal/bus"
	"github.com/blackroadhq/eventmesh/internal/codec"
	"github.com/blackroadhq/eventmesh/internal/engine"
	"github.com/blackroadhq/eventmesh/internal/metrics"
	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/redact"
)

// Mesh wires the envelope pipeline: codec -> redaction -> dedupe gate -> bus,
// with the correlation engine fed synchronously so queries observe everything
// ingested before them.
type Mesh struct {
	logger   *slog.Logger
	redactor *redact.Redactor
	bus      *bus.Bus
	engine   *engine.Engine
}

// New constructs a Mesh over its collaborators.
func New(logger *slog.Logger, redactor *redact.Redactor, b *bus.Bus, eng *engine.Engine) *Mesh {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mesh{
		logger:   logger,
		redactor: redactor,
		bus:      b,
		engine:   eng,
	}
}

// Ingest runs one producer record through the full pipeline. The returned
// accepted flag is false for a duplicate within the dedupe window — a silent,
// telemetry-recorded no-op, not an error. Validation failures and store IO
// failures surface as errors; telemetry recording never does.
func (m *Mesh) Ingest(ctx context.Context, init models.EnvelopeInit) (models.Envelope, bool, error) {
	env, err := codec.Normalize(init)
	if err != nil {
		return models.Envelope{}, false, err
	}

	env = m.redactor.Redact(env)

	if !m.bus.Publish(env) {
		metrics.RecordDedupeDrop(env)
		m.logger.Debug("duplicate envelope dropped",
			slog.String("source", string(env.Source)),
			slog.String("service", env.Service),
		)
		return env, false, nil
	}

	metrics.RecordIngest(env)

	if err := m.engine.Ingest(ctx, env); err != nil {
		return env, true, err
	}
	return env, true, nil
}

// Subscribe attaches a live consumer to the bus. The caller must Cancel the
// subscription on disconnect; Cancel is idempotent.
func (m *Mesh) Subscribe() (*bus.Subscription, error) {
	return m.bus.Subscribe()
}

// Correlate answers a timeline query through the engine.
func (m *Mesh) Correlate(ctx context.Context, key string, keyType models.KeyType) (models.CorrelatedTimeline, error) {
	return m.engine.Correlate(ctx, key, keyType)
}

// Close shuts the bus down, detaching all subscribers.
func (m *Mesh) Close() {
	m.bus.Close()
}
