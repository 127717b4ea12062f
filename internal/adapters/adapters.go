// Package adapters maps native producer shapes onto EnvelopeInit records.
// Each adapter owns the field mapping for one source family; the mesh pipeline
// (normalize, redact, dedupe, publish) stays source-agnostic.
package adapters

import (
	"time"

	"github.com/blackroadhq/eventmesh/internal/models"
)

// OTelSpan is a finished trace span as reported by an OpenTelemetry exporter.
type OTelSpan struct {
	TraceID    string
	SpanID     string
	Service    string
	Operation  string
	Start      time.Time
	Duration   time.Duration
	Status     string
	Attributes map[string]any
}

// EnvelopeInit maps the span onto the canonical shape. Error status raises the
// severity; the span's own attributes ride along in attrs.
func (s OTelSpan) EnvelopeInit() models.EnvelopeInit {
	severity := models.SeverityInfo
	if s.Status == "error" {
		severity = models.SeverityError
	}
	attrs := map[string]any{
		"operation":  s.Operation,
		"durationMs": float64(s.Duration) / float64(time.Millisecond),
		"status":     s.Status,
	}
	for k, v := range s.Attributes {
		attrs[k] = v
	}
	return models.EnvelopeInit{
		TS:       s.Start,
		Source:   models.SourceOTel,
		Service:  s.Service,
		Kind:     models.KindSpan,
		Severity: severity,
		TraceID:  s.TraceID,
		SpanID:   s.SpanID,
		Attrs:    attrs,
	}
}

// OTelLogRecord is a log record exported alongside traces.
type OTelLogRecord struct {
	TraceID  string
	SpanID   string
	Service  string
	Severity models.Severity
	TS       time.Time
	Body     string
	Attrs    map[string]any
}

// EnvelopeInit maps the log record onto the canonical shape.
func (l OTelLogRecord) EnvelopeInit() models.EnvelopeInit {
	return models.EnvelopeInit{
		TS:       l.TS,
		Source:   models.SourceOTel,
		Service:  l.Service,
		Kind:     models.KindLog,
		Severity: l.Severity,
		TraceID:  l.TraceID,
		SpanID:   l.SpanID,
		Attrs:    l.Attrs,
		Body:     map[string]any{"message": l.Body},
	}
}

// PromSample is a single scraped metric sample.
type PromSample struct {
	Metric  string
	Service string
	Labels  map[string]string
	Value   float64
	TS      time.Time
}

// EnvelopeInit maps the sample onto the canonical shape; labels become attrs.
func (p PromSample) EnvelopeInit() models.EnvelopeInit {
	attrs := map[string]any{"metric": p.Metric}
	for k, v := range p.Labels {
		attrs[k] = v
	}
	return models.EnvelopeInit{
		TS:      p.TS,
		Source:  models.SourceProm,
		Service: p.Service,
		Kind:    models.KindMetric,
		Attrs:   attrs,
		Body:    map[string]any{"value": p.Value},
	}
}

// AuditRecord captures a control-plane action (deploys, promotions, role
// changes).
type AuditRecord struct {
	Action    string
	Actor     string
	Service   string
	TS        time.Time
	ReleaseID string
	Details   map[string]any
}

// EnvelopeInit maps the audit record onto the canonical shape.
func (a AuditRecord) EnvelopeInit() models.EnvelopeInit {
	attrs := map[string]any{
		"action": a.Action,
		"actor":  a.Actor,
	}
	return models.EnvelopeInit{
		TS:        a.TS,
		Source:    models.SourceAudit,
		Service:   a.Service,
		Kind:      models.KindAudit,
		ReleaseID: a.ReleaseID,
		Attrs:     attrs,
		Body:      a.Details,
	}
}

// MediaCaptionJob is a caption pipeline job completion for an asset.
type MediaCaptionJob struct {
	JobID      string
	AssetID    string
	Service    string
	TS         time.Time
	DurationMs float64
	Status     string
	ReleaseID  string
}

// EnvelopeInit maps the job onto the canonical shape; durationMs feeds the
// caption latency rule.
func (j MediaCaptionJob) EnvelopeInit() models.EnvelopeInit {
	return models.EnvelopeInit{
		TS:        j.TS,
		Source:    models.SourceMedia,
		Service:   j.Service,
		Kind:      models.KindJob,
		AssetID:   j.AssetID,
		ReleaseID: j.ReleaseID,
		Attrs: map[string]any{
			"id":         j.JobID,
			"durationMs": j.DurationMs,
			"status":     j.Status,
		},
	}
}

// EconomySimEvent is a tokenomics simulation lifecycle event.
type EconomySimEvent struct {
	SimID        string
	Service      string
	Phase        string
	TS           time.Time
	EvidenceHash string
	ReleaseID    string
}

// EnvelopeInit maps the simulation event onto the canonical shape;
// evidenceHash feeds the simulation evidence rule.
func (e EconomySimEvent) EnvelopeInit() models.EnvelopeInit {
	attrs := map[string]any{"phase": e.Phase}
	if e.EvidenceHash != "" {
		attrs["evidenceHash"] = e.EvidenceHash
	}
	return models.EnvelopeInit{
		TS:        e.TS,
		Source:    models.SourceEconomy,
		Service:   e.Service,
		Kind:      models.KindJob,
		SimID:     e.SimID,
		ReleaseID: e.ReleaseID,
		Attrs:     attrs,
	}
}
