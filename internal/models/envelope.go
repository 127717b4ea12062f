package models

import "time"

// SchemaVersion is the wire contract version every envelope must carry. The
// contract is closed: a mismatch is a validation failure, not an extension
// point.
const SchemaVersion = 1

// Source enumerates the producer families feeding the mesh.
type Source string

const (
	SourceOTel    Source = "otel"
	SourceProm    Source = "prom"
	SourceAudit   Source = "audit"
	SourceMedia   Source = "media"
	SourceEconomy Source = "economy"
	SourceGateway Source = "gateway"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceOTel, SourceProm, SourceAudit, SourceMedia, SourceEconomy, SourceGateway:
		return true
	}
	return false
}

// EventKind discriminates the shape of an envelope payload.
type EventKind string

const (
	KindSpan   EventKind = "span"
	KindLog    EventKind = "log"
	KindMetric EventKind = "metric"
	KindAudit  EventKind = "audit"
	KindJob    EventKind = "job"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindSpan, KindLog, KindMetric, KindAudit, KindJob:
		return true
	}
	return false
}

// Severity is an optional ordered level attached to an envelope.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank maps severities onto their total order (debug < info < warn < error <
// critical). Unknown severities rank below debug.
func (s Severity) Rank() int {
	switch s {
	case SeverityDebug:
		return 1
	case SeverityInfo:
		return 2
	case SeverityWarn:
		return 3
	case SeverityError:
		return 4
	case SeverityCritical:
		return 5
	}
	return 0
}

// Valid reports whether s is a known severity. The empty severity is valid in
// an envelope (the field is optional) but not "known".
func (s Severity) Valid() bool { return s.Rank() > 0 }

// Envelope is the canonical event record flowing through the mesh. Envelopes
// are immutable after creation: derive new ones via codec.Merge or codec.Clone
// instead of mutating Attrs/Body in place.
type Envelope struct {
	TS            time.Time `json:"ts"`
	Source        Source    `json:"source"`
	Service       string    `json:"service"`
	Kind          EventKind `json:"kind"`
	Severity      Severity  `json:"severity,omitempty"`
	TraceID       string    `json:"traceId,omitempty"`
	SpanID        string    `json:"spanId,omitempty"`
	ReleaseID     string    `json:"releaseId,omitempty"`
	AssetID       string    `json:"assetId,omitempty"`
	SimID         string    `json:"simId,omitempty"`
	Attrs         Map       `json:"attrs,omitempty"`
	Body          Map       `json:"body,omitempty"`
	SchemaVersion int       `json:"schemaVersion"`
}

// EnvelopeInit is the producer-facing shape handed to the codec. TS accepts an
// RFC 3339 string, epoch milliseconds, or a time.Time; Attrs/Body accept any
// JSON-shaped map.
type EnvelopeInit struct {
	TS            any            `json:"ts"`
	Source        Source         `json:"source"`
	Service       string         `json:"service"`
	Kind          EventKind      `json:"kind"`
	Severity      Severity       `json:"severity,omitempty"`
	TraceID       string         `json:"traceId,omitempty"`
	SpanID        string         `json:"spanId,omitempty"`
	ReleaseID     string         `json:"releaseId,omitempty"`
	AssetID       string         `json:"assetId,omitempty"`
	SimID         string         `json:"simId,omitempty"`
	Attrs         map[string]any `json:"attrs,omitempty"`
	Body          map[string]any `json:"body,omitempty"`
	SchemaVersion int            `json:"schemaVersion,omitempty"`
}

// KeyType names a correlation key field usable for timeline queries.
type KeyType string

const (
	KeyTypeTrace   KeyType = "traceId"
	KeyTypeRelease KeyType = "releaseId"
	KeyTypeAsset   KeyType = "assetId"
	KeyTypeSim     KeyType = "simId"
)

// KeyTypes lists the queryable correlation key types in a fixed order.
func KeyTypes() []KeyType {
	return []KeyType{KeyTypeTrace, KeyTypeRelease, KeyTypeAsset, KeyTypeSim}
}

// ParseKeyType validates a key type supplied by a caller.
func ParseKeyType(s string) (KeyType, error) {
	kt := KeyType(s)
	switch kt {
	case KeyTypeTrace, KeyTypeRelease, KeyTypeAsset, KeyTypeSim:
		return kt, nil
	}
	return "", &ValidationError{Field: "keyType", Reason: "must be one of traceId, releaseId, assetId, simId"}
}

// CorrelationKey returns the envelope field addressed by kt, or "" when unset.
func (e Envelope) CorrelationKey(kt KeyType) string {
	switch kt {
	case KeyTypeTrace:
		return e.TraceID
	case KeyTypeRelease:
		return e.ReleaseID
	case KeyTypeAsset:
		return e.AssetID
	case KeyTypeSim:
		return e.SimID
	}
	return ""
}

// CorrelatedTimeline is the answer to a correlation query: every stored
// envelope carrying the key, sorted ascending by ts, plus derived notes. Notes
// are recomputed per query and never stored.
type CorrelatedTimeline struct {
	Key      string     `json:"key"`
	KeyType  KeyType    `json:"keyType"`
	Timeline []Envelope `json:"timeline"`
	Notes    []string   `json:"notes"`
}
