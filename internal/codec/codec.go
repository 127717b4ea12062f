// Package codec normalizes producer-specific records into canonical envelopes
// and enforces the closed schema contract.
package codec

import (
	"strings"

	"github.com/blackroadhq/eventmesh/internal/models"
	"github.com/blackroadhq/eventmesh/internal/utils"
)

// Normalize converts an EnvelopeInit into a validated canonical Envelope.
// Attrs and body are copied, never aliased, so the resulting envelope is
// independent of the caller's maps. The schema version is filled with the
// current constant unless the caller supplied one, in which case it must match.
func Normalize(init models.EnvelopeInit) (models.Envelope, error) {
	ts, err := utils.ParseTimestamp(init.TS)
	if err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "ts", Reason: err.Error()}
	}
	if !init.Source.Valid() {
		return models.Envelope{}, &models.ValidationError{Field: "source", Reason: "unknown source " + string(init.Source)}
	}
	if strings.TrimSpace(init.Service) == "" {
		return models.Envelope{}, &models.ValidationError{Field: "service", Reason: "must not be empty"}
	}
	if !init.Kind.Valid() {
		return models.Envelope{}, &models.ValidationError{Field: "kind", Reason: "unknown kind " + string(init.Kind)}
	}
	if init.Severity != "" && !init.Severity.Valid() {
		return models.Envelope{}, &models.ValidationError{Field: "severity", Reason: "unknown severity " + string(init.Severity)}
	}

	version := init.SchemaVersion
	if version == 0 {
		version = models.SchemaVersion
	}
	if version != models.SchemaVersion {
		return models.Envelope{}, &models.ValidationError{Field: "schemaVersion", Reason: "schema version mismatch"}
	}

	attrs, err := models.MapFromAny(init.Attrs)
	if err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "attrs", Reason: err.Error()}
	}
	body, err := models.MapFromAny(init.Body)
	if err != nil {
		return models.Envelope{}, &models.ValidationError{Field: "body", Reason: err.Error()}
	}

	return models.Envelope{
		TS:            ts,
		Source:        init.Source,
		Service:       init.Service,
		Kind:          init.Kind,
		Severity:      init.Severity,
		TraceID:       init.TraceID,
		SpanID:        init.SpanID,
		ReleaseID:     init.ReleaseID,
		AssetID:       init.AssetID,
		SimID:         init.SimID,
		Attrs:         attrs,
		Body:          body,
		SchemaVersion: version,
	}, nil
}

// Validate is an idempotent check usable on envelopes built by other means
// (deserialized from the file store, handed over by adapters). It asserts the
// mandatory fields and the schema contract without modifying the envelope.
func Validate(e models.Envelope) error {
	if e.TS.IsZero() {
		return &models.ValidationError{Field: "ts", Reason: "must be set"}
	}
	if !e.Source.Valid() {
		return &models.ValidationError{Field: "source", Reason: "unknown source " + string(e.Source)}
	}
	if strings.TrimSpace(e.Service) == "" {
		return &models.ValidationError{Field: "service", Reason: "must not be empty"}
	}
	if !e.Kind.Valid() {
		return &models.ValidationError{Field: "kind", Reason: "unknown kind " + string(e.Kind)}
	}
	if e.Severity != "" && !e.Severity.Valid() {
		return &models.ValidationError{Field: "severity", Reason: "unknown severity " + string(e.Severity)}
	}
	if e.SchemaVersion != models.SchemaVersion {
		return &models.ValidationError{Field: "schemaVersion", Reason: "schema version mismatch"}
	}
	return nil
}

// Merge returns a new envelope with extra deep-merged into attrs (extra wins
// on key collision). The original envelope is untouched.
func Merge(e models.Envelope, extra models.Map) models.Envelope {
	out := Clone(e)
	out.Attrs = e.Attrs.Merge(extra)
	return out
}

// Clone returns a structural copy: mutating the clone's attrs or body cannot
// affect the original.
func Clone(e models.Envelope) models.Envelope {
	out := e
	out.Attrs = e.Attrs.Clone()
	out.Body = e.Body.Clone()
	return out
}
