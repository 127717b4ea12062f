package models

import "time"

// EventFilter narrows a live subscription. All populated predicates must match
// (logical AND); an empty filter matches everything.
type EventFilter struct {
	Sources    []Source    `json:"sources,omitempty"`
	Services   []string    `json:"services,omitempty"`
	Kinds      []EventKind `json:"kinds,omitempty"`
	Severities []Severity  `json:"severities,omitempty"`
	TraceID    string      `json:"traceId,omitempty"`
	SpanID     string      `json:"spanId,omitempty"`
	ReleaseID  string      `json:"releaseId,omitempty"`
	AssetID    string      `json:"assetId,omitempty"`
	SimID      string      `json:"simId,omitempty"`
	Since      time.Time   `json:"since,omitempty"`
	Until      time.Time   `json:"until,omitempty"`
}

// Match reports whether the envelope satisfies every populated predicate.
func (f EventFilter) Match(e Envelope) bool {
	if len(f.Sources) > 0 && !containsSource(f.Sources, e.Source) {
		return false
	}
	if len(f.Services) > 0 && !containsString(f.Services, e.Service) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.TraceID != "" && e.TraceID != f.TraceID {
		return false
	}
	if f.SpanID != "" && e.SpanID != f.SpanID {
		return false
	}
	if f.ReleaseID != "" && e.ReleaseID != f.ReleaseID {
		return false
	}
	if f.AssetID != "" && e.AssetID != f.AssetID {
		return false
	}
	if f.SimID != "" && e.SimID != f.SimID {
		return false
	}
	if !f.Since.IsZero() && e.TS.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.TS.After(f.Until) {
		return false
	}
	return true
}

func containsSource(haystack []Source, needle Source) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsKind(haystack []EventKind, needle EventKind) bool {
	for _, k := range haystack {
		if k == needle {
			return true
		}
	}
	return false
}

func containsSeverity(haystack []Severity, needle Severity) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
