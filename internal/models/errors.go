package models

import "fmt"

// ValidationError reports a malformed envelope: a missing mandatory field, an
// unparseable timestamp, or a schema-version mismatch. It is surfaced to the
// producer immediately; nothing is partially ingested.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid envelope: %s: %s", e.Field, e.Reason)
}
