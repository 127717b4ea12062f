// Package redact masks sensitive fields before an envelope is stored or
// transmitted.
package redact

import (
	"strings"

	"github.com/blackroadhq/eventmesh/internal/models"
)

// Marker replaces the value of every matched sensitive key.
const Marker = "[REDACTED]"

// defaultTerms are matched case-insensitively as substrings of object keys.
var defaultTerms = []string{"token", "password", "secret", "authorization", "cookie"}

// Redactor walks envelope attrs and body recursively and masks any object key
// whose lowercase form contains a sensitive term. Arrays and scalars pass
// through verbatim; redaction operates on object keys only.
type Redactor struct {
	terms []string

	// OnRedact, when set, is invoked once per masked key. Used to feed the
	// redaction counter; must not block.
	OnRedact func(key string)
}

// New builds a Redactor with the default sensitive-term set plus any extras.
func New(extraTerms ...string) *Redactor {
	terms := make([]string, 0, len(defaultTerms)+len(extraTerms))
	terms = append(terms, defaultTerms...)
	for _, term := range extraTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			terms = append(terms, term)
		}
	}
	return &Redactor{terms: terms}
}

// Redact returns a new envelope with sensitive fields masked. The input is
// never mutated and the result shares no nested references with it.
func (r *Redactor) Redact(e models.Envelope) models.Envelope {
	out := e
	out.Attrs = r.redactMap(e.Attrs)
	out.Body = r.redactMap(e.Body)
	return out
}

// MaskText masks `term=value` and `term: value` sequences inside free-form
// text, returning the masked text and the terms that were hit. Used by the
// collaborative channel before mirroring messages externally.
func (r *Redactor) MaskText(text string) (string, []string) {
	var hit []string
	lower := strings.ToLower(text)
	for _, term := range r.terms {
		idx := 0
		matched := false
		for {
			at := strings.Index(lower[idx:], term)
			if at < 0 {
				break
			}
			at += idx
			rest := at + len(term)
			// Only mask when the term is used as a key, i.e. followed by a
			// separator.
			if rest < len(text) && (text[rest] == '=' || text[rest] == ':') {
				end := rest + 1
				for end < len(text) && text[end] == ' ' {
					end++
				}
				stop := end
				for stop < len(text) && text[stop] != ' ' && text[stop] != ',' && text[stop] != ';' {
					stop++
				}
				text = text[:end] + Marker + text[stop:]
				lower = strings.ToLower(text)
				matched = true
				idx = end + len(Marker)
			} else {
				idx = rest
			}
			if idx >= len(text) {
				break
			}
		}
		if matched {
			hit = append(hit, term)
		}
	}
	return text, hit
}

func (r *Redactor) redactMap(m models.Map) models.Map {
	if m == nil {
		return nil
	}
	out := make(models.Map, len(m))
	for key, val := range m {
		if r.sensitive(key) {
			out[key] = models.String(Marker)
			if r.OnRedact != nil {
				r.OnRedact(key)
			}
			continue
		}
		if nested, ok := val.Nested(); ok {
			out[key] = models.Object(r.redactMap(nested))
			continue
		}
		out[key] = val.Clone()
	}
	return out
}

func (r *Redactor) sensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, term := range r.terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
