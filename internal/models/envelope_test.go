package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseKeyType(t *testing.T) {
	for _, kt := range KeyTypes() {
		parsed, err := ParseKeyType(string(kt))
		if err != nil {
			t.Fatalf("ParseKeyType(%s): %v", kt, err)
		}
		if parsed != kt {
			t.Fatalf("ParseKeyType(%s) = %s", kt, parsed)
		}
	}
	if _, err := ParseKeyType("sessionId"); err == nil {
		t.Fatalf("expected error for unknown key type")
	}
}

func TestCorrelationKey(t *testing.T) {
	e := Envelope{
		TraceID:   "t-1",
		ReleaseID: "r-1",
		AssetID:   "a-1",
		SimID:     "s-1",
	}
	cases := map[KeyType]string{
		KeyTypeTrace:   "t-1",
		KeyTypeRelease: "r-1",
		KeyTypeAsset:   "a-1",
		KeyTypeSim:     "s-1",
	}
	for kt, want := range cases {
		if got := e.CorrelationKey(kt); got != want {
			t.Fatalf("CorrelationKey(%s) = %q, want %q", kt, got, want)
		}
	}
	if got := (Envelope{}).CorrelationKey(KeyTypeTrace); got != "" {
		t.Fatalf("empty envelope key = %q", got)
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("%s should rank below %s", order[i-1], order[i])
		}
	}
	if Severity("fatal").Valid() {
		t.Fatalf("unknown severity should be invalid")
	}
}

func TestEnvelopeJSONFieldNames(t *testing.T) {
	e := Envelope{
		TS:            time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:        SourceOTel,
		Service:       "api",
		Kind:          KindSpan,
		TraceID:       "t-1",
		SchemaVersion: SchemaVersion,
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, field := range []string{`"ts"`, `"traceId"`, `"schemaVersion"`} {
		if !strings.Contains(string(data), field) {
			t.Fatalf("JSON missing field %s: %s", field, data)
		}
	}
}

func TestEventFilterMatch(t *testing.T) {
	e := Envelope{
		TS:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:   SourceMedia,
		Service:  "captions",
		Kind:     KindJob,
		Severity: SeverityInfo,
		AssetID:  "asset-7",
	}

	if !(EventFilter{}).Match(e) {
		t.Fatalf("empty filter must match everything")
	}
	if !(EventFilter{Sources: []Source{SourceMedia}, AssetID: "asset-7"}).Match(e) {
		t.Fatalf("matching filter rejected envelope")
	}
	if (EventFilter{Sources: []Source{SourceOTel}}).Match(e) {
		t.Fatalf("source mismatch should reject")
	}
	if (EventFilter{Since: e.TS.Add(time.Minute)}).Match(e) {
		t.Fatalf("since after ts should reject")
	}
	if (EventFilter{Until: e.TS.Add(-time.Minute)}).Match(e) {
		t.Fatalf("until before ts should reject")
	}
	if !(EventFilter{Since: e.TS, Until: e.TS}).Match(e) {
		t.Fatalf("inclusive bounds should match")
	}
}
