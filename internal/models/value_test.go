package models

import (
	"encoding/json"
	"testing"
)

func TestFromAnyRoundTrip(t *testing.T) {
	src := map[string]any{
		"name":  "captions",
		"count": 3.0,
		"ok":    true,
		"nested": map[string]any{
			"inner": "x",
		},
		"list": []any{"a", 1.0},
	}

	m, err := MapFromAny(src)
	if err != nil {
		t.Fatalf("MapFromAny: %v", err)
	}

	if got, ok := m.Text("name"); !ok || got != "captions" {
		t.Fatalf("Text(name) = %q, %v", got, ok)
	}
	if got, ok := m.Float("count"); !ok || got != 3 {
		t.Fatalf("Float(count) = %v, %v", got, ok)
	}
	nested, ok := m["nested"].Nested()
	if !ok {
		t.Fatalf("nested should be a map")
	}
	if got, ok := nested.Text("inner"); !ok || got != "x" {
		t.Fatalf("nested inner = %q, %v", got, ok)
	}
	items, ok := m["list"].Items()
	if !ok || len(items) != 2 {
		t.Fatalf("list items = %v, %v", items, ok)
	}
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	if _, err := FromAny(struct{}{}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestMapCloneIsIndependent(t *testing.T) {
	orig := Map{
		"outer": Object(Map{"inner": String("before")}),
	}
	clone := orig.Clone()

	nested, _ := clone["outer"].Nested()
	nested["inner"] = String("after")

	origNested, _ := orig["outer"].Nested()
	if got, _ := origNested.Text("inner"); got != "before" {
		t.Fatalf("clone mutation leaked into original: %q", got)
	}
}

func TestMapMergeDeepAndNonMutating(t *testing.T) {
	base := Map{
		"keep": String("base"),
		"obj":  Object(Map{"a": String("1"), "b": String("2")}),
	}
	extra := Map{
		"obj": Object(Map{"b": String("override"), "c": String("3")}),
		"new": Number(9),
	}

	merged := base.Merge(extra)

	obj, _ := merged["obj"].Nested()
	if got, _ := obj.Text("a"); got != "1" {
		t.Fatalf("merge lost base key: %q", got)
	}
	if got, _ := obj.Text("b"); got != "override" {
		t.Fatalf("extra should win on collision: %q", got)
	}
	if got, _ := obj.Text("c"); got != "3" {
		t.Fatalf("merge lost extra key: %q", got)
	}

	baseObj, _ := base["obj"].Nested()
	if got, _ := baseObj.Text("b"); got != "2" {
		t.Fatalf("merge mutated base: %q", got)
	}
}

func TestValueJSONRoundTrip(t *testing.T) {
	m := Map{
		"s":    String("text"),
		"n":    Number(1.5),
		"b":    Bool(true),
		"obj":  Object(Map{"k": String("v")}),
		"list": List(String("a"), Number(2)),
	}

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Map
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, _ := back.Text("s"); got != "text" {
		t.Fatalf("string round trip: %q", got)
	}
	if got, _ := back.Float("n"); got != 1.5 {
		t.Fatalf("number round trip: %v", got)
	}
	obj, ok := back["obj"].Nested()
	if !ok {
		t.Fatalf("object round trip lost kind")
	}
	if got, _ := obj.Text("k"); got != "v" {
		t.Fatalf("object round trip: %q", got)
	}
}
