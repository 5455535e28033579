package dataaccess

import (
	"reflect"
	"testing"
)

func TestAsDictFieldDefaultsOnNull(t *testing.T) {
	r := NewRegistry()
	r.Define("player", Definition{Fields: map[string]FieldAction{
		"id":   Field{Column: "id"},
		"name": Field{Column: "name", Default: "anonymous"},
	}})

	row := map[string]any{"id": 1, "name": nil}
	got, err := r.AsDict("player", row, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	want := map[string]any{"id": 1, "name": "anonymous"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAsDictProcessTransformsNonNull(t *testing.T) {
	r := NewRegistry()
	double := func(v any) any { return v.(int) * 2 }
	r.Define("stats", Definition{Fields: map[string]FieldAction{
		"score": Process{Column: "raw_score", Default: 0, Fn: double},
	}})

	got, err := r.AsDict("stats", map[string]any{"raw_score": 21}, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if got["score"] != 42 {
		t.Fatalf("expected processed value 42, got %v", got["score"])
	}

	// NULL still resolves through the pre-processed default, not raw Default.
	gotNull, err := r.AsDict("stats", map[string]any{"raw_score": nil}, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if gotNull["score"] != 0 {
		t.Fatalf("expected default 0 for NULL, got %v", gotNull["score"])
	}
}

func TestAsDictUnknownColumnsAreSkipped(t *testing.T) {
	r := NewRegistry()
	r.Define("player", Definition{Fields: map[string]FieldAction{
		"id": Field{Column: "id"},
	}})

	got, err := r.AsDict("player", map[string]any{"id": 1, "secret_internal_col": "x"}, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if _, present := got["secret_internal_col"]; present {
		t.Fatalf("expected unknown column to be skipped, got %v", got)
	}
	if len(got) != 1 {
		t.Fatalf("expected exactly one key, got %v", got)
	}
}

func TestAsDictInheritMergesAndOverrides(t *testing.T) {
	r := NewRegistry()
	r.Define("base", Definition{Fields: map[string]FieldAction{
		"id":   Field{Column: "id"},
		"name": Field{Column: "name", Default: "base-default"},
	}})
	r.Define("derived", Definition{Inherit: "base", Fields: map[string]FieldAction{
		"name": Field{Column: "name", Default: "derived-default"},
	}})

	got, err := r.AsDict("derived", map[string]any{"id": 5, "name": nil}, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if got["id"] != 5 {
		t.Fatalf("expected inherited id field to survive, got %v", got)
	}
	if got["name"] != "derived-default" {
		t.Fatalf("expected derived's own default to win, got %v", got["name"])
	}
}

func TestAsDictRequireNestsAndSupportsDistinctPrefixes(t *testing.T) {
	r := NewRegistry()
	r.Define("basicPlayer", Definition{Fields: map[string]FieldAction{
		"id":   Field{Column: "id"},
		"name": Field{Column: "name"},
	}})
	r.Define("profile", Definition{Fields: map[string]FieldAction{
		"id":       Field{Column: "id"},
		"player":   Require{Schema: "basicPlayer"},
		"soulmate": Require{Schema: "basicPlayer", Prefix: "sm_"},
	}})

	row := map[string]any{
		"id":      1,
		"name":    "alice",
		"sm_id":   2,
		"sm_name": "bob",
	}
	got, err := r.AsDict("profile", row, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}

	player, ok := got["player"].(map[string]any)
	if !ok || player["id"] != 1 || player["name"] != "alice" {
		t.Fatalf("expected unprefixed nested player, got %v", got["player"])
	}
	soulmate, ok := got["soulmate"].(map[string]any)
	if !ok || soulmate["id"] != 2 || soulmate["name"] != "bob" {
		t.Fatalf("expected prefixed nested soulmate, got %v", got["soulmate"])
	}
}

func TestAsDictOuterPrefixStripsBeforeLookup(t *testing.T) {
	r := NewRegistry()
	r.Define("player", Definition{Fields: map[string]FieldAction{
		"id":   Field{Column: "id"},
		"name": Field{Column: "name"},
	}})

	row := map[string]any{"mod_id": 9, "mod_name": "carol", "id": 999}
	got, err := r.AsDict("player", row, "mod_")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if got["id"] != 9 || got["name"] != "carol" {
		t.Fatalf("expected fields read through the mod_ prefix, got %v", got)
	}
}

func TestAsDictUnknownSchemaErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.AsDict("nope", nil, ""); err == nil {
		t.Fatal("expected an error for an undefined schema")
	}
}

func TestDefineInvalidatesStaleCompile(t *testing.T) {
	r := NewRegistry()
	r.Define("player", Definition{Fields: map[string]FieldAction{
		"id": Field{Column: "id", Default: -1},
	}})
	if _, err := r.AsDict("player", map[string]any{"id": 1}, ""); err != nil {
		t.Fatalf("AsDict: %v", err)
	}

	r.Define("player", Definition{Fields: map[string]FieldAction{
		"id":   Field{Column: "id", Default: -1},
		"name": Field{Column: "name", Default: "x"},
	}})

	got, err := r.AsDict("player", map[string]any{"id": 1, "name": nil}, "")
	if err != nil {
		t.Fatalf("AsDict: %v", err)
	}
	if got["name"] != "x" {
		t.Fatalf("expected redefined schema to take effect, got %v", got)
	}
}
