package idgen_test

import (
	"sort"
	"strings"
	"testing"

	"github.com/fieldops/draftsync/idgen"
)

func TestNewDraftIDPrefix(t *testing.T) {
	id := idgen.NewDraftID()
	if !strings.HasPrefix(id, "drf_") {
		t.Fatalf("got %q, want drf_ prefix", id)
	}
	if _, err := idgen.Parse(strings.TrimPrefix(id, "drf_")); err != nil {
		t.Fatalf("suffix is not a UUID: %v", err)
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := idgen.UUIDv7()
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = gen()
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids not time-sortable at %d: %q vs %q", i, ids[i], sorted[i])
		}
	}
}

func TestPrefixed(t *testing.T) {
	gen := idgen.Prefixed("run_", idgen.UUIDv7())
	if id := gen(); !strings.HasPrefix(id, "run_") {
		t.Fatalf("got %q, want run_ prefix", id)
	}
}

func TestUnique(t *testing.T) {
	seen := map[string]bool{}
	for range 1000 {
		id := idgen.NewDraftID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
