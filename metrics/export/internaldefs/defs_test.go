package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterDefsAreUnique(t *testing.T) {
	names := make(map[string]bool, len(CounterDefs))
	ids := make(map[uint16]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "authgate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q does not follow the naming scheme", def.Name)
		}
		if names[def.Name] {
			t.Fatalf("duplicate counter name %q", def.Name)
		}
		if ids[uint16(def.ID)] {
			t.Fatalf("duplicate counter id %d", def.ID)
		}
		names[def.Name] = true
		ids[uint16(def.ID)] = true
	}
}

func TestBucketTables(t *testing.T) {
	if len(HistogramBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatalf("bounds %d and suffixes %d disagree", len(HistogramBounds), len(HistogramBoundSuffix))
	}
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("cumulative = %v, want %v", got, want)
	}
}
