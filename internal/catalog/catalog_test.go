package catalog

import (
	"testing"
)

func TestLookup(t *testing.T) {
	h, ok := Lookup("brush_teeth")
	if !ok {
		t.Fatal("Lookup(brush_teeth) not found")
	}
	if h.Name == "" {
		t.Error("expected a display name")
	}
	if h.Bolts <= 0 {
		t.Errorf("expected positive bolt reward, got %d", h.Bolts)
	}
	if h.DurationSeconds <= 0 {
		t.Errorf("expected positive duration, got %d", h.DurationSeconds)
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, ok := Lookup("juggle_chainsaws"); ok {
		t.Error("Lookup returned a habit for an unknown id")
	}
}

func TestAll(t *testing.T) {
	habits, err := All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(habits) == 0 {
		t.Fatal("expected embedded catalog to have habits")
	}

	seen := make(map[string]bool)
	for _, h := range habits {
		if h.ID == "" {
			t.Error("habit with empty id")
		}
		if seen[h.ID] {
			t.Errorf("duplicate habit id %q", h.ID)
		}
		seen[h.ID] = true
	}
}
