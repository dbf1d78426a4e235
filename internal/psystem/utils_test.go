package psystem

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewRandomID(t *testing.T) {
	id := NewRandomID()
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Expected a UUID, got %q: %v", id, err)
	}

	ids := make(map[string]bool)
	for range 100 {
		id := NewRandomID()
		if ids[id] {
			t.Errorf("Duplicate ID found: %s", id)
		}
		ids[id] = true
	}
}
