package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	set := NewPauseSet(map[string]bool{"Reward": true})
	if err := Guard(set, "reward"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	set.Set("reward", false)
	if err := Guard(set, "reward"); err != nil {
		t.Fatalf("expected nil after unpause, got %v", err)
	}
	if err := Guard(nil, "reward"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}
