package globaltime

import (
	"testing"
	"time"
)

func TestFreezeAndRestore(t *testing.T) {
	pinned := time.Date(2025, 5, 1, 22, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	restore := Freeze(pinned)

	if got := Now(); !got.Equal(pinned) {
		t.Fatalf("expected pinned time, got %s", got)
	}
	if got := UTC(); got.Location() != time.UTC || got.Hour() != 20 {
		t.Fatalf("expected UTC conversion, got %s", got)
	}
	if got := Today(); !got.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day: %s", got)
	}

	restore()
	if got := Now(); got.Equal(pinned) {
		t.Fatalf("expected clock to be restored")
	}
}

func TestSetMockTimeAndReset(t *testing.T) {
	pinned := time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC)
	SetMockTime(pinned)
	t.Cleanup(ResetTime)

	if got := UTC(); !got.Equal(pinned) {
		t.Fatalf("expected mocked time, got %s", got)
	}
	ResetTime()
	if got := Now(); got.Equal(pinned) {
		t.Fatalf("expected real clock after reset")
	}
}
