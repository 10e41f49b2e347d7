package staking

import (
	"errors"
	"testing"
)

func TestDefaultTierTable(t *testing.T) {
	table, err := NewDefaultTierTable([3]uint32{1000, 2000, 3000})
	if err != nil {
		t.Fatalf("default table: %v", err)
	}
	if err := table.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for i, durations := range DefaultTierDurations {
		rate, err := table.RewardRate(durations)
		if err != nil {
			t.Fatalf("rate for %d: %v", durations, err)
		}
		if want := uint32(1000 * (i + 1)); rate != want {
			t.Fatalf("tier %d: expected %d, got %d", durations, want, rate)
		}
	}
	if _, err := NewDefaultTierTable([3]uint32{1, 2, MaxRewardBps + 1}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
}

func TestTierLookupUnknown(t *testing.T) {
	table, _ := NewDefaultTierTable([3]uint32{1, 2, 3})
	if _, err := table.RewardRate(4); !errors.Is(err, ErrUnknownTier) {
		t.Fatalf("expected ErrUnknownTier, got %v", err)
	}
	if _, ok := table.Lookup(0); ok {
		t.Fatalf("zero duration should not resolve")
	}
}

func TestTierUpsert(t *testing.T) {
	table, _ := NewDefaultTierTable([3]uint32{1, 2, 3})

	updated, added, err := table.Upsert(5, 77)
	if err != nil || added {
		t.Fatalf("replace: added=%v err=%v", added, err)
	}
	if rate, _ := updated.RewardRate(5); rate != 77 {
		t.Fatalf("expected replaced rate 77, got %d", rate)
	}
	if rate, _ := table.RewardRate(5); rate != 2 {
		t.Fatalf("receiver mutated: %d", rate)
	}

	grown, added, err := updated.Upsert(1, 9)
	if err != nil || !added {
		t.Fatalf("insert: added=%v err=%v", added, err)
	}
	if err := grown.Validate(); err != nil {
		t.Fatalf("grown table unordered: %v", err)
	}
	if grown[0].DurationUnits != 1 {
		t.Fatalf("expected new row first, got %+v", grown)
	}
}

func TestTierUpsertBounds(t *testing.T) {
	table, _ := NewDefaultTierTable([3]uint32{1, 2, 3})
	if _, _, err := table.Upsert(0, 1); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for zero duration, got %v", err)
	}
	if _, _, err := table.Upsert(3, MaxRewardBps+1); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for rate, got %v", err)
	}
	var err error
	for d := uint32(100); len(table) < MaxTiers; d++ {
		if table, _, err = table.Upsert(d, 1); err != nil {
			t.Fatalf("fill: %v", err)
		}
	}
	if _, _, err := table.Upsert(999, 1); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams on full table, got %v", err)
	}
	if _, _, err := table.Upsert(3, 50); err != nil {
		t.Fatalf("replacing in a full table should succeed: %v", err)
	}
}

func TestTierValidateRejectsDisorder(t *testing.T) {
	table := TierTable{{DurationUnits: 5, RewardBps: 1}, {DurationUnits: 3, RewardBps: 1}}
	if err := table.Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", err)
	}
	if err := (TierTable{}).Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for empty table, got %v", err)
	}
}
