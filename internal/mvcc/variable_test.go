package mvcc

import "testing"

func TestNewSeedsInitialSnapshot(t *testing.T) {
	v := New(4, 5)
	if v.Name != "x4" {
		t.Errorf("expected name x4, got %s", v.Name)
	}
	if got := v.CurrentValue(); got != 40 {
		t.Errorf("expected seeded value 40, got %d", got)
	}
	if got := v.LastCommitTime(); got != 0 {
		t.Errorf("expected seeded commit time 0, got %d", got)
	}
}

func TestValueBeforeStrictlyLess(t *testing.T) {
	v := New(2, 0)
	v.CommitSnapshot(5, 100)
	v.CommitSnapshot(10, 200)

	if val, ok := v.ValueBefore(0); ok || val != 0 {
		t.Errorf("expected no snapshot strictly before time 0, got (%d, %v)", val, ok)
	}
	if val, ok := v.ValueBefore(5); !ok || val != 20 {
		t.Errorf("expected seeded value 20 strictly before commit at 5, got (%d, %v)", val, ok)
	}
	if val, ok := v.ValueBefore(6); !ok || val != 100 {
		t.Errorf("expected 100 strictly before time 6, got (%d, %v)", val, ok)
	}
	if val, ok := v.ValueBefore(11); !ok || val != 200 {
		t.Errorf("expected 200 strictly before time 11, got (%d, %v)", val, ok)
	}
}

func TestCommitSnapshotRejectsNonMonotonic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-monotonic commit")
		}
	}()
	v := New(2, 0)
	v.CommitSnapshot(5, 100)
	v.CommitSnapshot(5, 200)
}

func TestCommittedBetweenIsStrict(t *testing.T) {
	v := New(2, 0)
	v.CommitSnapshot(10, 100)

	if v.CommittedBetween(10, 20) {
		t.Error("expected no commit strictly between (10, 20) when commit is exactly at 10")
	}
	if !v.CommittedBetween(5, 15) {
		t.Error("expected commit at 10 to be strictly between (5, 15)")
	}
	if v.CommittedBetween(5, 10) {
		t.Error("expected no commit strictly between (5, 10) when commit is exactly at 10")
	}
}

func TestIsReplicatedAndHomeSite(t *testing.T) {
	if !IsReplicated(2) || IsReplicated(3) {
		t.Error("unexpected even/odd replication classification")
	}
	if got := HomeSiteFor(7, 10); got != 8 {
		t.Errorf("expected home site 8 for x7 on 10 sites, got %d", got)
	}
	if got := HomeSiteFor(11, 10); got != 2 {
		t.Errorf("expected home site 2 for x11 on 10 sites, got %d", got)
	}
}
