package vclock

import "testing"

func TestIncrement_OnlyRaisesOwnDevice(t *testing.T) {
	c := New().WithDevice("A").WithDevice("B")
	c2 := c.Increment("A")

	if c2.Get("A") != 1 {
		t.Errorf("expected A=1, got %d", c2.Get("A"))
	}
	if c2.Get("B") != 0 {
		t.Errorf("expected B=0, got %d", c2.Get("B"))
	}
}

func TestMerge_PointwiseMax(t *testing.T) {
	a := Clock{"A": 3, "B": 1}
	b := Clock{"A": 2, "B": 5, "C": 1}

	merged := a.Merge(b)

	if merged.Get("A") != 3 || merged.Get("B") != 5 || merged.Get("C") != 1 {
		t.Errorf("unexpected merge result: %v", merged)
	}
}

func TestMerge_CommutativeAssociativeIdempotent(t *testing.T) {
	a := Clock{"A": 3, "B": 1}
	b := Clock{"A": 1, "C": 2}
	c := Clock{"B": 4, "D": 1}

	if !a.Merge(b).Equals(b.Merge(a)) {
		t.Error("merge is not commutative")
	}

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	if !left.Equals(right) {
		t.Error("merge is not associative")
	}

	if !a.Merge(a).Equals(a) {
		t.Error("merge is not idempotent")
	}
}

func TestCompare_Before(t *testing.T) {
	a := Clock{"A": 1}
	b := Clock{"A": 1, "B": 1}

	if a.Compare(b) != Before {
		t.Errorf("expected Before, got %s", a.Compare(b))
	}
	if b.Compare(a) != After {
		t.Errorf("expected After, got %s", b.Compare(a))
	}
}

func TestCompare_Equal(t *testing.T) {
	a := Clock{"A": 1, "B": 2}
	b := Clock{"A": 1, "B": 2}

	if a.Compare(b) != Equal {
		t.Errorf("expected Equal, got %s", a.Compare(b))
	}
}

func TestCompare_Concurrent(t *testing.T) {
	a := Clock{"A": 2, "B": 1}
	b := Clock{"A": 1, "B": 2}

	if a.Compare(b) != Concurrent {
		t.Errorf("expected Concurrent, got %s", a.Compare(b))
	}
	if b.Compare(a) != Concurrent {
		t.Errorf("expected Concurrent, got %s", b.Compare(a))
	}
}

func TestCompare_AbsentKeyIsZero(t *testing.T) {
	a := Clock{"A": 0}
	b := Clock{}

	if a.Compare(b) != Equal {
		t.Errorf("expected Equal (absent key == 0), got %s", a.Compare(b))
	}
}

func TestClone_Independence(t *testing.T) {
	a := Clock{"A": 1}
	b := a.Clone()
	b["A"] = 99

	if a.Get("A") != 1 {
		t.Error("mutating clone affected original")
	}
}
