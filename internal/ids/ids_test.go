package ids

import (
	"testing"
	"time"
)

func TestNewIsSortableAndValid(t *testing.T) {
	a := New()
	b := New()
	if !Valid(a) || !Valid(b) {
		t.Fatalf("expected valid ids, got %q and %q", a, b)
	}
	if a >= b {
		t.Fatalf("expected %q < %q", a, b)
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not-a-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if Valid(in) {
			t.Fatalf("Valid(%q) = true", in)
		}
	}
}

func TestTimeRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	ts, ok := Time(New())
	if !ok {
		t.Fatal("expected timestamp")
	}
	if ts.Before(before) || ts.After(time.Now().Add(time.Second)) {
		t.Fatalf("unexpected timestamp %v", ts)
	}
}
