package clock

import "testing"

func TestNextMonotonicSameMillis(t *testing.T) {
	orig := nowMillis
	defer func() { nowMillis = orig }()
	nowMillis = func() uint64 { return 1000 }

	c := New()
	a := c.Next()
	b := c.Next()
	d := c.Next()
	if !(a < b && b < d) {
		t.Fatalf("expected strictly increasing timestamps, got %d %d %d", a, b, d)
	}
}

func TestNextUsesWallClockWhenAhead(t *testing.T) {
	orig := nowMillis
	defer func() { nowMillis = orig }()
	nowMillis = func() uint64 { return 5000 }

	c := New()
	c.last = 10
	got := c.Next()
	if got != 5000 {
		t.Fatalf("expected wall clock 5000, got %d", got)
	}
}

func TestObserveNeverRegresses(t *testing.T) {
	orig := nowMillis
	defer func() { nowMillis = orig }()
	nowMillis = func() uint64 { return 100 }

	c := New()
	c.Observe(9999)
	next := c.Next()
	if next <= 9999 {
		t.Fatalf("expected Next() to exceed observed remote timestamp, got %d", next)
	}

	c.Observe(1) // lower observation must not regress the clock
	if c.last != next {
		t.Fatalf("Observe of a lower timestamp must not move the clock back, last=%d want=%d", c.last, next)
	}
}

func TestMonotonicityUnderMixedObserveAndNext(t *testing.T) {
	orig := nowMillis
	defer func() { nowMillis = orig }()
	nowMillis = func() uint64 { return 1 }

	c := New()
	var last uint64
	for i := 0; i < 1000; i++ {
		var v uint64
		if i%3 == 0 {
			c.Observe(uint64(i * 2))
			v = c.last
		} else {
			v = c.Next()
		}
		if v < last {
			t.Fatalf("clock regressed: %d after %d", v, last)
		}
		last = v
	}
}
