package gormrepository

import "testing"

func TestNormalizeLimit(t *testing.T) {
	cases := []struct {
		limit    int
		fallback int
		want     int
	}{
		{0, 200, 200},
		{-5, 50, 50},
		{20, 200, 20},
		{501, 200, 500},
	}
	for _, c := range cases {
		if got := normalizeLimit(c.limit, c.fallback); got != c.want {
			t.Fatalf("normalizeLimit(%d, %d)=%d want=%d", c.limit, c.fallback, got, c.want)
		}
	}
}

func TestNormalizeOffset(t *testing.T) {
	if got := normalizeOffset(-1); got != 0 {
		t.Fatalf("offset=%d want=0", got)
	}
	if got := normalizeOffset(30); got != 30 {
		t.Fatalf("offset=%d want=30", got)
	}
}
