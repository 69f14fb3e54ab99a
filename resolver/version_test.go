package resolver

import "testing"

func TestCompareTotalOrder(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0", 0},
		{"1.0", "1.1", -1},
		{"1.1", "1.0", 1},
		{"1.0-1", "1.0-2", -1},
		{"1:1.0", "2:0.1", -1}, // epoch dominates
		{"1.0~rc1", "1.0", -1},
		{"1.0", "1.0~rc1", 1},
		{"1.0a", "1.0b", -1},
		{"2.9", "2.10", -1}, // numeric run, not lexical
		{"1.0-1a", "1.0-1b", -1},
	}
	for _, c := range cases {
		got := Compare(ParseVersion(c.a), ParseVersion(c.b))
		if sign(got) != sign(c.want) {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareAntisymmetric(t *testing.T) {
	pairs := []struct{ a, b string }{
		{"1.0", "2.0"}, {"1.0-1", "1.0-2"}, {"1:0", "0:99"}, {"1.0~rc1", "1.0"},
	}
	for _, p := range pairs {
		va, vb := ParseVersion(p.a), ParseVersion(p.b)
		if sign(Compare(va, vb)) != -sign(Compare(vb, va)) {
			t.Errorf("Compare(%q,%q) and its reverse are not antisymmetric", p.a, p.b)
		}
	}
}

func TestCompareTransitive(t *testing.T) {
	a, b, c := ParseVersion("1.0"), ParseVersion("1.5"), ParseVersion("2.0")
	if Compare(a, b) >= 0 || Compare(b, c) >= 0 || Compare(a, c) >= 0 {
		t.Fatalf("expected a < b < c, got Compare(a,b)=%d Compare(b,c)=%d Compare(a,c)=%d",
			Compare(a, b), Compare(b, c), Compare(a, c))
	}
}

func TestSatisfies(t *testing.T) {
	installed := ParseVersion("1.2-3")
	if !Satisfies(installed, OpGE, ParseVersion("1.0")) {
		t.Errorf("1.2-3 should satisfy >= 1.0")
	}
	if Satisfies(installed, OpLT, ParseVersion("1.0")) {
		t.Errorf("1.2-3 should not satisfy << 1.0")
	}
	if !Satisfies(installed, OpEQ, ParseVersion("1.2-3")) {
		t.Errorf("1.2-3 should satisfy = 1.2-3")
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
