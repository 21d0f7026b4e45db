package domain

import (
	"math"
	"testing"
)

func TestNameSimilarity(t *testing.T) {
	if got := NameSimilarity("trek marlin 7", "trek marlin 7"); got != 100 {
		t.Errorf("identical names = %v, want 100", got)
	}
	if got := NameSimilarity("", "trek"); got != 0 {
		t.Errorf("empty name = %v, want 0", got)
	}

	close := NameSimilarity("trek marlin 7", "trek marlin 7 2023")
	far := NameSimilarity("trek marlin 7", "specialized rockhopper")
	if close <= far {
		t.Errorf("expected close name (%v) to outscore unrelated name (%v)", close, far)
	}
	if close < 70 {
		t.Errorf("expected model year variant to reach the review floor, got %v", close)
	}
	if far >= 70 {
		t.Errorf("expected unrelated name below the review floor, got %v", far)
	}
}

func TestPercentTruncates(t *testing.T) {
	tests := []struct {
		score, want float64
	}{
		{0.84996, 84.99},
		{0.85, 85},
		{0.7, 70},
		{0.69999, 69.99},
		{1, 100},
	}
	for _, tt := range tests {
		if got := percent(tt.score); got != tt.want {
			t.Errorf("percent(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestTrigramSimilarity(t *testing.T) {
	if got := TrigramSimilarity("abc", "abc"); got != 1 {
		t.Errorf("identical = %v, want 1", got)
	}
	if got := TrigramSimilarity("abc", "xyz"); got != 0 {
		t.Errorf("disjoint = %v, want 0", got)
	}
	// "  a"," ab","abc","bc " vs "  a"," ab","abd","bd " -> 2 shared of 6
	if got := TrigramSimilarity("abc", "abd"); math.Abs(got-2.0/6.0) > 1e-9 {
		t.Errorf("partial = %v, want 1/3", got)
	}
}

func TestJaroWinkler(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"martha", "marhta", 0.961},
		{"dwayne", "duane", 0.84},
		{"abc", "", 0},
	}
	for _, tt := range tests {
		if got := JaroWinkler(tt.a, tt.b); math.Abs(got-tt.want) > 0.001 {
			t.Errorf("JaroWinkler(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
