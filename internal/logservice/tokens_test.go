package logservice

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abcd", 1},
		{"abcde", 2},
		{"你好", 2},
		{"こんにちは", 4},
		{"안녕", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.in); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEstimateTokens_Monotonic(t *testing.T) {
	prev := 0
	var b strings.Builder
	for i := range 200 {
		if i%3 == 0 {
			b.WriteString("學")
		} else {
			b.WriteString("x")
		}
		got := EstimateTokens(b.String())
		if got < prev {
			t.Fatalf("estimate dropped from %d to %d at length %d", prev, got, i+1)
		}
		prev = got
	}
}

func TestEstimateTokens_CJKDenserThanLatin(t *testing.T) {
	latin := EstimateTokens(strings.Repeat("a", 300))
	cjk := EstimateTokens(strings.Repeat("字", 300))
	if latin != 75 || cjk != 200 {
		t.Errorf("latin=%d cjk=%d, want 75 and 200", latin, cjk)
	}
	if ratio := float64(cjk) / float64(latin); ratio < 2 || ratio > 3 {
		t.Errorf("cjk/latin ratio = %v, want about 2.67", ratio)
	}
}
