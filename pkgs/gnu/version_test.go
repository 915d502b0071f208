package gnu

import (
	"slices"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		// Basic version comparisons
		{"1.0", "2.0", -1},
		{"2.0", "1.0", 1},
		{"1.0", "1.0", 0},

		// Numeric comparison (not lexicographic)
		{"1.2.10", "1.2.9", 1},
		{"1.2", "1.10", -1},
		{"2", "10", -1},

		// Leading zeros
		{"1.01", "1.1", 0},
		{"001", "01", 0},

		// Empty strings
		{"", "", 0},
		{"1", "", 1},
		{"", "1", -1},

		// Tilde sorts before everything, including the end
		{"1.0~rc1", "1.0", -1},
		{"1.0~alpha", "1.0~beta", -1},
		{"~", "", -1},

		// Letters vs numbers and punctuation
		{"a", "1", 1},
		{"1.0a", "1.0", 1},
		{"1.0alpha1", "1.0alpha2", -1},
		{"1.0.0-rc10", "1.0.0-rc9", 1},
		{"1.0.0", "1.0.0.0", -1},
		{"1-2", "1.2", -1},
		{"1_2", "1.2", 1},

		// Packages of the mingw plan
		{"1.2.7", "1.2.6", 1},
		{"1.5.12", "1.5.9", 1},
		{"8d", "8c", 1},
		{"19_0", "19_0", 0},
		{"1.0.1c", "1.0.1", 1},
		{"1.3.0", "1.3.0rc7", -1},
		{"1.0+git20200101", "1.0+git20200102", -1},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := Compare(tt.b, tt.a); got != -tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}

func TestCompareSorts(t *testing.T) {
	versions := []string{"1.10", "1.2~rc1", "1.2", "1.9", "1.2a", "1.02.1"}
	slices.SortFunc(versions, Compare)
	want := []string{"1.2~rc1", "1.2", "1.2a", "1.02.1", "1.9", "1.10"}
	if !slices.Equal(versions, want) {
		t.Errorf("sorted = %q, want %q", versions, want)
	}
}
