package change

import "testing"

func TestShouldDeliver(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		prev     map[string]float64
		cur      map[string]float64
		triggers []string
		abs      float64
		pct      float64
		want     bool
	}{
		{
			name:     "first observation always delivers",
			prev:     map[string]float64{},
			cur:      map[string]float64{"usd1": 500000},
			triggers: []string{"usd1"},
			want:     true,
		},
		{
			name:     "no change with zero thresholds",
			prev:     map[string]float64{"usd1": 500000},
			cur:      map[string]float64{"usd1": 500000},
			triggers: []string{"usd1"},
			want:     false,
		},
		{
			name:     "any change with zero thresholds",
			prev:     map[string]float64{"usd1": 500000},
			cur:      map[string]float64{"usd1": 500001},
			triggers: []string{"usd1"},
			want:     true,
		},
		{
			name:     "abs threshold boundary inclusive",
			prev:     map[string]float64{"usd1": 500000},
			cur:      map[string]float64{"usd1": 500100},
			triggers: []string{"usd1"},
			abs:      100,
			want:     true,
		},
		{
			name:     "just under abs threshold",
			prev:     map[string]float64{"usd1": 500000},
			cur:      map[string]float64{"usd1": 500099.999},
			triggers: []string{"usd1"},
			abs:      100,
			want:     false,
		},
		{
			name:     "pct threshold met",
			prev:     map[string]float64{"eur1": 100000},
			cur:      map[string]float64{"eur1": 100500},
			triggers: []string{"eur1"},
			pct:      0.5,
			want:     true,
		},
		{
			name:     "pct threshold not met",
			prev:     map[string]float64{"eur1": 100000},
			cur:      map[string]float64{"eur1": 100400},
			triggers: []string{"eur1"},
			pct:      0.5,
			want:     false,
		},
		{
			name:     "pct with zero previous uses epsilon base",
			prev:     map[string]float64{"x": 0},
			cur:      map[string]float64{"x": 1},
			triggers: []string{"x"},
			pct:      0.1,
			want:     true,
		},
		{
			name:     "second trigger key fires",
			prev:     map[string]float64{"usd1": 500000, "eur1": 100000},
			cur:      map[string]float64{"usd1": 500000, "eur1": 101000},
			triggers: []string{"usd1", "eur1"},
			abs:      500,
			want:     true,
		},
		{
			name:     "trigger missing from snapshot is skipped",
			prev:     map[string]float64{},
			cur:      map[string]float64{"usd1": 500000},
			triggers: []string{"nope"},
			want:     false,
		},
		{
			name:     "abs miss still trips pct",
			prev:     map[string]float64{"usd1": 1000},
			cur:      map[string]float64{"usd1": 1050},
			triggers: []string{"usd1"},
			abs:      1000,
			pct:      1,
			want:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldDeliver(tt.prev, tt.cur, tt.triggers, tt.abs, tt.pct)
			if got != tt.want {
				t.Fatalf("ShouldDeliver = %v, want %v", got, tt.want)
			}
			// Pure function: same inputs, same answer.
			if again := ShouldDeliver(tt.prev, tt.cur, tt.triggers, tt.abs, tt.pct); again != got {
				t.Fatalf("second call = %v, first = %v", again, got)
			}
		})
	}
}
