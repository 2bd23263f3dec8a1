package mocks

import (
	"testing"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
)

func TestDataGenerator_Generate(t *testing.T) {
	gen := NewDataGenerator(42) // Fixed seed for reproducibility
	config := DefaultConfig()
	config.End = types.Date(2020, 3, 31)

	series := gen.Generate(config)

	if len(series.Bars) == 0 {
		t.Fatal("expected bars")
	}

	if err := series.Validate(); err != nil {
		t.Errorf("series not ordered: %v", err)
	}

	for i, b := range series.Bars {
		if b.Date.Weekday() == time.Saturday || b.Date.Weekday() == time.Sunday {
			t.Errorf("weekend bar at index %d: %s", i, b.Date)
		}

		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			t.Errorf("invalid OHLC values at index %d: O=%f H=%f L=%f C=%f", i, b.Open, b.High, b.Low, b.Close)
		}

		if b.High < b.Low {
			t.Errorf("High < Low at index %d: H=%f L=%f", i, b.High, b.Low)
		}
	}
}

func TestDataGenerator_Reproducible(t *testing.T) {
	config := DefaultConfig()

	a := NewDataGenerator(7).Generate(config)
	b := NewDataGenerator(7).Generate(config)

	if len(a.Bars) != len(b.Bars) {
		t.Fatalf("length mismatch: %d vs %d", len(a.Bars), len(b.Bars))
	}

	for i := range a.Bars {
		if a.Bars[i] != b.Bars[i] {
			t.Fatalf("bar %d differs", i)
		}
	}
}

func TestFlatAndLinear(t *testing.T) {
	flat := Flat("A", types.Date(2020, 1, 6), types.Date(2020, 1, 12), 10)
	if len(flat.Bars) != 5 {
		t.Errorf("expected 5 weekday bars, got %d", len(flat.Bars))
	}

	lin := Linear("B", types.Date(2020, 1, 6), types.Date(2020, 1, 8), 1, 0.5)
	if lin.Bars[2].Close != 2 {
		t.Errorf("expected close 2, got %f", lin.Bars[2].Close)
	}
}
