package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
)

// DataGenerator generates daily price series for tests.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // test data
	}
}

// GeneratorConfig configures how a series is generated.
type GeneratorConfig struct {
	// Symbol of the series (e.g., "510300")
	Symbol string
	// Source name stamped on the series
	Source string
	// Start and End bound the series. Only weekdays produce bars.
	Start time.Time
	End   time.Time
	// InitialPrice is the first open
	InitialPrice float64
	// Volatility is the daily standard deviation of returns (0.01 = 1%)
	Volatility float64
	// Drift is the mean daily return
	Drift float64
	// VolumeBase is the average daily volume
	VolumeBase float64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Symbol:       "TEST",
		Source:       "test",
		Start:        types.Date(2020, 1, 1),
		End:          types.Date(2020, 12, 31),
		InitialPrice: 100.0,
		Volatility:   0.01,
		Drift:        0.0002,
		VolumeBase:   1e6,
	}
}

// Generate creates a weekday series following geometric Brownian motion.
func (g *DataGenerator) Generate(config GeneratorConfig) types.PriceSeries {
	series := types.PriceSeries{Symbol: config.Symbol, Source: config.Source}
	price := config.InitialPrice

	for day := types.Day(config.Start); !day.After(config.End); day = day.AddDate(0, 0, 1) {
		if isWeekend(day) {
			continue
		}

		open := price

		// Box-Muller
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		closePrice := open * (1 + config.Drift + config.Volatility*z)
		if closePrice <= 0 {
			closePrice = open * 0.99
		}

		high := math.Max(open, closePrice) * (1 + g.rng.Float64()*config.Volatility*0.5)
		low := math.Min(open, closePrice) * (1 - g.rng.Float64()*config.Volatility*0.5)

		series.Bars = append(series.Bars, types.Bar{
			Date:   day,
			Open:   roundToDecimals(open, 4),
			High:   roundToDecimals(high, 4),
			Low:    roundToDecimals(low, 4),
			Close:  roundToDecimals(closePrice, 4),
			Volume: roundToDecimals(config.VolumeBase*(0.7+g.rng.Float64()*0.6), 2),
		})

		price = closePrice
	}

	return series
}

// Flat returns a weekday series with every price equal to price.
func Flat(symbol string, start, end time.Time, price float64) types.PriceSeries {
	series := types.PriceSeries{Symbol: symbol, Source: "test"}

	for day := types.Day(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		if isWeekend(day) {
			continue
		}

		series.Bars = append(series.Bars, types.Bar{Date: day, Open: price, High: price, Low: price, Close: price, Volume: 1000})
	}

	return series
}

// Linear returns a weekday series whose close grows by step each trading day.
func Linear(symbol string, start, end time.Time, first, step float64) types.PriceSeries {
	series := types.PriceSeries{Symbol: symbol, Source: "test"}
	price := first

	for day := types.Day(start); !day.After(end); day = day.AddDate(0, 0, 1) {
		if isWeekend(day) {
			continue
		}

		series.Bars = append(series.Bars, types.Bar{Date: day, Open: price, High: price, Low: price, Close: price, Volume: 1000})
		price += step
	}

	return series
}

func isWeekend(day time.Time) bool {
	return day.Weekday() == time.Saturday || day.Weekday() == time.Sunday
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
