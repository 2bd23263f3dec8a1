package mocks

//go:generate mockgen -destination=./mock_store.go -package=mocks github.com/rxtech-lab/vfunds/internal/cache Store
//go:generate mockgen -destination=./mock_provider.go -package=mocks github.com/rxtech-lab/vfunds/pkg/marketdata/provider Provider
//go:generate mockgen -destination=./mock_series_fetcher.go -package=mocks github.com/rxtech-lab/vfunds/internal/backtest SeriesFetcher
