package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown   ErrorCode = 1
	ErrCodeCancelled ErrorCode = 2

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidFund          ErrorCode = 102
	ErrCodeInvalidWindow        ErrorCode = 103
	ErrCodeInvalidFrequency     ErrorCode = 104
	ErrCodeInvalidStrategy      ErrorCode = 105
	ErrCodeMissingParameter     ErrorCode = 109
	ErrCodeInvalidVersion       ErrorCode = 110

	// Data/Resource errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeDataUnavailable ErrorCode = 201
	ErrCodeDataGap         ErrorCode = 202
	ErrCodeQueryFailed     ErrorCode = 203

	// Cache errors (300-399)
	ErrCodeCacheReadFailed  ErrorCode = 300
	ErrCodeCacheWriteFailed ErrorCode = 301
	ErrCodeCacheCorruption  ErrorCode = 302
	ErrCodeCacheMiss        ErrorCode = 303

	// Simulation errors (400-499)
	ErrCodeSimulationFailed ErrorCode = 400
	ErrCodeNoTradingDays    ErrorCode = 401

	// Backtest errors (600-699)
	ErrCodeBacktestFailed      ErrorCode = 600
	ErrCodeBacktestNoFunds     ErrorCode = 604
	ErrCodeBacktestNoWindows   ErrorCode = 605
	ErrCodeBacktestNoResultDir ErrorCode = 607

	// Market data errors (700-799)
	ErrCodeMarketDataFetchFailed ErrorCode = 700
	ErrCodeMarketDataTransient   ErrorCode = 701
	ErrCodeMarketDataParseFailed ErrorCode = 702
	ErrCodeInvalidProvider       ErrorCode = 704

	// Export errors (800-899)
	ErrCodeExportFailed ErrorCode = 800
)
