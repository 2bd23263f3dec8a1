package marketdata

import (
	"slices"

	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// ProviderInfo contains metadata about a market data provider.
type ProviderInfo struct {
	Name         string `json:"name" yaml:"name"`
	DisplayName  string `json:"displayName" yaml:"displayName"`
	Description  string `json:"description" yaml:"description"`
	RequiresAuth bool   `json:"requiresAuth" yaml:"requiresAuth"`
	// EnvKey is the environment variable that configures the provider, if any.
	EnvKey string `json:"envKey,omitempty" yaml:"envKey,omitempty"`
}

// providerRegistry holds metadata about all supported providers.
var providerRegistry = map[ProviderType]ProviderInfo{
	ProviderQMT: {
		Name:         string(ProviderQMT),
		DisplayName:  "QMT",
		Description:  "China A-share and ETF daily bars through a QMT HTTP proxy",
		RequiresAuth: false,
		EnvKey:       "QMT_API",
	},
	ProviderAKTools: {
		Name:         string(ProviderAKTools),
		DisplayName:  "AKTools",
		Description:  "China A-share daily history through the AKTools HTTP bridge, rate limited",
		RequiresAuth: false,
		EnvKey:       "AKTOOLS_API",
	},
	ProviderPolygon: {
		Name:         string(ProviderPolygon),
		DisplayName:  "Polygon.io",
		Description:  "US stock and ETF daily aggregates",
		RequiresAuth: true,
		EnvKey:       "POLYGON_API_KEY",
	},
	ProviderBinance: {
		Name:         string(ProviderBinance),
		DisplayName:  "Binance",
		Description:  "Cryptocurrency spot pairs, daily klines",
		RequiresAuth: false,
	},
}

// GetSupportedProviders returns the names of all supported providers in sorted order.
func GetSupportedProviders() []string {
	providers := make([]string, 0, len(providerRegistry))
	for providerType := range providerRegistry {
		providers = append(providers, string(providerType))
	}

	slices.Sort(providers)

	return providers
}

// GetProviderInfo returns metadata for a specific provider.
func GetProviderInfo(providerName string) (ProviderInfo, error) {
	info, exists := providerRegistry[ProviderType(providerName)]
	if !exists {
		return ProviderInfo{}, errors.Newf(errors.ErrCodeInvalidProvider, "unsupported provider: %s", providerName)
	}

	return info, nil
}
