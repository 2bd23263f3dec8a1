package marketdata

import (
	"testing"

	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type ProviderRegistryTestSuite struct {
	suite.Suite
}

func TestProviderRegistryTestSuite(t *testing.T) {
	suite.Run(t, new(ProviderRegistryTestSuite))
}

func (suite *ProviderRegistryTestSuite) TestEveryProviderIsDescribed() {
	tests := []struct {
		name   string
		auth   bool
		envKey string
	}{
		{name: "aktools", envKey: "AKTOOLS_API"},
		{name: "binance"},
		{name: "polygon", auth: true, envKey: "POLYGON_API_KEY"},
		{name: "qmt", envKey: "QMT_API"},
	}

	suite.Len(GetSupportedProviders(), len(tests))

	for i, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Equal(tc.name, GetSupportedProviders()[i])

			info, err := GetProviderInfo(tc.name)
			suite.Require().NoError(err)
			suite.Equal(tc.name, info.Name)
			suite.Equal(tc.auth, info.RequiresAuth)
			suite.Equal(tc.envKey, info.EnvKey)
			suite.NotEmpty(info.DisplayName)
		})
	}
}

// Every registered provider can serve as the default source of a client.
func (suite *ProviderRegistryTestSuite) TestProvidersAreConstructible() {
	for _, name := range GetSupportedProviders() {
		suite.Run(name, func() {
			client, err := NewClient(ClientConfig{DefaultSource: ProviderType(name), PolygonApiKey: "key"}, nil)
			suite.Require().NoError(err)
			suite.Equal(ProviderType(name), client.DefaultSource())
		})
	}
}

func (suite *ProviderRegistryTestSuite) TestUnknownProvider() {
	_, err := GetProviderInfo("yahoo")
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidProvider))
	suite.Contains(err.Error(), "yahoo")
}
