package config

import (
	"marketspine/pkg/market"
)

// MustLoadMarket loads etc/market.yaml from the project root and panics on
// error. It isolates market provider config so tools that only need a
// provider skip the full daemon config.
func MustLoadMarket() *market.Config {
	return market.MustLoad()
}

// MustBuildMarketProviders loads market config from the default path and
// builds provider instances; returns the map and default provider name.
func MustBuildMarketProviders() (map[string]market.Provider, string) {
	cfg := MustLoadMarket()
	providers, err := cfg.BuildProviders()
	if err != nil {
		panic(err)
	}
	return providers, cfg.Default
}
