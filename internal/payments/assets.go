package payments

import (
	"fmt"
	"math"
)

// AssetConfig holds per-asset constants for amount conversion and defaults.
type AssetConfig struct {
	Symbol               string // "BTC", "ETH"
	DisplayName          string
	UnitName             string // "satoshi", "gwei"
	UnitsPerCoin         int64  // base units per whole coin
	DefaultConfirmations int64  // required confirmations unless overridden
	DefaultFeeUnits      int64  // fixed sweep fee estimate in base units
	RateID               string // asset id in the rate API ("bitcoin", "ethereum")
}

// Assets is the registry of supported settlement assets. Exactly one is
// active at runtime, selected by CHAIN_ASSET.
var Assets = map[string]AssetConfig{
	"BTC": {
		Symbol:               "BTC",
		DisplayName:          "Bitcoin",
		UnitName:             "satoshi",
		UnitsPerCoin:         100_000_000,
		DefaultConfirmations: 3,
		DefaultFeeUnits:      10_000, // 0.0001 BTC
		RateID:               "bitcoin",
	},
	"ETH": {
		Symbol:               "ETH",
		DisplayName:          "Ethereum",
		UnitName:             "gwei",
		UnitsPerCoin:         1_000_000_000,
		DefaultConfirmations: 12,
		DefaultFeeUnits:      2_100_000, // 21000 gas at 100 gwei
		RateID:               "ethereum",
	},
}

// AssetBySymbol returns the config for a supported asset symbol.
func AssetBySymbol(symbol string) (AssetConfig, error) {
	asset, ok := Assets[symbol]
	if !ok {
		return AssetConfig{}, fmt.Errorf("unsupported asset: %s", symbol)
	}
	return asset, nil
}

// UnitsForPrice converts a fiat price into base units of the asset at the
// given rate (pricing currency per whole coin). Rounded up so the buyer
// never underpays by a rounding artifact.
func (a AssetConfig) UnitsForPrice(priceCents int64, rate float64) (int64, error) {
	if rate <= 0 {
		return 0, fmt.Errorf("invalid settlement rate: %f", rate)
	}
	coins := float64(priceCents) / 100.0 / rate
	units := int64(math.Ceil(coins * float64(a.UnitsPerCoin)))
	if units <= 0 {
		return 0, fmt.Errorf("price %d cents converts to zero %s", priceCents, a.UnitName)
	}
	return units, nil
}

// FormatCoins renders base units as a whole-coin decimal string.
func (a AssetConfig) FormatCoins(units int64) string {
	return fmt.Sprintf("%.8f", float64(units)/float64(a.UnitsPerCoin))
}
