package cache

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Per-source TTLs. Market data is the most perishable; developer activity
// barely moves within an hour.
const (
	TTLOnChain   = 5 * time.Minute
	TTLMarket    = time.Minute
	TTLSocial    = 15 * time.Minute
	TTLDeveloper = time.Hour
)

// Keys follow a hierarchical namespace:class:identifier layout so whole
// source classes can be invalidated with one glob. Symbols and repo paths
// carry slashes ("BTC/USDT", "zcash/zcash") that would collide with the
// separator, so they are flattened first.

// MarketKey addresses a trading pair's market data on one exchange.
func MarketKey(exchange, symbol string) string {
	return "market:" + exchange + ":" + flatten(symbol)
}

// OrderBookKey addresses an order-book snapshot at a given depth.
func OrderBookKey(exchange, symbol string, depth int) string {
	return fmt.Sprintf("orderbook:%s:%s:%d", exchange, flatten(symbol), depth)
}

// OnChainKey addresses a chain-level metric.
func OnChainKey(chain, metric string) string {
	return "onchain:" + chain + ":" + metric
}

// SocialKey addresses social sentiment for an asset on one platform.
func SocialKey(platform, asset string) string {
	return "social:" + platform + ":" + asset
}

// MentionsKey addresses a social mentions search. Free-form search
// parameters are folded into a short stable hash.
func MentionsKey(platform string, params map[string]any) string {
	return "social:" + platform + ":mentions:" + hashParams(params)
}

// DeveloperKey addresses repository development activity.
func DeveloperKey(repo string) string {
	return "developer:" + flatten(repo)
}

func flatten(s string) string {
	return strings.ReplaceAll(s, "/", "_")
}

// hashParams derives a short stable digest of a parameter set. Map keys
// are sorted by the JSON encoder, so equal parameter sets always hash the
// same.
func hashParams(params map[string]any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return "invalid"
	}
	return fmt.Sprintf("%x", md5.Sum(data))[:8]
}
