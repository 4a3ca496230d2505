package monitoring

import (
	"time"

	"github.com/chimera-analytics/chimera/pkg/cache"
	alerting "github.com/chimera-analytics/chimera/pkg/monitoring"
)

// AgentName identifies the monitoring agent on the bus.
const AgentName = "monitoring_agent"

// Routing keys of the monitoring flow.
const (
	KeyRuleConfig   = "monitoring.rule.config"
	KeyAlert        = "monitoring.alert"
	KeyDataRequest  = "data_retrieval.request"
	KeyDataResponse = "data_retrieval.response"
)

// Rule-change actions carried by rule-config messages.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Source types and names a poll request can address.
const (
	SourceBlockchain = "DATA_SOURCE_BLOCKCHAIN"
	SourceExchange   = "DATA_SOURCE_EXCHANGE"
	SourceSocial     = "DATA_SOURCE_SOCIAL"

	SourceNameNode      = "zcash_node"
	SourceNameExchanges = "exchanges"
	SourceNameSocial    = "social_platforms"
)

// RuleConfig is the inbound rule-management message.
type RuleConfig struct {
	Action string        `json:"action"`
	Rule   alerting.Rule `json:"rule"`
}

// DataSource names one backend the retrieval agent should query.
type DataSource struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// DataRetrievalRequest is the periodic poll for watched metrics.
type DataRetrievalRequest struct {
	Sources []DataSource `json:"sources"`
	Metrics []string     `json:"metrics"`
}

// Sample is one metric observation in a retrieval response.
type Sample struct {
	Timestamp int64             `json:"timestamp"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Time returns the observation time. Samples without a timestamp report
// the zero time, which makes the evaluation clock authoritative.
func (s Sample) Time() time.Time {
	if s.Timestamp <= 0 {
		return time.Time{}
	}
	return time.Unix(s.Timestamp, 0)
}

// DataRetrievalResponse carries polled samples grouped by metric.
type DataRetrievalResponse struct {
	Source string              `json:"source,omitempty"`
	Data   map[string][]Sample `json:"data"`
}

// Source classes group watched metrics by the backend able to serve them.
const (
	classBlockchain = "blockchain"
	classMarket     = "market"
	classSocial     = "social"
)

var (
	marketMetrics = map[string]bool{
		"price":          true,
		"trading_volume": true,
		"market_cap":     true,
	}
	socialMetrics = map[string]bool{
		"social_sentiment":   true,
		"developer_activity": true,
	}
)

// metricClass resolves the source class of a watched metric. Chain
// metrics and anything unrecognized poll through the blockchain source,
// the platform's home chain.
func metricClass(metric string) string {
	switch {
	case marketMetrics[metric]:
		return classMarket
	case socialMetrics[metric]:
		return classSocial
	default:
		return classBlockchain
	}
}

// sampleCacheKey places a metric's samples in the cache namespace of the
// source that produced them, with that source's freshness window. Poll
// responses aggregate across venues, so the middle segment is a marker
// rather than an exchange or platform name.
func sampleCacheKey(source, metric string) (string, time.Duration) {
	switch source {
	case SourceNameExchanges:
		return cache.MarketKey("aggregate", metric), cache.TTLMarket
	case SourceNameSocial:
		return cache.SocialKey("aggregate", metric), cache.TTLSocial
	default:
		return cache.OnChainKey("zcash", metric), cache.TTLOnChain
	}
}
