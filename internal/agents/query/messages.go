package query

import (
	"encoding/json"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/session"
)

// AgentName identifies the query agent on the bus.
const AgentName = "query_agent"

// Routing keys of the query flow.
const (
	KeyQueryRequest       = "query.request"
	KeyQueryResponse      = "query.response"
	KeyQueryError         = "query.error"
	KeyDataRequest        = "data_retrieval.request"
	KeyAnalysisResult     = "analysis.result"
	KeyAnalysisError      = "analysis.error"
	KeyNarrativeRequest   = "narrative.request"
	KeyNarrativeGenerated = "narrative.generated"
)

// Source types a data-retrieval request can name.
const (
	SourceBlockchain = "DATA_SOURCE_BLOCKCHAIN"
	SourceExchange   = "DATA_SOURCE_EXCHANGE"
	SourceSocial     = "DATA_SOURCE_SOCIAL"
)

// defaultExpertiseLevel shapes narrative tone when the request does not
// say who is reading.
const defaultExpertiseLevel = "intermediate"

// QueryRequest is an inbound parsed query. Parsing happens upstream: the
// request already carries the classified intent and extracted entities.
type QueryRequest struct {
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id"`
	Query     string           `json:"query"`
	Intent    session.Intent   `json:"intent"`
	Entities  []session.Entity `json:"entities,omitempty"`
}

func (r *QueryRequest) validate() error {
	if r.Query == "" {
		return errdefs.NewQuery("query text is required")
	}
	if r.SessionID == "" {
		return errdefs.NewQuery("session id is required").
			WithSuggestedAction("include a session_id so follow-up questions can build on this one")
	}
	return nil
}

// DataSource names one backend the retrieval agent should query.
type DataSource struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// DataRetrievalRequest asks the retrieval agent for the data a query
// needs, with the session-enriched entities attached.
type DataRetrievalRequest struct {
	Query     string           `json:"query"`
	UserID    string           `json:"user_id"`
	SessionID string           `json:"session_id"`
	Intent    session.Intent   `json:"intent"`
	Entities  []session.Entity `json:"entities,omitempty"`
	Sources   []DataSource     `json:"sources"`
}

// NarrativeRequest asks the narrative agent to turn analysis results into
// a report. The results travel opaquely; only the narrative agent reads
// their structure.
type NarrativeRequest struct {
	AnalysisResults json.RawMessage `json:"analysis_results,omitempty"`
	OriginalQuery   string          `json:"original_query"`
	ExpertiseLevel  string          `json:"user_expertise_level,omitempty"`
}

// QueryResponse is the finished answer published back to the caller.
type QueryResponse struct {
	SessionID string          `json:"session_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Query     string          `json:"query,omitempty"`
	Narrative json.RawMessage `json:"narrative,omitempty"`
}

// Metric classes, mapping the metrics a query can ask about onto the data
// sources able to serve them.
var (
	blockchainMetrics = map[string]bool{
		"shielded_transactions":    true,
		"transparent_transactions": true,
		"shielded_pool_size":       true,
		"block_height":             true,
		"hash_rate":                true,
		"difficulty":               true,
		"transaction_fees":         true,
		"transaction_volume":       true,
	}
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

// requiredSources maps the requested metrics onto data sources. A query
// naming no metrics at all defaults to the blockchain source.
func requiredSources(metrics []string) []DataSource {
	var blockchain, market, social bool
	for _, metric := range metrics {
		switch {
		case blockchainMetrics[metric]:
			blockchain = true
		case marketMetrics[metric]:
			market = true
		case socialMetrics[metric]:
			social = true
		}
	}
	if len(metrics) == 0 {
		blockchain = true
	}

	var sources []DataSource
	if blockchain {
		sources = append(sources, DataSource{Type: SourceBlockchain, Name: "zcash_node"})
	}
	if market {
		sources = append(sources, DataSource{Type: SourceExchange, Name: "exchanges"})
	}
	if social {
		sources = append(sources, DataSource{Type: SourceSocial, Name: "social_platforms"})
	}
	return sources
}

// forwardableBody strips the transport metadata sub-record from a raw
// message body so the content can be embedded in the next hop's payload.
func forwardableBody(body []byte) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, errdefs.NewDataProcessing("malformed message body").WithCause(err)
	}
	delete(fields, "metadata")
	forwarded, err := json.Marshal(fields)
	if err != nil {
		return nil, errdefs.NewDataProcessing("re-encode message body").WithCause(err)
	}
	return forwarded, nil
}
