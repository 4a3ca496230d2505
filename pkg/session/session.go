// Package session persists per-conversation context in Redis so agents can
// resolve follow-up queries against what a user already asked. Each session
// keeps a bounded history of queries with their parsed intent and entities;
// extraction distills the recent records into the context a new query
// should inherit.
package session

import (
	"fmt"
	"time"
)

// Entity types recognized across the platform. Parsers attach them to
// queries; the session store only groups and counts them.
const (
	EntityCrypto    = "crypto"
	EntityMetric    = "metric"
	EntityTimeRange = "time_range"
	EntityExchange  = "exchange"
)

// historyCap bounds a session's query history. Older records are dropped
// as new queries arrive.
const historyCap = 10

// recentWindow is how many of the latest records extraction looks at.
const recentWindow = 3

// Entity is one piece of information extracted from a query, such as an
// asset symbol or a metric name.
type Entity struct {
	Type  string `json:"type"`
	Value string `json:"value"`

	// Source is "context" when the entity was inherited from session
	// history rather than parsed from the current query.
	Source string `json:"source,omitempty"`

	// Resolved carries the concrete window for time_range entities.
	Resolved *TimeRange `json:"resolved,omitempty"`
}

// TimeRange is a time window in Unix seconds.
type TimeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r TimeRange) String() string {
	return fmt.Sprintf("%d..%d", r.Start, r.End)
}

// Intent is the classified intent of a query as produced by an external
// parser. Only the parts the session store reasons about are modeled;
// anything else the parser emits stays on the message payload.
type Intent struct {
	Type      string     `json:"type,omitempty"`
	Metrics   []string   `json:"metrics,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
}

// QueryRecord is one remembered query with its parse results.
type QueryRecord struct {
	Query     string    `json:"query"`
	Intent    Intent    `json:"intent"`
	Entities  []Entity  `json:"entities,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Context is the stored state of one conversation.
type Context struct {
	SessionID    string        `json:"session_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUpdated  time.Time     `json:"last_updated"`
	QueryHistory []QueryRecord `json:"query_history"`
}

// recent returns the last n history records, oldest first.
func (c *Context) recent(n int) []QueryRecord {
	if len(c.QueryHistory) <= n {
		return c.QueryHistory
	}
	return c.QueryHistory[len(c.QueryHistory)-n:]
}
