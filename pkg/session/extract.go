package session

// Extracted is the distilled context a follow-up query inherits from a
// session's recent history.
type Extracted struct {
	// LastQuery is the most recent record, used for reference resolution
	// ("what about ETH?" inherits the previous question's shape).
	LastQuery *QueryRecord `json:"last_query,omitempty"`

	// RecentEntities are entities that recur across the recent records.
	RecentEntities []Entity `json:"recent_entities,omitempty"`

	// TimeRange is the most recent explicit time range in the window.
	TimeRange *TimeRange `json:"time_range,omitempty"`

	// Metrics are the metrics asked about recently, newest first,
	// deduplicated.
	Metrics []string `json:"metrics,omitempty"`

	// QueryCount is the total number of remembered queries.
	QueryCount int `json:"query_count"`
}

// sourceContext marks entities inherited from session history.
const sourceContext = "context"

// MergeInto fills gaps in a query's entities from the extracted context.
// Entities the current query already carries are never overwritten: a time
// range is inherited only when the query has none, and context metrics are
// added only when the query names no metric at all.
func (x Extracted) MergeInto(entities []Entity) []Entity {
	merged := make([]Entity, len(entities), len(entities)+1+len(x.Metrics))
	copy(merged, entities)

	hasTimeRange, hasMetric := false, false
	for _, e := range entities {
		switch e.Type {
		case EntityTimeRange:
			hasTimeRange = true
		case EntityMetric:
			hasMetric = true
		}
	}

	if !hasTimeRange && x.TimeRange != nil {
		r := *x.TimeRange
		merged = append(merged, Entity{
			Type:     EntityTimeRange,
			Value:    r.String(),
			Source:   sourceContext,
			Resolved: &r,
		})
	}
	if !hasMetric {
		for _, m := range x.Metrics {
			merged = append(merged, Entity{
				Type:   EntityMetric,
				Value:  m,
				Source: sourceContext,
			})
		}
	}
	return merged
}

// extract distills the history into the parts a new query cares about.
func (c *Context) extract() Extracted {
	out := Extracted{QueryCount: len(c.QueryHistory)}
	if n := len(c.QueryHistory); n > 0 {
		last := c.QueryHistory[n-1]
		out.LastQuery = &last
	}
	window := c.recent(recentWindow)
	out.RecentEntities = commonEntities(window)
	out.TimeRange = latestTimeRange(window)
	out.Metrics = recentMetrics(window)
	return out
}

// commonEntities returns entities appearing more than once across the
// window, keyed by type and value so "BTC the asset" and "BTC the exchange
// listing" stay distinct. Order follows first appearance.
func commonEntities(window []QueryRecord) []Entity {
	counts := make(map[string]int)
	data := make(map[string]Entity)
	var order []string
	for _, record := range window {
		for _, entity := range record.Entities {
			key := entity.Type + ":" + entity.Value
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
			data[key] = entity
		}
	}
	var common []Entity
	for _, key := range order {
		if counts[key] > 1 {
			common = append(common, data[key])
		}
	}
	return common
}

// latestTimeRange returns the newest explicit time range in the window.
func latestTimeRange(window []QueryRecord) *TimeRange {
	for i := len(window) - 1; i >= 0; i-- {
		if r := window[i].Intent.TimeRange; r != nil {
			cp := *r
			return &cp
		}
	}
	return nil
}

// recentMetrics returns the window's metrics newest first. The first
// occurrence of a metric wins.
func recentMetrics(window []QueryRecord) []string {
	var metrics []string
	seen := make(map[string]bool)
	for i := len(window) - 1; i >= 0; i-- {
		for _, m := range window[i].Intent.Metrics {
			if !seen[m] {
				seen[m] = true
				metrics = append(metrics, m)
			}
		}
	}
	return metrics
}
