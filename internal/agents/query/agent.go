// Package query implements the query agent, the session-aware front of
// the analysis chain. It owns no analysis of its own: it enriches parsed
// queries with conversation context, dispatches them for data retrieval,
// steers the results through narrative generation, and answers the caller
// under the correlation id the request arrived with.
package query

import (
	"context"
	"time"

	"github.com/chimera-analytics/chimera/pkg/agent"
	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/messaging"
	"github.com/chimera-analytics/chimera/pkg/observability"
	"github.com/chimera-analytics/chimera/pkg/scheduler"
	"github.com/chimera-analytics/chimera/pkg/session"
)

// Correlation-context keys carried across the request chain.
const (
	ctxSessionID = "session_id"
	ctxUserID    = "user_id"
	ctxQuery     = "query"
	ctxRequestID = "request_correlation_id"
)

const reapJobID = "reap_correlations"

// reapInterval is how often stale request correlations are swept out.
const reapInterval = time.Hour

// Agent is the query agent.
type Agent struct {
	core     *agent.Agent
	sessions *session.Store
	o11y     observability.Observability
}

// New wires the query agent onto the bus and mounts its periodic
// correlation sweep on sched. The scheduler is not started here; the
// process owns its lifecycle.
func New(bus messaging.Bus, sessions *session.Store, sched *scheduler.Scheduler, o11y observability.Observability) (*Agent, error) {
	a := &Agent{
		core:     agent.New(AgentName, bus, o11y),
		sessions: sessions,
		o11y:     o11y,
	}

	a.core.RegisterRoutes(
		agent.Route{
			Pattern:    KeyQueryRequest,
			NewPayload: func() any { return &QueryRequest{} },
			Handler:    a.handleQueryRequest,
		},
		agent.Route{Pattern: KeyAnalysisResult, Handler: a.handleAnalysisResult},
		agent.Route{
			Pattern:    KeyAnalysisError,
			NewPayload: func() any { return &errdefs.ErrorResponse{} },
			Handler:    a.handleAnalysisError,
		},
		agent.Route{Pattern: KeyNarrativeGenerated, Handler: a.handleNarrativeGenerated},
	)

	if err := sched.AddJob(reapJobID, reapInterval, func(context.Context) error {
		a.core.CleanupOldCorrelations(0)
		return nil
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Run consumes from the bus until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	return a.core.Run(ctx)
}

// Close releases the agent's bus resources.
func (a *Agent) Close() error {
	return a.core.Close()
}

// handleQueryRequest enriches the request with session context, records it
// in the conversation history, and dispatches data retrieval. The reply
// comes back on the analysis-result key under a fresh chain correlation
// id; the caller's own correlation id rides along in the correlation
// context so the final answer can carry it.
func (a *Agent) handleQueryRequest(ctx context.Context, delivery *messaging.Delivery) error {
	req := delivery.Payload.(*QueryRequest)
	if err := req.validate(); err != nil {
		return err
	}

	// A broken session store degrades the answer, it does not block it:
	// the query proceeds without conversation history.
	entities := req.Entities
	extracted, err := a.sessions.ExtractForQuery(ctx, req.SessionID)
	if err != nil {
		a.o11y.Logger().Warn(ctx, "session context unavailable",
			observability.String("session_id", req.SessionID),
			observability.Error(err),
		)
	} else {
		entities = extracted.MergeInto(entities)
	}

	if _, err := a.sessions.AppendQuery(ctx, req.SessionID, req.Query, req.Intent, entities); err != nil {
		a.o11y.Logger().Warn(ctx, "session history update failed",
			observability.String("session_id", req.SessionID),
			observability.Error(err),
		)
	}

	retrieval := DataRetrievalRequest{
		Query:     req.Query,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Intent:    req.Intent,
		Entities:  entities,
		Sources:   requiredSources(req.Intent.Metrics),
	}
	chainID, err := a.core.PublishRequest(ctx, retrieval, KeyDataRequest, KeyAnalysisResult, map[string]any{
		ctxSessionID: req.SessionID,
		ctxUserID:    req.UserID,
		ctxQuery:     req.Query,
		ctxRequestID: delivery.Metadata.CorrelationID,
	})
	if err != nil {
		return err
	}

	a.o11y.Logger().Info(ctx, "query dispatched for retrieval",
		observability.String("session_id", req.SessionID),
		observability.String("chain_correlation_id", chainID),
		observability.Int("sources", len(retrieval.Sources)),
	)
	return nil
}

// handleAnalysisResult forwards finished analysis to the narrative agent
// under the same chain correlation id. Results whose correlation entry
// has been lost (a restart, a reaped chain) still get a narrative; only
// the original query text is missing from it.
func (a *Agent) handleAnalysisResult(ctx context.Context, delivery *messaging.Delivery) error {
	chainID := delivery.Metadata.CorrelationID
	entry, ok := a.core.CorrelationContext(chainID)
	if !ok {
		a.o11y.Logger().Warn(ctx, "analysis result without correlation context",
			observability.String("correlation_id", chainID),
		)
	}

	results, err := forwardableBody(delivery.Body)
	if err != nil {
		return err
	}

	narrative := NarrativeRequest{
		AnalysisResults: results,
		OriginalQuery:   contextString(entry, ctxQuery),
		ExpertiseLevel:  defaultExpertiseLevel,
	}
	if _, err := a.core.PublishEvent(ctx, narrative, KeyNarrativeRequest, chainID); err != nil {
		return err
	}

	a.o11y.Logger().Info(ctx, "narrative requested",
		observability.String("correlation_id", chainID),
	)
	return nil
}

// handleNarrativeGenerated closes the chain: the finished narrative goes
// back to the caller on the query-response key under the correlation id
// the original request arrived with, and the chain's correlation entry is
// dropped.
func (a *Agent) handleNarrativeGenerated(ctx context.Context, delivery *messaging.Delivery) error {
	chainID := delivery.Metadata.CorrelationID
	entry, ok := a.core.CorrelationContext(chainID)
	if !ok {
		a.o11y.Logger().Warn(ctx, "narrative without correlation context",
			observability.String("correlation_id", chainID),
		)
	}

	narrative, err := forwardableBody(delivery.Body)
	if err != nil {
		return err
	}

	response := QueryResponse{
		SessionID: contextString(entry, ctxSessionID),
		UserID:    contextString(entry, ctxUserID),
		Query:     contextString(entry, ctxQuery),
		Narrative: narrative,
	}
	if err := a.core.PublishResponse(ctx, response, KeyQueryResponse, requestID(entry, chainID)); err != nil {
		return err
	}
	a.core.ClearCorrelation(chainID)

	a.o11y.Logger().Info(ctx, "query answered",
		observability.String("session_id", response.SessionID),
		observability.String("correlation_id", chainID),
	)
	return nil
}

// handleAnalysisError forwards the failure envelope to the caller on the
// query-error key and abandons the chain.
func (a *Agent) handleAnalysisError(ctx context.Context, delivery *messaging.Delivery) error {
	chainID := delivery.Metadata.CorrelationID
	entry, _ := a.core.CorrelationContext(chainID)

	failure := delivery.Payload.(*errdefs.ErrorResponse)
	if err := a.core.PublishResponse(ctx, failure, KeyQueryError, requestID(entry, chainID)); err != nil {
		return err
	}
	a.core.ClearCorrelation(chainID)

	a.o11y.Logger().Warn(ctx, "analysis failed, error forwarded",
		observability.String("correlation_id", chainID),
		observability.String("error_code", string(failure.Error.Code)),
	)
	return nil
}

// requestID is the correlation id the caller expects on the answer: the
// one its request arrived with. Chains whose entry was lost answer under
// the chain id instead.
func requestID(entry agent.CorrelationEntry, chainID string) string {
	if id := contextString(entry, ctxRequestID); id != "" {
		return id
	}
	return chainID
}

func contextString(entry agent.CorrelationEntry, key string) string {
	s, _ := entry.Context[key].(string)
	return s
}
