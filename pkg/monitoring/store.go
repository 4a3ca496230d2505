package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/chimera-analytics/chimera/pkg/errdefs"
	"github.com/chimera-analytics/chimera/pkg/observability"
)

// ruleKeyPrefix namespaces persisted rules. Rules have no TTL; they live
// until deleted.
const ruleKeyPrefix = "monitoring:rule:"

// RuleStore persists alert rules in Redis so the engine can be rebuilt at
// startup.
type RuleStore struct {
	client *redis.Client
	o11y   observability.Observability
}

// NewRuleStore wires a rule store onto an established Redis client.
func NewRuleStore(client *redis.Client, o11y observability.Observability) *RuleStore {
	return &RuleStore{client: client, o11y: o11y}
}

func ruleKey(ruleID string) string {
	return ruleKeyPrefix + ruleID
}

// SaveRule writes a rule, replacing any previous version.
func (s *RuleStore) SaveRule(ctx context.Context, rule Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return errdefs.NewDataProcessing("encode alert rule").
			WithDetail("rule_id", rule.ID).
			WithCause(err)
	}
	if err := s.client.Set(ctx, ruleKey(rule.ID), data, 0).Err(); err != nil {
		return ruleStoreErr("save alert rule", err)
	}
	s.o11y.Logger().Info(ctx, "alert rule saved",
		observability.String("rule_id", rule.ID),
	)
	return nil
}

// LoadRule reads one rule. An unknown id returns (nil, nil).
func (s *RuleStore) LoadRule(ctx context.Context, ruleID string) (*Rule, error) {
	data, err := s.client.Get(ctx, ruleKey(ruleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, ruleStoreErr("load alert rule", err)
	}
	var rule Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, errdefs.NewDataProcessing("stored alert rule is not valid JSON").
			WithDetail("rule_id", ruleID).
			WithCause(err)
	}
	return &rule, nil
}

// LoadRules reads every persisted rule, sorted by id. Corrupt entries are
// logged and skipped so one bad rule cannot keep an agent from starting.
func (s *RuleStore) LoadRules(ctx context.Context) ([]Rule, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, ruleKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, ruleStoreErr("scan alert rules", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, ruleStoreErr("load alert rules", err)
	}

	rules := make([]Rule, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue // deleted between SCAN and MGET
		}
		var rule Rule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			s.o11y.Logger().Warn(ctx, "skipping corrupt alert rule",
				observability.String("key", keys[i]),
				observability.Error(err),
			)
			continue
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// DeleteRule removes a rule.
func (s *RuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	if err := s.client.Del(ctx, ruleKey(ruleID)).Err(); err != nil {
		return ruleStoreErr("delete alert rule", err)
	}
	s.o11y.Logger().Info(ctx, "alert rule deleted",
		observability.String("rule_id", ruleID),
	)
	return nil
}

func ruleStoreErr(action string, err error) error {
	return errdefs.NewSystem(action + " failed").
		WithCode(errdefs.CodeDatabaseError).
		WithCause(err)
}
