package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gely25/cronograma/internal/domain"
)

// RuleStore manages the singleton notification policy. Policy edits are
// rare and human-triggered; last write wins, with atomicity left to the
// persistence layer.
type RuleStore struct {
	repo Repository
}

// NewRuleStore creates a rule store backed by the given repository.
func NewRuleStore(repo Repository) *RuleStore {
	return &RuleStore{repo: repo}
}

// Get returns the current policy. The repository creates a default policy
// on first access, so Get never reports a missing row.
func (s *RuleStore) Get(ctx context.Context) (*domain.Policy, error) {
	policy, err := s.repo.GetPolicy(ctx)
	if err != nil {
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return policy, nil
}

// Update applies a partial patch to the current policy and persists it.
func (s *RuleStore) Update(ctx context.Context, patch domain.PolicyPatch) (*domain.Policy, error) {
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if patch.IsEmpty() {
		return current, nil
	}

	updated := patch.Apply(*current)
	updated.UpdatedAt = time.Now()

	if err := s.repo.SavePolicy(ctx, &updated); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}

	slog.Info("notification policy updated",
		"advance_enabled", updated.AdvanceEnabled,
		"advance_lead_days", updated.AdvanceLeadDays,
		"day_of_enabled", updated.DayOfEnabled,
	)

	return &updated, nil
}

// Effective returns the current policy with optional overrides applied,
// without persisting anything. Used for what-if projection previews.
func (s *RuleStore) Effective(ctx context.Context, overrides *domain.PolicyPatch) (*domain.Policy, error) {
	policy, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if overrides == nil {
		return policy, nil
	}
	merged := overrides.Apply(*policy)
	return &merged, nil
}

// leadFor returns the configured lead time for a reminder kind. Manual
// sends have no lead; they are scheduled for immediate delivery.
func leadFor(policy *domain.Policy, kind ReminderKind) time.Duration {
	switch kind {
	case KindAdvance:
		return time.Duration(policy.AdvanceLeadDays) * 24 * time.Hour
	case KindDayOf:
		return time.Duration(policy.DayOfLeadMinutes) * time.Minute
	default:
		return 0
	}
}

// enabledKinds lists the reminder kinds the policy generates, in a stable
// order.
func enabledKinds(policy *domain.Policy) []ReminderKind {
	kinds := make([]ReminderKind, 0, 2)
	if policy.AdvanceEnabled {
		kinds = append(kinds, KindAdvance)
	}
	if policy.DayOfEnabled {
		kinds = append(kinds, KindDayOf)
	}
	return kinds
}
