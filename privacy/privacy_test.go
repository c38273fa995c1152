package privacy_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/privacy"
)

type mockMutation struct {
	model    string
	op       privacy.Op
	field    string
	value    any
	hasField bool
}

func (m *mockMutation) Model() string  { return m.model }
func (m *mockMutation) Op() privacy.Op { return m.op }

func (m *mockMutation) Field(name string) (any, bool) {
	if m.hasField && name == m.field {
		return m.value, true
	}
	return nil, false
}

type mockQuery struct {
	model string
	preds []dialect.Predicate
}

func (q *mockQuery) Model() string { return q.model }

func (q *mockQuery) WhereP(ps ...dialect.Predicate) { q.preds = append(q.preds, ps...) }

// plainQuery does not implement privacy.Filter.
type plainQuery struct{}

func (plainQuery) Model() string { return "article" }

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"allowf", privacy.Allowf("viewer %s", "u1"), privacy.Allow},
		{"denyf", privacy.Denyf("viewer %s", "u1"), privacy.Deny},
		{"skipf", privacy.Skipf("viewer %s", "u1"), privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
			assert.Contains(t, tt.err.Error(), "viewer u1")
		})
	}
}

func TestOp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op   privacy.Op
		want string
	}{
		{privacy.OpCreate, "create"},
		{privacy.OpUpdate, "update"},
		{privacy.OpDelete, "delete"},
		{privacy.OpCreate | privacy.OpUpdate, "create|update"},
		{privacy.Op(0), "Op(0)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
	assert.True(t, privacy.OpUpdate.Is(privacy.OpCreate|privacy.OpUpdate))
	assert.False(t, privacy.OpDelete.Is(privacy.OpCreate|privacy.OpUpdate))
}

func TestAlwaysRules(t *testing.T) {
	ctx := context.Background()
	m := &mockMutation{op: privacy.OpCreate}

	assert.ErrorIs(t, privacy.AlwaysAllowRule().EvalQuery(ctx, &mockQuery{}), privacy.Allow)
	assert.ErrorIs(t, privacy.AlwaysAllowRule().EvalMutation(ctx, m), privacy.Allow)
	assert.ErrorIs(t, privacy.AlwaysDenyRule().EvalQuery(ctx, &mockQuery{}), privacy.Deny)
	assert.ErrorIs(t, privacy.AlwaysDenyRule().EvalMutation(ctx, m), privacy.Deny)
}

func TestContextQueryMutationRule(t *testing.T) {
	type flagKey struct{}
	rule := privacy.ContextQueryMutationRule(func(ctx context.Context) error {
		if ctx.Value(flagKey{}) != nil {
			return privacy.Allow
		}
		return privacy.Deny
	})

	ctx := context.WithValue(context.Background(), flagKey{}, true)
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Allow)
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), &mockMutation{}), privacy.Deny)
}

func TestOnMutationOperation(t *testing.T) {
	rule := privacy.OnMutationOperation(privacy.AlwaysDenyRule(), privacy.OpUpdate|privacy.OpDelete)
	ctx := context.Background()

	tests := []struct {
		op   privacy.Op
		want error
	}{
		{privacy.OpCreate, privacy.Skip},
		{privacy.OpUpdate, privacy.Deny},
		{privacy.OpDelete, privacy.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{op: tt.op}), tt.want)
		})
	}
}

func TestDenyMutationOperationRule(t *testing.T) {
	rule := privacy.DenyMutationOperationRule(privacy.OpDelete)
	ctx := context.Background()

	err := rule.EvalMutation(ctx, &mockMutation{op: privacy.OpDelete})
	require.ErrorIs(t, err, privacy.Deny)
	assert.Contains(t, err.Error(), "operation delete is not allowed")
	assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{op: privacy.OpCreate}), privacy.Skip)
}

func TestDecisionContext(t *testing.T) {
	t.Run("skip_and_nil_keep_parent", func(t *testing.T) {
		parent := context.Background()
		assert.Equal(t, parent, privacy.DecisionContext(parent, nil))
		assert.Equal(t, parent, privacy.DecisionContext(parent, privacy.Skip))
		_, ok := privacy.DecisionFromContext(parent)
		assert.False(t, ok)
	})

	t.Run("allow_becomes_nil", func(t *testing.T) {
		ctx := privacy.DecisionContext(context.Background(), privacy.Allow)
		decision, ok := privacy.DecisionFromContext(ctx)
		assert.True(t, ok)
		assert.NoError(t, decision)
	})

	t.Run("deny_is_kept", func(t *testing.T) {
		ctx := privacy.DecisionContext(context.Background(), privacy.Denyf("maintenance"))
		decision, ok := privacy.DecisionFromContext(ctx)
		assert.True(t, ok)
		assert.ErrorIs(t, decision, privacy.Deny)
	})
}

func TestQueryPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("empty_allows", func(t *testing.T) {
		assert.NoError(t, privacy.QueryPolicy{}.EvalQuery(ctx, &mockQuery{}))
	})

	t.Run("first_decision_wins", func(t *testing.T) {
		var calls int
		count := privacy.QueryRuleFunc(func(context.Context, privacy.Query) error {
			calls++
			return privacy.Skip
		})
		policy := privacy.QueryPolicy{count, privacy.AlwaysDenyRule(), count}
		assert.ErrorIs(t, policy.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil_is_skip", func(t *testing.T) {
		rule := privacy.QueryRuleFunc(func(context.Context, privacy.Query) error { return nil })
		policy := privacy.QueryPolicy{rule, privacy.AlwaysAllowRule()}
		assert.ErrorIs(t, policy.EvalQuery(ctx, &mockQuery{}), privacy.Allow)
	})
}

func TestMutationPolicy(t *testing.T) {
	ctx := context.Background()
	policy := privacy.MutationPolicy{
		privacy.DenyMutationOperationRule(privacy.OpDelete),
		privacy.MutationRuleFunc(func(_ context.Context, m privacy.Mutation) error {
			if v, ok := m.Field("title"); ok && v == "" {
				return privacy.Denyf("empty title")
			}
			return privacy.Skip
		}),
		privacy.AlwaysAllowRule(),
	}

	tests := []struct {
		name string
		m    *mockMutation
		want error
	}{
		{"delete_denied", &mockMutation{op: privacy.OpDelete}, privacy.Deny},
		{"empty_title_denied", &mockMutation{op: privacy.OpCreate, field: "title", value: "", hasField: true}, privacy.Deny},
		{"create_allowed", &mockMutation{op: privacy.OpCreate, field: "title", value: "x", hasField: true}, privacy.Allow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, policy.EvalMutation(ctx, tt.m), tt.want)
		})
	}
}

func TestPolicy(t *testing.T) {
	ctx := context.Background()
	p := privacy.Policy{
		Query:    privacy.QueryPolicy{privacy.AlwaysAllowRule()},
		Mutation: privacy.MutationPolicy{privacy.AlwaysDenyRule()},
	}
	assert.ErrorIs(t, p.EvalQuery(ctx, &mockQuery{}), privacy.Allow)
	assert.ErrorIs(t, p.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
}

type policyProvider struct {
	policy privacy.QueryMutationRule
}

func (p policyProvider) Policy() privacy.QueryMutationRule { return p.policy }

func TestPolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("allow_is_nil", func(t *testing.T) {
		policies := privacy.Policies{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}
		assert.NoError(t, policies.EvalQuery(ctx, &mockQuery{}))
		assert.NoError(t, policies.EvalMutation(ctx, &mockMutation{}))
	})

	t.Run("deny_is_returned", func(t *testing.T) {
		policies := privacy.Policies{privacy.Policy{}, privacy.AlwaysDenyRule()}
		assert.ErrorIs(t, policies.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
	})

	t.Run("context_decision_wins", func(t *testing.T) {
		policies := privacy.Policies{privacy.AlwaysDenyRule()}
		allowed := privacy.DecisionContext(ctx, privacy.Allow)
		assert.NoError(t, policies.EvalMutation(allowed, &mockMutation{}))
		denied := privacy.DecisionContext(ctx, privacy.Deny)
		assert.ErrorIs(t, privacy.Policies{privacy.AlwaysAllowRule()}.EvalQuery(denied, &mockQuery{}), privacy.Deny)
	})

	t.Run("new_policies_skips_nil", func(t *testing.T) {
		rule := privacy.NewPolicies(policyProvider{}, policyProvider{privacy.AlwaysDenyRule()})
		policies, ok := rule.(privacy.Policies)
		require.True(t, ok)
		assert.Len(t, policies, 1)
		assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
	})
}

func TestFilterFunc(t *testing.T) {
	ctx := context.Background()
	published := privacy.FilterFunc(func(_ context.Context, f privacy.Filter) error {
		f.WhereP(dialect.EQ("status", "published"))
		return privacy.Skip
	})

	t.Run("adds_predicates", func(t *testing.T) {
		q := &mockQuery{model: "article"}
		assert.ErrorIs(t, published.EvalQuery(ctx, q), privacy.Skip)
		require.Len(t, q.preds, 1)
		assert.Equal(t, dialect.EQ("status", "published"), q.preds[0])
	})

	t.Run("denies_without_filter_support", func(t *testing.T) {
		err := published.EvalQuery(ctx, plainQuery{})
		require.ErrorIs(t, err, privacy.Deny)
		assert.Contains(t, err.Error(), "does not support filtering")
		assert.ErrorIs(t, published.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
	})
}

func TestMutationRuleFunc(t *testing.T) {
	var seen privacy.Op
	rule := privacy.MutationRuleFunc(func(_ context.Context, m privacy.Mutation) error {
		seen = m.Op()
		return fmt.Errorf("custom: %w", privacy.Skip)
	})
	err := rule.EvalMutation(context.Background(), &mockMutation{op: privacy.OpUpdate})
	assert.True(t, errors.Is(err, privacy.Skip))
	assert.Equal(t, privacy.OpUpdate, seen)
}

func BenchmarkPolicies(b *testing.B) {
	ctx := context.Background()
	policies := privacy.Policies{
		privacy.Policy{
			Query: privacy.QueryPolicy{
				privacy.QueryRuleFunc(func(context.Context, privacy.Query) error { return privacy.Skip }),
				privacy.AlwaysAllowRule(),
			},
		},
	}
	q := &mockQuery{}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = policies.EvalQuery(ctx, q)
	}
}
