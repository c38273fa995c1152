package odm_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytsite/odm"
	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/privacy"
	"github.com/pytsite/odm/schema/field"
)

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		assert.Equal(t, "odm: post not found (id=42)", odm.NewNotFoundError("post", "42").Error())
		assert.Equal(t, "odm: post not found", odm.NewNotFoundError("post", "").Error())
	})

	t.Run("Accessors", func(t *testing.T) {
		err := odm.NewNotFoundError("post", "42")
		assert.Equal(t, "post", err.Model())
		assert.Equal(t, "42", err.ID())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := odm.NewNotFoundError("tag", "1")
		assert.True(t, errors.Is(err, odm.ErrNotFound))
		assert.True(t, odm.IsNotFound(err))
		assert.True(t, odm.IsNotFound(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, odm.IsNotFound(odm.ErrNotFound))
		assert.False(t, odm.IsNotFound(errors.New("other error")))
		assert.False(t, odm.IsNotFound(nil))
	})
}

func TestSchemaError(t *testing.T) {
	err := &odm.SchemaError{Model: "post", Err: odm.ErrUnknownField}
	assert.Equal(t, "odm: schema post: odm: field not defined", err.Error())
	assert.ErrorIs(t, err, odm.ErrUnknownField)
	assert.True(t, odm.IsSchemaError(fmt.Errorf("wrapper: %w", err)))
	assert.False(t, odm.IsSchemaError(odm.ErrUnknownField))
	assert.False(t, odm.IsSchemaError(nil))

	anon := &odm.SchemaError{Err: errors.New("boom")}
	assert.Equal(t, "odm: schema: boom", anon.Error())
}

func TestCacheError(t *testing.T) {
	tests := []struct {
		name string
		err  *odm.CacheError
		want string
	}{
		{"put", &odm.CacheError{Model: "post", ID: "1", Op: "put"}, "odm: cache: post:1 is already cached"},
		{"remove", &odm.CacheError{Model: "post", ID: "1", Op: "remove"}, "odm: cache: post:1 is not cached"},
		{"remove_new", &odm.CacheError{Model: "post", Op: "remove"}, "odm: cache: cannot remove a new post"},
		{"other", &odm.CacheError{Model: "post", ID: "1", Op: "get"}, "odm: cache: get post:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.True(t, odm.IsCacheError(tt.err))
		})
	}
	assert.False(t, odm.IsCacheError(nil))
}

func TestValidationError(t *testing.T) {
	err := &odm.ValidationError{Field: "title", Err: field.ErrEmpty}
	assert.True(t, odm.IsValidationError(err))
	assert.True(t, odm.IsValidationError(fmt.Errorf("wrapper: %w", err)))
	assert.ErrorIs(t, err, field.ErrEmpty)
	assert.False(t, odm.IsValidationError(errors.New("other error")))
}

func TestConstraintError(t *testing.T) {
	err := &dialect.ConstraintError{Collection: "users", Index: "login_asc"}
	assert.True(t, odm.IsConstraintError(fmt.Errorf("wrapper: %w", err)))
	assert.False(t, odm.IsConstraintError(errors.New("other error")))
	assert.False(t, odm.IsConstraintError(nil))
}

func TestAggregateError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := &odm.AggregateError{Errors: []error{errors.New("a"), errors.New("b")}}
		assert.Equal(t, "odm: multiple errors:\n  [1] a\n  [2] b", err.Error())
		assert.Equal(t, "odm: no errors", (&odm.AggregateError{}).Error())
		assert.Equal(t, "a", (&odm.AggregateError{Errors: []error{errors.New("a")}}).Error())
	})

	t.Run("NewAggregateError", func(t *testing.T) {
		assert.NoError(t, odm.NewAggregateError(nil, nil))

		single := errors.New("single")
		assert.Equal(t, single, odm.NewAggregateError(nil, single))

		err := odm.NewAggregateError(odm.ErrDeleted, nil, odm.ErrHasChildren)
		var agg *odm.AggregateError
		require.ErrorAs(t, err, &agg)
		assert.Len(t, agg.Errors, 2)
		assert.ErrorIs(t, err, odm.ErrDeleted)
		assert.ErrorIs(t, err, odm.ErrHasChildren)
	})
}

func TestOperationErrors(t *testing.T) {
	cause := errors.New("cause")

	t.Run("QueryError", func(t *testing.T) {
		err := odm.NewQueryError("post", "count", cause)
		assert.Equal(t, "odm: querying post (count): cause", err.Error())
		assert.Equal(t, "odm: querying post: cause", (&odm.QueryError{Model: "post", Err: cause}).Error())
		assert.ErrorIs(t, err, cause)
		assert.True(t, odm.IsQueryError(err))
		assert.False(t, odm.IsQueryError(cause))
	})

	t.Run("MutationError", func(t *testing.T) {
		err := odm.NewMutationError("post", "update", cause)
		assert.Equal(t, "odm: update post: cause", err.Error())
		assert.ErrorIs(t, err, cause)
		assert.True(t, odm.IsMutationError(err))
		assert.False(t, odm.IsMutationError(nil))
	})

	t.Run("PrivacyError", func(t *testing.T) {
		err := odm.NewPrivacyError("post", "delete", privacy.Denyf("not owner"))
		assert.Equal(t, "odm: privacy denied delete on post: not owner: odm/privacy: deny rule", err.Error())
		assert.ErrorIs(t, err, privacy.Deny)
		assert.True(t, odm.IsPrivacyError(err))
		assert.Equal(t, "odm: privacy denied find on post", (&odm.PrivacyError{Model: "post", Op: "find"}).Error())
	})
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		odm.ErrNotFound,
		odm.ErrDeleted,
		odm.ErrUnknownModel,
		odm.ErrUnknownField,
		odm.ErrHasChildren,
		odm.ErrInvalidReference,
	}
	for i, a := range sentinels {
		assert.Contains(t, a.Error(), "odm: ")
		for j, b := range sentinels {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v is %v", a, b)
			}
		}
	}
}
