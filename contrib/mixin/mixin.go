// Package mixin provides optional mixins that pair schema fragments with
// privacy policies.
//
// Available mixins:
//   - TenantID: Adds a tenant_id field and isolates entities per tenant
//   - SoftDelete: Adds a deleted_at field and hides trashed entities
//
// Usage:
//
//	import "github.com/pytsite/odm/contrib/mixin"
//
//	func (Invoice) Setup(s *odm.Schema) {
//	    s.Mixin(mixin.TenantID{}, mixin.SoftDelete{})
//	    s.Field(field.Float("total"))
//	}
//
//	func (Invoice) Policy() privacy.QueryMutationRule {
//	    return privacy.NewPolicies(mixin.TenantID{}, mixin.SoftDelete{})
//	}
//
// The policies of a mixin only apply when the model returns them from its
// Policy method.
package mixin

import (
	"context"
	"time"

	"github.com/pytsite/odm"
	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/privacy"
	"github.com/pytsite/odm/schema/field"
	"github.com/pytsite/odm/schema/index"
	"github.com/pytsite/odm/schema/mixin"
)

// Field names used by the mixins.
const (
	TenantField    = "tenant_id"
	DeletedAtField = "deleted_at"
)

// TenantID adds a tenant_id field for multi-tenancy support. Its policy
// restricts queries to the tenant of the viewer and only lets viewers
// mutate entities of their own tenant.
//
// For different naming conventions, create your own mixin:
//
//	type WorkspaceID struct{ mixin.Schema }
//
//	func (WorkspaceID) Fields() []field.Field {
//	    return []field.Field{field.String("workspace_id").NonEmpty()}
//	}
type TenantID struct{ mixin.Schema }

// Fields of the TenantID mixin.
func (TenantID) Fields() []field.Field {
	return []field.Field{
		field.String(TenantField).NonEmpty(),
	}
}

// Indexes of the TenantID mixin.
func (TenantID) Indexes() []index.Index {
	return []index.Index{index.Fields(TenantField)}
}

// Policy returns the tenant isolation policy.
func (TenantID) Policy() privacy.QueryMutationRule {
	return privacy.Policy{
		Query: privacy.QueryPolicy{
			privacy.TenantQueryRule(),
			privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
				f.WhereP(dialect.EQ(TenantField, privacy.ViewerFromContext(ctx).GetTenantID()))
				return privacy.Skip
			}),
		},
		Mutation: privacy.MutationPolicy{
			privacy.DenyIfNoViewer(),
			privacy.TenantRule(TenantField),
			privacy.AlwaysDenyRule(),
		},
	}
}

// tenant id mixin must implement `Mixin` interface.
var _ mixin.Mixin = (*TenantID)(nil)

// SoftDelete adds a deleted_at field for soft deletion. Entities are not
// removed by Trash but marked with a deletion time, and its policy hides
// them from finders unless the context was made with IncludeTrashed.
type SoftDelete struct{ mixin.Schema }

// epoch is the deleted_at value of entities that are not trashed.
var epoch = time.Unix(0, 0).UTC()

// Fields of the SoftDelete mixin.
func (SoftDelete) Fields() []field.Field {
	return []field.Field{field.DateTime(DeletedAtField)}
}

// Indexes of the SoftDelete mixin.
func (SoftDelete) Indexes() []index.Index {
	return []index.Index{index.Fields(DeletedAtField)}
}

type trashedKey struct{}

// IncludeTrashed returns a context whose queries also return trashed
// entities.
func IncludeTrashed(ctx context.Context) context.Context {
	return context.WithValue(ctx, trashedKey{}, true)
}

// Policy returns the policy filtering out trashed entities.
func (SoftDelete) Policy() privacy.QueryMutationRule {
	return privacy.Policy{
		Query: privacy.QueryPolicy{
			privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
				if include, _ := ctx.Value(trashedKey{}).(bool); !include {
					f.WhereP(dialect.EQ(DeletedAtField, epoch))
				}
				return privacy.Skip
			}),
		},
	}
}

// soft delete mixin must implement `Mixin` interface.
var _ mixin.Mixin = (*SoftDelete)(nil)

// Trash marks e as deleted at now and saves it.
func Trash(ctx context.Context, e *odm.Entity, now time.Time) error {
	if err := e.Set(ctx, DeletedAtField, now); err != nil {
		return err
	}
	return e.Save(ctx)
}

// Restore clears the deletion mark of e and saves it.
func Restore(ctx context.Context, e *odm.Entity) error {
	if err := e.Set(ctx, DeletedAtField, epoch); err != nil {
		return err
	}
	return e.Save(ctx)
}

// IsTrashed reports whether e is marked as deleted.
func IsTrashed(ctx context.Context, e *odm.Entity) (bool, error) {
	v, err := e.Get(ctx, DeletedAtField)
	if err != nil {
		return false, err
	}
	t, _ := v.(time.Time)
	return !t.IsZero() && !t.Equal(epoch), nil
}
