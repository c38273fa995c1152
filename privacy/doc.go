// Package privacy provides the rule types evaluated before entities are
// saved, deleted or queried.
//
// A model opts in by returning a rule from its Policy method:
//
//	func (Article) Policy() privacy.QueryMutationRule {
//	    return privacy.Policy{
//	        Mutation: privacy.MutationPolicy{
//	            privacy.DenyIfNoViewer(),
//	            privacy.HasRole("editor"),
//	            privacy.IsOwner("author"),
//	            privacy.AlwaysDenyRule(),
//	        },
//	        Query: privacy.QueryPolicy{
//	            privacy.FilterFunc(func(ctx context.Context, f privacy.Filter) error {
//	                f.WhereP(dialect.EQ("status", "published"))
//	                return privacy.Skip
//	            }),
//	        },
//	    }
//	}
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a decision:
//
//   - Allow stops the evaluation and grants access.
//   - Deny stops the evaluation and refuses access.
//   - Skip (or nil) moves on to the next rule.
//
// When every rule skips, access is granted. End a policy with
// AlwaysDenyRule to make it deny by default.
//
// A decision attached with DecisionContext bypasses the policies of every
// model, which is how system tasks run unrestricted:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
//
// # Filters
//
// Query rules cannot see entities. Instead, a rule built with FilterFunc
// adds criteria to the query, and the finder ANDs them with its own.
// OwnerQueryRule uses this to restrict results to the viewer's documents.
//
// # Viewers
//
// The Viewer interface represents the authenticated caller. Put one on the
// context with WithViewer; DenyIfNoViewer, HasRole, HasAnyRole, IsOwner and
// TenantRule read it back with ViewerFromContext. SimpleViewer covers the
// common case:
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID: "u1",
//	    Roles:  []string{"editor"},
//	})
package privacy
