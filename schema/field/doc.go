// Package field provides the typed value holders of ODM entities.
//
// Fields are declared with fluent builders and each entity owns one fresh
// instance per declared field:
//
//	field.String("title").NonEmpty().MaxLength(100)
//	field.Enum("status").Values("draft", "published").Default("draft")
//	field.Int("views").Min(0)
//	field.DateTime("publish_time")
//	field.UniqueList("tags")
//	field.Dict("options").Keys("theme")
//	field.Ref("author", "user")
//	field.RefList("images", "file").SortBy("position", false)
//
// # Values
//
// Set coerces its argument to the type of the field and fails with a
// *ValidationError when it cannot. Strings are stored in Unicode
// normalization form C, times are stored in UTC, and integers of any
// width are widened to int64.
//
// Get returns the current value. Date-time fields accept formatting
// options:
//
//	f.Get(ctx, field.Ago())           // "3 hours ago"
//	f.Get(ctx, field.PrettyDate())    // "2 January 2006"
//	f.Get(ctx, field.Layout(time.Kitchen))
//
// # References
//
// Reference fields store dialect.Ref handles. Once a Resolver is attached
// they accept entities and "model:id" strings, and Get returns the
// dereferenced targets. A single reference whose target is gone resets
// itself to empty on read. Reference lists leave such targets out of the
// result without changing the stored handles. Use the Handles option to
// read the handles without touching storage.
//
// # Declaration errors
//
// Builders never panic. The first declaration error is recorded and
// returned by Err, and schemas report it when the field is added.
package field
