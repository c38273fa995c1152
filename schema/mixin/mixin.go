// Package mixin provides reusable schema fragments for ODM models.
//
// A mixin is a set of fields and indexes that can be applied to several
// models. Embed Schema and override the methods you need:
//
//	type Rated struct {
//	    mixin.Schema
//	}
//
//	func (Rated) Fields() []field.Field {
//	    return []field.Field{
//	        field.Float("rating").Min(0).Max(5),
//	        field.Int("votes").Min(0),
//	    }
//	}
//
// Mixins are applied from a model's Setup:
//
//	func (Article) Setup(s *odm.Schema) {
//	    s.Mixin(mixin.Publishable{}, mixin.Author{Model: "user"})
//	    s.Field(field.String("title").NonEmpty())
//	}
//
// Field builders are stateful, so Fields must return new builders on every
// call.
package mixin

import (
	"github.com/pytsite/odm/schema/field"
	"github.com/pytsite/odm/schema/index"
)

// Mixin is the interface of schema fragments.
type Mixin interface {
	Fields() []field.Field
	Indexes() []index.Index
}

// Schema is the default implementation for the Mixin interface.
// It should be embedded in all custom mixin definitions.
type Schema struct{}

// Fields returns the fields of the mixin.
func (Schema) Fields() []field.Field { return nil }

// Indexes returns the indexes of the mixin.
func (Schema) Indexes() []index.Index { return nil }

// schema mixin must implement `Mixin` interface.
var _ Mixin = (*Schema)(nil)

// Publication states of the Publishable mixin.
const (
	StatusDraft     = "draft"
	StatusWaiting   = "waiting"
	StatusPublished = "published"
)

// Publishable adds a publication status and time, and an index listing the
// newest items of a status first.
type Publishable struct {
	Schema
}

// Fields returns the status and publish_time fields.
func (Publishable) Fields() []field.Field {
	return []field.Field{
		field.Enum("status").
			Values(StatusDraft, StatusWaiting, StatusPublished).
			Default(StatusDraft).
			NonEmpty(),
		field.DateTime("publish_time"),
	}
}

// Indexes returns the status listing index.
func (Publishable) Indexes() []index.Index {
	return []index.Index{
		index.Fields("status", "-publish_time"),
	}
}

// Author adds an author reference. Model names the target model and
// defaults to "user".
type Author struct {
	Schema
	Model    string
	Required bool
}

// Fields returns the author field.
func (a Author) Fields() []field.Field {
	model := a.Model
	if model == "" {
		model = "user"
	}
	f := field.Ref("author", model)
	if a.Required {
		f.NonEmpty()
	}
	return []field.Field{f}
}

// Indexes returns an index over the author field.
func (Author) Indexes() []index.Index {
	return []index.Index{index.Fields("author")}
}

// Tags adds a de-duplicated list of tag strings.
type Tags struct {
	Schema
}

// Fields returns the tags field.
func (Tags) Fields() []field.Field {
	return []field.Field{field.UniqueList("tags")}
}

// Indexes returns an index over the tags field.
func (Tags) Indexes() []index.Index {
	return []index.Index{index.Fields("tags")}
}
