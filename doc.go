// Package odm is an object-document mapper. Models declare typed fields
// and indexes; entities are their document-backed instances, stored
// through a dialect.Driver.
//
// # Models
//
// A model embeds BaseModel and declares its fields in Setup:
//
//	type Post struct{ odm.BaseModel }
//
//	func (Post) Setup(s *odm.Schema) {
//	    s.Field(
//	        field.String("title").NonEmpty(),
//	        field.Ref("tag", "tag"),
//	        field.DateTime("publish_time"),
//	    )
//	    s.Mixin(mixin.Publishable{})
//	}
//
//	m := odm.NewManager(memory.New())
//	if err := m.Register("post", func() odm.Model { return &Post{} }); err != nil {
//	    return err
//	}
//
// Every model also has the built-in fields _id, _model, _parent,
// _children, _created and _modified.
//
// # Entities
//
// The Manager keeps a single live instance per stored document: Load,
// Dispense, GetByReference, reference fields and finders all return the
// cached instance. Load fails with a *NotFoundError for missing documents,
// while Dispense and GetByReference return (nil, nil).
//
//	e, _ := m.Dispense(ctx, "post", "")
//	_ = e.Set(ctx, "title", "Hello")
//	if err := e.Save(ctx); err != nil {
//	    return err
//	}
//
// Saving an entity that is not modified does nothing. Field errors abort
// the save before anything is written, and storage errors are returned
// unchanged.
//
// # Queries
//
// Finders select entities of one model:
//
//	f, _ := m.Find("post")
//	posts, err := f.Where("status", "=", "published").
//	    Sort(odm.Desc("publish_time")).
//	    Get(ctx, 0)
//
// # Policies
//
// A model returning a rule from Policy has it evaluated before every save,
// delete and query; see package privacy.
package odm
