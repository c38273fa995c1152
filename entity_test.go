package odm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytsite/odm"
	"github.com/pytsite/odm/dialect"
	"github.com/pytsite/odm/dialect/memory"
	"github.com/pytsite/odm/schema/field"
)

// article exercises every hook.
type article struct {
	odm.BaseModel
	calls     []string
	failAfter error
	release   chan struct{}
}

func (*article) Setup(s *odm.Schema) {
	s.Field(
		field.String("title").NonEmpty(),
		field.String("slug"),
		field.Virtual("url"),
		field.Int("views"),
		field.List("keywords"),
	)
}

func (a *article) OnFieldSet(_ context.Context, _ *odm.Entity, name string, v any) (any, error) {
	if s, ok := v.(string); ok && name == "slug" {
		return strings.ToLower(s), nil
	}
	return v, nil
}

func (a *article) OnFieldGet(ctx context.Context, e *odm.Entity, name string, v any) (any, error) {
	if name != "url" {
		return v, nil
	}
	// Reads another field under the lock held by the caller.
	slug, err := e.Get(ctx, "slug")
	if err != nil {
		return nil, err
	}
	return "/articles/" + slug.(string), nil
}

func (a *article) OnFieldAdd(_ context.Context, _ *odm.Entity, name string, v any) (any, error) {
	if s, ok := v.(string); ok && name == "keywords" {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

func (a *article) PreSave(ctx context.Context, e *odm.Entity) error {
	a.calls = append(a.calls, "pre_save")
	if a.release != nil {
		<-a.release
	}
	slug, err := e.Get(ctx, "slug")
	if err != nil {
		return err
	}
	if slug == "" {
		title, _ := e.Get(ctx, "title")
		return e.Set(ctx, "slug", strings.ReplaceAll(title.(string), " ", "-"))
	}
	return nil
}

func (a *article) AfterSave(context.Context, *odm.Entity) error {
	a.calls = append(a.calls, "after_save")
	return a.failAfter
}

func (a *article) PreDelete(context.Context, *odm.Entity) error {
	a.calls = append(a.calls, "pre_delete")
	return nil
}

func (a *article) AfterDelete(context.Context, *odm.Entity) error {
	a.calls = append(a.calls, "after_delete")
	return nil
}

func newArticles(t *testing.T, factory func() odm.Model) *odm.Manager {
	t.Helper()
	m, _ := newManager(t)
	if factory == nil {
		factory = func() odm.Model { return &article{} }
	}
	require.NoError(t, m.Register("article", factory))
	return m
}

func TestEntityHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	impl := &article{}
	m := newArticles(t, func() odm.Model { return impl })

	e, err := m.New(ctx, "article")
	require.NoError(t, err)
	require.NoError(t, e.Set(ctx, "title", "Hello World"))
	require.NoError(t, e.Save(ctx))

	slug, err := e.Get(ctx, "slug")
	require.NoError(t, err)
	assert.Equal(t, "hello-world", slug)
	url, err := e.Get(ctx, "url")
	require.NoError(t, err)
	assert.Equal(t, "/articles/hello-world", url)

	require.NoError(t, e.Add(ctx, "keywords", "  go "))
	kw, err := e.Get(ctx, "keywords")
	require.NoError(t, err)
	assert.Equal(t, []any{"go"}, kw)

	require.NoError(t, e.Delete(ctx))
	assert.Equal(t, []string{"pre_save", "after_save", "pre_delete", "after_delete"}, impl.calls)
}

func TestEntityVirtualFieldNotStored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := newArticles(t, nil)
	e := create(t, m, "article", map[string]any{"title": "x"})

	doc, err := m.Driver().FindOne(ctx, "articles", dialect.EQ(dialect.IDKey, e.ID()))
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.NotContains(t, doc, "url")
	assert.Equal(t, "article", doc[odm.FieldModel])
	assert.Contains(t, doc, odm.FieldCreated)
}

func TestEntityFieldErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	e, err := m.New(ctx, "widget")
	require.NoError(t, err)

	_, err = e.Get(ctx, "nope")
	assert.ErrorIs(t, err, odm.ErrUnknownField)
	assert.ErrorIs(t, e.Set(ctx, "nope", 1), odm.ErrUnknownField)

	err = e.Set(ctx, "count", "many")
	assert.True(t, odm.IsValidationError(err))
	assert.ErrorIs(t, err, field.ErrInvalidType)

	err = e.Add(ctx, "title", "x")
	assert.ErrorIs(t, err, field.ErrNotImplemented)
	err = e.Remove(ctx, "title", "x")
	assert.ErrorIs(t, err, field.ErrNotImplemented)

	require.NoError(t, e.Inc(ctx, "count"))
	require.NoError(t, e.Inc(ctx, "count"))
	require.NoError(t, e.Dec(ctx, "count"))
	v, err := e.Get(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	assert.True(t, e.HasField("title"))
	assert.True(t, e.HasField(odm.FieldChildren))
	assert.False(t, e.HasField("nope"))
	assert.Equal(t, []string{"_id", "_model", "_parent", "_children", "_created", "_modified", "title", "count"}, e.Fields())
}

func TestEntityTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	m := odm.NewManager(newSpy(), odm.WithClock(clock))
	registerModels(t, m)

	e := create(t, m, "widget", map[string]any{"title": "a"})
	created, err := e.Get(ctx, odm.FieldCreated)
	require.NoError(t, err)
	modified, err := e.Get(ctx, odm.FieldModified)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC), created)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC), modified)

	require.NoError(t, e.Set(ctx, "title", "b"))
	require.NoError(t, e.Save(ctx))
	modified, err = e.Get(ctx, odm.FieldModified)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 3, 0, 0, time.UTC), modified)
}

func TestEntityConcurrentIncrements(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	e := create(t, m, "widget", map[string]any{"title": "a"})

	const n = 50
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Inc(ctx, "count"))
			assert.NoError(t, e.Save(ctx))
		}()
	}
	wg.Wait()

	v, err := e.Get(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(n), v)

	m.Cache().Clear()
	stored, err := m.Load(ctx, "widget", e.ID())
	require.NoError(t, err)
	v, err = stored.Get(ctx, "count")
	require.NoError(t, err)
	assert.Equal(t, int64(n), v)
}

func TestEntityLockHonoursContext(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	m := newArticles(t, func() odm.Model { return &article{release: release} })
	ctx := context.Background()
	e, err := m.New(ctx, "article")
	require.NoError(t, err)
	require.NoError(t, e.Set(ctx, "title", "x"))

	done := make(chan error, 1)
	go func() { done <- e.Save(ctx) }()

	// Wait until the save holds the lock.
	require.Eventually(t, func() bool {
		tctx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
		defer cancel()
		return errors.Is(e.Set(tctx, "slug", "y"), context.DeadlineExceeded)
	}, time.Second, 10*time.Millisecond)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, e.IsNew())
}

func TestEntityAfterSaveError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")
	m := newArticles(t, func() odm.Model { return &article{failAfter: boom} })
	e, err := m.New(ctx, "article")
	require.NoError(t, err)
	require.NoError(t, e.Set(ctx, "title", "x"))

	err = e.Save(ctx)
	require.ErrorIs(t, err, boom)
	assert.True(t, odm.IsMutationError(err))
	// The document is stored and the entity is cached nevertheless.
	assert.False(t, e.IsNew())
	assert.False(t, e.IsModified(ctx))
	assert.Same(t, e, m.Cache().Get("article", e.ID()))
}

func TestEntityStorageErrorsUnwrapped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	create(t, m, "tag", map[string]any{"name": "go"})

	dup, err := m.New(ctx, "tag")
	require.NoError(t, err)
	require.NoError(t, dup.Set(ctx, "name", "go"))
	err = dup.Save(ctx)
	require.Error(t, err)
	assert.True(t, odm.IsConstraintError(err))
	assert.False(t, odm.IsMutationError(err))
	assert.True(t, dup.IsNew())
}

func TestEntitySelfHealingReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	a := create(t, m, "tag", map[string]any{"name": "a"})
	b := create(t, m, "tag", map[string]any{"name": "b"})
	p := create(t, m, "post", map[string]any{"tag": a, "tags": []any{a, b}})

	require.NoError(t, a.Delete(ctx))

	v, err := p.Get(ctx, "tag")
	require.NoError(t, err)
	assert.Nil(t, v)
	assert.True(t, p.IsModified(ctx))
	h, err := p.Get(ctx, "tag", field.Handles())
	require.NoError(t, err)
	assert.True(t, h.(dialect.Ref).IsZero())

	// Lists drop the missing targets on read without changing the stored list.
	tags, err := p.Get(ctx, "tags")
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Same(t, b, tags.([]field.Referable)[0])
	hs, err := p.Get(ctx, "tags", field.Handles())
	require.NoError(t, err)
	assert.Len(t, hs, 2)
}

func TestEntityTree(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	root := create(t, m, "tag", map[string]any{"name": "root"})
	leaf := create(t, m, "tag", map[string]any{"name": "leaf"})

	require.NoError(t, root.AppendChild(ctx, leaf))
	require.NoError(t, root.Save(ctx))
	require.NoError(t, leaf.Save(ctx))

	parent, err := leaf.Parent(ctx)
	require.NoError(t, err)
	assert.Same(t, root, parent)
	children, err := root.Children(ctx)
	require.NoError(t, err)
	assert.Equal(t, []*odm.Entity{leaf}, children)

	err = root.Delete(ctx)
	assert.ErrorIs(t, err, odm.ErrHasChildren)
	assert.False(t, root.IsDeleted())

	require.NoError(t, root.RemoveChild(ctx, leaf))
	parent, err = leaf.Parent(ctx)
	require.NoError(t, err)
	assert.Nil(t, parent)
	require.NoError(t, root.Delete(ctx))

	assert.ErrorIs(t, leaf.AppendChild(ctx, leaf), odm.ErrInvalidReference)
	fresh, err := m.New(ctx, "tag")
	require.NoError(t, err)
	assert.ErrorIs(t, leaf.AppendChild(ctx, fresh), odm.ErrInvalidReference)
}

func TestEntityDeleteOrphans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := odm.NewManager(memory.New())
	require.NoError(t, m.Register("node", func() odm.Model { return &tag{} }, odm.AllowOrphans()))
	root := create(t, m, "node", map[string]any{"name": "root"})
	leaf := create(t, m, "node", map[string]any{"name": "leaf"})
	require.NoError(t, root.AppendChild(ctx, leaf))
	require.NoError(t, root.Save(ctx))
	require.NoError(t, leaf.Save(ctx))

	require.NoError(t, root.Delete(ctx))
	assert.True(t, root.IsDeleted())
	parent, err := leaf.Parent(ctx)
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestEntityDeleteNew(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, drv := newManager(t)
	e, err := m.New(ctx, "widget")
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx))
	assert.True(t, e.IsDeleted())
	assert.Zero(t, drv.Calls("Delete"))
}

func TestEntityReindex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, drv := newManager(t)
	e := create(t, m, "tag", map[string]any{"name": "a"})
	assert.Equal(t, 4, drv.Calls("CreateIndex"))

	require.NoError(t, drv.Driver.CreateIndex(ctx, "tags", dialect.IndexSpec{
		Name: "stale",
		Keys: []dialect.Order{{Field: "weight", Direction: dialect.Asc}},
	}))
	require.NoError(t, e.Reindex(ctx))

	names, err := drv.Indexes(ctx, "tags")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{dialect.IDIndex, "parent_asc", "created_asc", "modified_asc", "name_asc"}, names)

	// Indexes are created once per collection.
	drv.Reset()
	create(t, m, "tag", map[string]any{"name": "b"})
	assert.Zero(t, drv.Calls("CreateIndex"))
}

func TestEntityString(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m, _ := newManager(t)
	e, err := m.New(ctx, "widget")
	require.NoError(t, err)
	assert.Equal(t, "widget:<new>", e.String())
	assert.Equal(t, "widgets", e.Collection())
	require.NoError(t, e.Set(ctx, "title", "a"))
	require.NoError(t, e.Save(ctx))
	assert.Equal(t, "widget:"+e.ID(), e.String())
	assert.Equal(t, dialect.Ref{Collection: "widgets", ID: e.ID()}, e.Reference())
}
