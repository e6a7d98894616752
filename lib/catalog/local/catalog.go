package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("catalog")

// entry wraps a stored object with its insertion sequence, finds return objects in that order
type entry[T any] struct {
	seq uint64
	obj T
}

type catalogImpl struct {
	// writeMu serializes all mutations. Reads go straight to the maps.
	writeMu sync.Mutex
	seq     atomic.Uint64

	collections *xsync.MapOf[string, *entry[catalog.Collection]]
	items       *xsync.MapOf[string, *entry[catalog.Item]]
	versions    *xsync.MapOf[string, *entry[catalog.Version]]
	resources   *xsync.MapOf[string, *entry[catalog.Resource]]
	links       *xsync.MapOf[string, *entry[catalog.Link]]

	// item id -> published version id
	published *xsync.MapOf[string, string]
	// item id -> highest version number handed out
	versionNumbers *xsync.MapOf[string, int]
}

// NewLocalCatalog creates an empty in-memory catalog
func NewLocalCatalog() catalog.ICatalog {
	return &catalogImpl{
		collections:    xsync.NewMapOf[string, *entry[catalog.Collection]](),
		items:          xsync.NewMapOf[string, *entry[catalog.Item]](),
		versions:       xsync.NewMapOf[string, *entry[catalog.Version]](),
		resources:      xsync.NewMapOf[string, *entry[catalog.Resource]](),
		links:          xsync.NewMapOf[string, *entry[catalog.Link]](),
		published:      xsync.NewMapOf[string, string](),
		versionNumbers: xsync.NewMapOf[string, int](),
	}
}

func newEntry[T any](s *catalogImpl, obj T) *entry[T] {
	return &entry[T]{seq: s.seq.Add(1), obj: obj}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see catalog/interface.go)
// --------------------------------------------------------------------------

func (s *catalogImpl) CreateCollection(ctx context.Context, c catalog.Collection) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Name == "" {
		return "", fmt.Errorf("%w: collection name is required", catalog.ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if c.Parent != "" {
		if _, ok := s.collections.Load(c.Parent); !ok {
			return "", fmt.Errorf("%w: parent collection %s", catalog.ErrNotFound, c.Parent)
		}
	}
	if exists(s.collections, func(o catalog.Collection) bool {
		return o.Parent == c.Parent && o.Name == c.Name
	}) {
		return "", fmt.Errorf("%w: collection %q in %q", catalog.ErrAlreadyExists, c.Name, c.Parent)
	}

	c.Id = uuid.NewString()
	c = c.Copy()
	s.collections.Store(c.Id, newEntry(s, c))

	log.Debugf("Created collection %s (%s)", c.Id, c.Name)
	return c.Id, nil
}

func (s *catalogImpl) CreateItem(ctx context.Context, i catalog.Item) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if i.ItemType == "" || i.Variant == "" {
		return "", fmt.Errorf("%w: item type and variant are required", catalog.ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.collections.Load(i.Parent); !ok {
		return "", fmt.Errorf("%w: parent collection %s", catalog.ErrNotFound, i.Parent)
	}
	if exists(s.items, func(o catalog.Item) bool {
		return o.Parent == i.Parent && o.ItemType == i.ItemType && o.Variant == i.Variant
	}) {
		return "", fmt.Errorf("%w: item %s/%s in %s", catalog.ErrAlreadyExists, i.ItemType, i.Variant, i.Parent)
	}

	i.Id = uuid.NewString()
	i = i.Copy()
	s.items.Store(i.Id, newEntry(s, i))

	log.Debugf("Created item %s (%s/%s)", i.Id, i.ItemType, i.Variant)
	return i.Id, nil
}

func (s *catalogImpl) CreateVersion(ctx context.Context, v catalog.Version) (string, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.items.Load(v.Parent); !ok {
		return "", 0, fmt.Errorf("%w: parent item %s", catalog.ErrNotFound, v.Parent)
	}

	// numbers are never reused, even after a version was deleted
	number, _ := s.versionNumbers.Load(v.Parent)
	number++
	s.versionNumbers.Store(v.Parent, number)

	v.Id = uuid.NewString()
	v.Number = number
	v = v.Copy()
	s.versions.Store(v.Id, newEntry(s, v))

	log.Debugf("Created version %s (%d) of item %s", v.Id, v.Number, v.Parent)
	return v.Id, v.Number, nil
}

func (s *catalogImpl) CreateResource(ctx context.Context, r catalog.Resource) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if r.Location == "" {
		return "", fmt.Errorf("%w: resource location is required", catalog.ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.versions.Load(r.Parent); !ok {
		return "", fmt.Errorf("%w: parent version %s", catalog.ErrNotFound, r.Parent)
	}
	if exists(s.resources, func(o catalog.Resource) bool {
		return o.Parent == r.Parent && o.ResourceType == r.ResourceType && o.Name == r.Name && o.Location == r.Location
	}) {
		return "", fmt.Errorf("%w: resource %s/%s at %s", catalog.ErrAlreadyExists, r.ResourceType, r.Name, r.Location)
	}

	r.Id = uuid.NewString()
	r = r.Copy()
	s.resources.Store(r.Id, newEntry(s, r))

	log.Debugf("Created resource %s (%s) on version %s", r.Id, r.Location, r.Parent)
	return r.Id, nil
}

func (s *catalogImpl) CreateLink(ctx context.Context, l catalog.Link) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if l.Src == "" || l.Dst == "" {
		return "", fmt.Errorf("%w: link source and destination are required", catalog.ErrInvalidInput)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// both ends must be items or both must be versions
	_, srcItem := s.items.Load(l.Src)
	_, dstItem := s.items.Load(l.Dst)
	_, srcVersion := s.versions.Load(l.Src)
	_, dstVersion := s.versions.Load(l.Dst)
	switch {
	case !(srcItem || srcVersion):
		return "", fmt.Errorf("%w: link source %s", catalog.ErrNotFound, l.Src)
	case !(dstItem || dstVersion):
		return "", fmt.Errorf("%w: link destination %s", catalog.ErrNotFound, l.Dst)
	case srcItem != dstItem:
		return "", fmt.Errorf("%w: link between an item and a version", catalog.ErrIllegalOperation)
	}

	if exists(s.links, func(o catalog.Link) bool {
		return o.Src == l.Src && o.Dst == l.Dst && o.Name == l.Name
	}) {
		return "", fmt.Errorf("%w: link %q from %s to %s", catalog.ErrAlreadyExists, l.Name, l.Src, l.Dst)
	}

	l.Id = uuid.NewString()
	l = l.Copy()
	s.links.Store(l.Id, newEntry(s, l))

	log.Debugf("Created link %s (%s -> %s)", l.Id, l.Src, l.Dst)
	return l.Id, nil
}

func (s *catalogImpl) DeleteCollection(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.collections.Load(id); !ok {
		return fmt.Errorf("%w: collection %s", catalog.ErrNotFound, id)
	}
	s.deleteCollection(id)
	return nil
}

func (s *catalogImpl) DeleteItem(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.items.Load(id); !ok {
		return fmt.Errorf("%w: item %s", catalog.ErrNotFound, id)
	}
	s.deleteItem(id)
	return nil
}

func (s *catalogImpl) DeleteVersion(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.versions.Load(id); !ok {
		return fmt.Errorf("%w: version %s", catalog.ErrNotFound, id)
	}
	s.deleteVersion(id)
	return nil
}

func (s *catalogImpl) DeleteResource(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.resources.LoadAndDelete(id); !ok {
		return fmt.Errorf("%w: resource %s", catalog.ErrNotFound, id)
	}
	return nil
}

func (s *catalogImpl) FindCollections(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Collection, error) {
	return find(ctx, s.collections, queries, limit, offset, catalog.MatchCollection)
}

func (s *catalogImpl) FindItems(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Item, error) {
	return find(ctx, s.items, queries, limit, offset, catalog.MatchItem)
}

func (s *catalogImpl) FindVersions(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Version, error) {
	return find(ctx, s.versions, queries, limit, offset, catalog.MatchVersion)
}

func (s *catalogImpl) FindResources(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Resource, error) {
	return find(ctx, s.resources, queries, limit, offset, catalog.MatchResource)
}

func (s *catalogImpl) FindLinks(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Link, error) {
	return find(ctx, s.links, queries, limit, offset, catalog.MatchLink)
}

func (s *catalogImpl) GetPublishedVersion(ctx context.Context, itemId string) (*catalog.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := s.items.Load(itemId); !ok {
		return nil, fmt.Errorf("%w: item %s", catalog.ErrNotFound, itemId)
	}

	versionId, ok := s.published.Load(itemId)
	if !ok {
		return nil, nil
	}
	e, ok := s.versions.Load(versionId)
	if !ok {
		return nil, nil
	}
	v := e.obj.Copy()
	return &v, nil
}

func (s *catalogImpl) PublishVersion(ctx context.Context, versionId string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e, ok := s.versions.Load(versionId)
	if !ok {
		return fmt.Errorf("%w: version %s", catalog.ErrNotFound, versionId)
	}
	s.published.Store(e.obj.Parent, versionId)

	log.Debugf("Published version %s of item %s", versionId, e.obj.Parent)
	return nil
}

func (s *catalogImpl) UpdateCollectionFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, s, s.collections, "collection", id, func(o *catalog.Collection) *catalog.Facets { return &o.Facets }, facets)
}

func (s *catalogImpl) UpdateItemFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, s, s.items, "item", id, func(o *catalog.Item) *catalog.Facets { return &o.Facets }, facets)
}

func (s *catalogImpl) UpdateVersionFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, s, s.versions, "version", id, func(o *catalog.Version) *catalog.Facets { return &o.Facets }, facets)
}

func (s *catalogImpl) UpdateResourceFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, s, s.resources, "resource", id, func(o *catalog.Resource) *catalog.Facets { return &o.Facets }, facets)
}

func (s *catalogImpl) UpdateLinkFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, s, s.links, "link", id, func(o *catalog.Link) *catalog.Facets { return &o.Facets }, facets)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// deleteCollection removes a collection with its child collections and items. Caller holds writeMu.
func (s *catalogImpl) deleteCollection(id string) {
	s.collections.Delete(id)

	s.collections.Range(func(childId string, e *entry[catalog.Collection]) bool {
		if e.obj.Parent == id {
			s.deleteCollection(childId)
		}
		return true
	})
	s.items.Range(func(itemId string, e *entry[catalog.Item]) bool {
		if e.obj.Parent == id {
			s.deleteItem(itemId)
		}
		return true
	})
}

// deleteItem removes an item with its versions and links. Caller holds writeMu.
func (s *catalogImpl) deleteItem(id string) {
	s.items.Delete(id)
	s.published.Delete(id)
	s.versionNumbers.Delete(id)

	s.versions.Range(func(versionId string, e *entry[catalog.Version]) bool {
		if e.obj.Parent == id {
			s.deleteVersion(versionId)
		}
		return true
	})
	s.deleteLinksOf(id)
}

// deleteVersion removes a version with its resources and links. Caller holds writeMu.
func (s *catalogImpl) deleteVersion(id string) {
	e, ok := s.versions.LoadAndDelete(id)
	if !ok {
		return
	}
	if published, _ := s.published.Load(e.obj.Parent); published == id {
		s.published.Delete(e.obj.Parent)
	}

	s.resources.Range(func(resourceId string, r *entry[catalog.Resource]) bool {
		if r.obj.Parent == id {
			s.resources.Delete(resourceId)
		}
		return true
	})
	s.deleteLinksOf(id)
}

func (s *catalogImpl) deleteLinksOf(id string) {
	s.links.Range(func(linkId string, e *entry[catalog.Link]) bool {
		if e.obj.Src == id || e.obj.Dst == id {
			s.links.Delete(linkId)
		}
		return true
	})
}

// exists reports whether any stored object satisfies pred
func exists[T any](m *xsync.MapOf[string, *entry[T]], pred func(T) bool) bool {
	found := false
	m.Range(func(_ string, e *entry[T]) bool {
		if pred(e.obj) {
			found = true
			return false
		}
		return true
	})
	return found
}

// find returns the objects matching any of the queries in insertion order
func find[T interface{ Copy() T }](ctx context.Context, m *xsync.MapOf[string, *entry[T]], queries []catalog.QueryDesc, limit, offset int, match func([]catalog.QueryDesc, *T) bool) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queries = catalog.ValidQueries(queries)
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: at least one query with a field set is required", catalog.ErrInvalidInput)
	}
	if limit <= 0 {
		limit = catalog.DefaultQueryLimit
	}
	offset = max(0, offset)

	var matches []*entry[T]
	m.Range(func(_ string, e *entry[T]) bool {
		if match(queries, &e.obj) {
			matches = append(matches, e)
		}
		return true
	})
	sort.Slice(matches, func(i, j int) bool { return matches[i].seq < matches[j].seq })

	if offset >= len(matches) {
		return []T{}, nil
	}
	matches = matches[offset:min(len(matches), offset+limit)]

	result := make([]T, len(matches))
	for i, e := range matches {
		result[i] = e.obj.Copy()
	}
	return result, nil
}

// updateFacets merges facets into the object with the given id. Stored entries are
// replaced, never modified, so concurrent readers see either the old or the new object.
func updateFacets[T any](ctx context.Context, s *catalogImpl, m *xsync.MapOf[string, *entry[T]], kind, id string, facetsOf func(*T) *catalog.Facets, facets catalog.Facets) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	e, ok := m.Load(id)
	if !ok {
		return fmt.Errorf("%w: %s %s", catalog.ErrNotFound, kind, id)
	}

	updated := &entry[T]{seq: e.seq, obj: e.obj}
	f := facetsOf(&updated.obj)
	merged := f.Clone()
	if merged == nil {
		merged = make(catalog.Facets, len(facets))
	}
	for k, v := range facets {
		merged[k] = v
	}
	*f = merged
	m.Store(id, updated)
	return nil
}
