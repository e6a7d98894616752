package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CatalogFactory creates a new, empty ICatalog implementation
type CatalogFactory func(t *testing.T) catalog.ICatalog

// RunCatalogTests runs the conformance suite for an ICatalog implementation.
func RunCatalogTests(t *testing.T, name string, factory CatalogFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("CreateAndFindCollection", func(t *testing.T) {
			testCreateAndFindCollection(t, factory(t))
		})

		t.Run("Uniqueness", func(t *testing.T) {
			testUniqueness(t, factory(t))
		})

		t.Run("MissingParent", func(t *testing.T) {
			testMissingParent(t, factory(t))
		})

		t.Run("InvalidInput", func(t *testing.T) {
			testInvalidInput(t, factory(t))
		})

		t.Run("VersionNumbers", func(t *testing.T) {
			testVersionNumbers(t, factory(t))
		})

		t.Run("Publish", func(t *testing.T) {
			testPublish(t, factory(t))
		})

		t.Run("Links", func(t *testing.T) {
			testLinks(t, factory(t))
		})

		t.Run("QuerySemantics", func(t *testing.T) {
			testQuerySemantics(t, factory(t))
		})

		t.Run("LimitOffset", func(t *testing.T) {
			testLimitOffset(t, factory(t))
		})

		t.Run("UpdateFacets", func(t *testing.T) {
			testUpdateFacets(t, factory(t))
		})

		t.Run("CascadeDelete", func(t *testing.T) {
			testCascadeDelete(t, factory(t))
		})

		t.Run("ConcurrentCreate", func(t *testing.T) {
			testConcurrentCreate(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// tree holds the ids of a small catalog: collection > item > version > resource
type tree struct {
	collection, item, version, resource string
}

func buildTree(t *testing.T, c catalog.ICatalog, name string) tree {
	t.Helper()
	ctx := context.Background()

	var tr tree
	var err error
	tr.collection, err = c.CreateCollection(ctx, catalog.Collection{Name: name})
	require.NoError(t, err)

	tr.item, err = c.CreateItem(ctx, catalog.Item{Parent: tr.collection, ItemType: "model", Variant: "default"})
	require.NoError(t, err)

	tr.version, _, err = c.CreateVersion(ctx, catalog.Version{Parent: tr.item})
	require.NoError(t, err)

	tr.resource, err = c.CreateResource(ctx, catalog.Resource{Parent: tr.version, Name: "geo", ResourceType: "abc", Location: "/tmp/" + name + ".abc"})
	require.NoError(t, err)
	return tr
}

func byId(id string) []catalog.QueryDesc {
	return []catalog.QueryDesc{{Id: id}}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testCreateAndFindCollection(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()

	id, err := c.CreateCollection(ctx, catalog.Collection{Name: "shots", Facets: catalog.Facets{"owner": "anna"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	found, err := c.FindCollections(ctx, byId(id), 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].Id)
	assert.Equal(t, "shots", found[0].Name)
	assert.Equal(t, "", found[0].Parent)
	assert.Equal(t, "anna", found[0].Facets["owner"])

	child, err := c.CreateCollection(ctx, catalog.Collection{Name: "sh010", Parent: id})
	require.NoError(t, err)

	found, err = c.FindCollections(ctx, []catalog.QueryDesc{{Parent: id}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, child, found[0].Id)

	found, err = c.FindCollections(ctx, byId("does-not-exist"), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testUniqueness(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	tr := buildTree(t, c, "unique")

	_, err := c.CreateCollection(ctx, catalog.Collection{Name: "unique"})
	assert.ErrorIs(t, err, catalog.ErrAlreadyExists)

	// the same name below another parent is fine
	_, err = c.CreateCollection(ctx, catalog.Collection{Name: "unique", Parent: tr.collection})
	assert.NoError(t, err)

	_, err = c.CreateItem(ctx, catalog.Item{Parent: tr.collection, ItemType: "model", Variant: "default"})
	assert.ErrorIs(t, err, catalog.ErrAlreadyExists)

	_, err = c.CreateItem(ctx, catalog.Item{Parent: tr.collection, ItemType: "model", Variant: "damaged"})
	assert.NoError(t, err)

	_, err = c.CreateResource(ctx, catalog.Resource{Parent: tr.version, Name: "geo", ResourceType: "abc", Location: "/tmp/unique.abc"})
	assert.ErrorIs(t, err, catalog.ErrAlreadyExists)
}

func testMissingParent(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()

	_, err := c.CreateCollection(ctx, catalog.Collection{Name: "orphan", Parent: "missing"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = c.CreateItem(ctx, catalog.Item{Parent: "missing", ItemType: "a", Variant: "b"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, _, err = c.CreateVersion(ctx, catalog.Version{Parent: "missing"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = c.CreateResource(ctx, catalog.Resource{Parent: "missing", Location: "/x"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	assert.ErrorIs(t, c.DeleteCollection(ctx, "missing"), catalog.ErrNotFound)
	assert.ErrorIs(t, c.DeleteItem(ctx, "missing"), catalog.ErrNotFound)
	assert.ErrorIs(t, c.DeleteVersion(ctx, "missing"), catalog.ErrNotFound)
	assert.ErrorIs(t, c.DeleteResource(ctx, "missing"), catalog.ErrNotFound)
	assert.ErrorIs(t, c.PublishVersion(ctx, "missing"), catalog.ErrNotFound)
	assert.ErrorIs(t, c.UpdateItemFacets(ctx, "missing", catalog.Facets{"a": "b"}), catalog.ErrNotFound)
}

func testInvalidInput(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	tr := buildTree(t, c, "invalid")

	_, err := c.CreateCollection(ctx, catalog.Collection{})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	_, err = c.CreateItem(ctx, catalog.Item{Parent: tr.collection, ItemType: "model"})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	_, err = c.CreateResource(ctx, catalog.Resource{Parent: tr.version, Name: "geo"})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	_, err = c.CreateLink(ctx, catalog.Link{Name: "input", Src: tr.item})
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)

	// a query list without any field set is rejected
	_, err = c.FindItems(ctx, []catalog.QueryDesc{{}}, 0, 0)
	assert.ErrorIs(t, err, catalog.ErrInvalidInput)
}

func testVersionNumbers(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	tr := buildTree(t, c, "numbers")

	id2, n2, err := c.CreateVersion(ctx, catalog.Version{Parent: tr.item})
	require.NoError(t, err)
	assert.Equal(t, 2, n2)

	require.NoError(t, c.DeleteVersion(ctx, id2))

	// numbers are not reused
	_, n3, err := c.CreateVersion(ctx, catalog.Version{Parent: tr.item})
	require.NoError(t, err)
	assert.Equal(t, 3, n3)

	found, err := c.FindVersions(ctx, []catalog.QueryDesc{{Parent: tr.item, VersionNumber: 1}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, tr.version, found[0].Id)
}

func testPublish(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	tr := buildTree(t, c, "publish")

	published, err := c.GetPublishedVersion(ctx, tr.item)
	require.NoError(t, err)
	assert.Nil(t, published)

	require.NoError(t, c.PublishVersion(ctx, tr.version))
	published, err = c.GetPublishedVersion(ctx, tr.item)
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, tr.version, published.Id)
	assert.Equal(t, 1, published.Number)

	// publishing is idempotent
	require.NoError(t, c.PublishVersion(ctx, tr.version))

	v2, _, err := c.CreateVersion(ctx, catalog.Version{Parent: tr.item})
	require.NoError(t, err)
	require.NoError(t, c.PublishVersion(ctx, v2))
	published, err = c.GetPublishedVersion(ctx, tr.item)
	require.NoError(t, err)
	require.NotNil(t, published)
	assert.Equal(t, v2, published.Id)

	// deleting the published version unpublishes it
	require.NoError(t, c.DeleteVersion(ctx, v2))
	published, err = c.GetPublishedVersion(ctx, tr.item)
	require.NoError(t, err)
	assert.Nil(t, published)
}

func testLinks(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	a := buildTree(t, c, "link-a")
	b := buildTree(t, c, "link-b")

	id, err := c.CreateLink(ctx, catalog.Link{Name: "input", Src: a.version, Dst: b.version})
	require.NoError(t, err)

	_, err = c.CreateLink(ctx, catalog.Link{Name: "input", Src: a.version, Dst: b.version})
	assert.ErrorIs(t, err, catalog.ErrAlreadyExists)

	_, err = c.CreateLink(ctx, catalog.Link{Name: "mixed", Src: a.item, Dst: b.version})
	assert.ErrorIs(t, err, catalog.ErrIllegalOperation)

	_, err = c.CreateLink(ctx, catalog.Link{Name: "dangling", Src: a.item, Dst: "missing"})
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	found, err := c.FindLinks(ctx, []catalog.QueryDesc{{LinkSrc: a.version, LinkDst: b.version}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, id, found[0].Id)
	assert.Equal(t, "input", found[0].Name)

	// deleting one end removes the link
	require.NoError(t, c.DeleteVersion(ctx, b.version))
	found, err = c.FindLinks(ctx, byId(id), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func testQuerySemantics(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	coll, err := c.CreateCollection(ctx, catalog.Collection{Name: "query"})
	require.NoError(t, err)

	mk := func(itemType, variant string, facets catalog.Facets) string {
		id, err := c.CreateItem(ctx, catalog.Item{Parent: coll, ItemType: itemType, Variant: variant, Facets: facets})
		require.NoError(t, err)
		return id
	}
	rig := mk("rig", "default", catalog.Facets{"dept": "anim"})
	model := mk("model", "default", catalog.Facets{"dept": "model"})
	mk("model", "damaged", catalog.Facets{"dept": "model", "state": "wip"})

	ids := func(items []catalog.Item) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.Id
		}
		return out
	}

	// AND within a predicate set
	found, err := c.FindItems(ctx, []catalog.QueryDesc{{Parent: coll, ItemType: "model", Variant: "default"}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{model}, ids(found))

	// OR across predicate sets
	found, err = c.FindItems(ctx, []catalog.QueryDesc{{ItemType: "rig"}, {Id: model}}, 0, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{rig, model}, ids(found))

	// facets match as a subset
	found, err = c.FindItems(ctx, []catalog.QueryDesc{{Facets: catalog.Facets{"dept": "model"}}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = c.FindItems(ctx, []catalog.QueryDesc{{Facets: catalog.Facets{"dept": "model", "state": "wip"}}}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	// empty predicate sets are ignored next to valid ones
	found, err = c.FindItems(ctx, []catalog.QueryDesc{{}, {ItemType: "rig"}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{rig}, ids(found))
}

func testLimitOffset(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	parent, err := c.CreateCollection(ctx, catalog.Collection{Name: "paging"})
	require.NoError(t, err)

	var created []string
	for i := 0; i < 10; i++ {
		id, err := c.CreateCollection(ctx, catalog.Collection{Name: fmt.Sprintf("c%02d", i), Parent: parent})
		require.NoError(t, err)
		created = append(created, id)
	}

	q := []catalog.QueryDesc{{Parent: parent}}

	all, err := c.FindCollections(ctx, q, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 10)

	page, err := c.FindCollections(ctx, q, 3, 4)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, all[4].Id, page[0].Id)
	assert.Equal(t, all[6].Id, page[2].Id)

	page, err = c.FindCollections(ctx, q, 5, 8)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = c.FindCollections(ctx, q, 5, 20)
	require.NoError(t, err)
	assert.Empty(t, page)

	assert.ElementsMatch(t, created, func() []string {
		out := make([]string, len(all))
		for i, c := range all {
			out[i] = c.Id
		}
		return out
	}())
}

func testUpdateFacets(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	tr := buildTree(t, c, "facets")

	require.NoError(t, c.UpdateVersionFacets(ctx, tr.version, catalog.Facets{"status": "review"}))
	require.NoError(t, c.UpdateVersionFacets(ctx, tr.version, catalog.Facets{"frames": "1-100"}))

	found, err := c.FindVersions(ctx, byId(tr.version), 0, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, catalog.Facets{"status": "review", "frames": "1-100"}, found[0].Facets)

	// existing keys are overwritten
	require.NoError(t, c.UpdateVersionFacets(ctx, tr.version, catalog.Facets{"status": "approved"}))
	found, err = c.FindVersions(ctx, byId(tr.version), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "approved", found[0].Facets["status"])

	// returned facets are copies
	found[0].Facets["status"] = "tampered"
	again, err := c.FindVersions(ctx, byId(tr.version), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "approved", again[0].Facets["status"])

	require.NoError(t, c.UpdateCollectionFacets(ctx, tr.collection, catalog.Facets{"a": "1"}))
	require.NoError(t, c.UpdateItemFacets(ctx, tr.item, catalog.Facets{"a": "1"}))
	require.NoError(t, c.UpdateResourceFacets(ctx, tr.resource, catalog.Facets{"a": "1"}))

	b := buildTree(t, c, "facets-b")
	link, err := c.CreateLink(ctx, catalog.Link{Name: "ref", Src: tr.item, Dst: b.item})
	require.NoError(t, err)
	require.NoError(t, c.UpdateLinkFacets(ctx, link, catalog.Facets{"a": "1"}))

	links, err := c.FindLinks(ctx, []catalog.QueryDesc{{Facets: catalog.Facets{"a": "1"}}}, 0, 0)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, link, links[0].Id)
}

func testCascadeDelete(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()
	tr := buildTree(t, c, "cascade")
	other := buildTree(t, c, "survivor")

	_, err := c.CreateLink(ctx, catalog.Link{Name: "ref", Src: tr.item, Dst: other.item})
	require.NoError(t, err)

	require.NoError(t, c.DeleteCollection(ctx, tr.collection))

	items, err := c.FindItems(ctx, byId(tr.item), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, items)

	versions, err := c.FindVersions(ctx, byId(tr.version), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, versions)

	resources, err := c.FindResources(ctx, byId(tr.resource), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, resources)

	links, err := c.FindLinks(ctx, []catalog.QueryDesc{{LinkDst: other.item}}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, links)

	// the other tree is untouched
	resources, err = c.FindResources(ctx, byId(other.resource), 0, 0)
	require.NoError(t, err)
	assert.Len(t, resources, 1)

	assert.ErrorIs(t, c.DeleteCollection(ctx, tr.collection), catalog.ErrNotFound)
}

func testConcurrentCreate(t *testing.T, c catalog.ICatalog) {
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.CreateCollection(ctx, catalog.Collection{Name: "contended"})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, catalog.ErrAlreadyExists)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded, "exactly one concurrent create may win")
}
