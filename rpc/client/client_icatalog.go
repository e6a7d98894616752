package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/serializer"
	"github.com/ValentinKolb/wBridge/rpc/transport"
)

// NewRPCCatalog creates a catalog client that forwards every operation to a responder
// reachable through the message server.
// The function connects the transport before it returns.
func NewRPCCatalog(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (catalog.ICatalog, error) {

	// Connect the transport
	err := transport.Connect(config)
	if err != nil {
		return nil, err
	}

	return &rpcCatalog{
		rpcClientAdapter{
			config:     config,
			transport:  transport,
			serializer: serializer,
		},
	}, nil
}

type rpcCatalog struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see catalog/interface.go)
// --------------------------------------------------------------------------

func (c *rpcCatalog) CreateCollection(ctx context.Context, col catalog.Collection) (string, error) {
	return create(ctx, c, common.RouteCreateCollection, common.CreateRequest{Collection: &col},
		common.RouteFindCollection, catalog.QueryDesc{Name: col.Name, Parent: col.Parent},
		func(w common.WireCollection) (string, bool) {
			return w.Id, w.Name == col.Name && w.Parent == col.Parent
		})
}

func (c *rpcCatalog) CreateItem(ctx context.Context, i catalog.Item) (string, error) {
	return create(ctx, c, common.RouteCreateItem, common.CreateRequest{Item: &i},
		common.RouteFindItem, catalog.QueryDesc{ItemType: i.ItemType, Variant: i.Variant, Parent: i.Parent},
		func(w common.WireItem) (string, bool) {
			return w.Id, w.ItemType == i.ItemType && w.Variant == i.Variant && w.Parent == i.Parent
		})
}

// CreateVersion has no natural key to reconcile against and uses the plain retry path.
// A reply lost after the server applied the request can therefore yield an extra version.
func (c *rpcCatalog) CreateVersion(ctx context.Context, v catalog.Version) (string, int, error) {
	var resp common.CreateReply
	err := c.retryIdempotent(ctx, common.RouteCreateVersion, func() error {
		resp = common.CreateReply{}
		return c.invokeRPCRequest(ctx, common.RouteCreateVersion, common.CreateRequest{Version: &v}, &resp)
	})
	if err != nil {
		return "", 0, err
	}
	return resp.Id, resp.Version, nil
}

func (c *rpcCatalog) CreateResource(ctx context.Context, r catalog.Resource) (string, error) {
	return create(ctx, c, common.RouteCreateResource, common.CreateRequest{Resource: &r},
		common.RouteFindResource, catalog.QueryDesc{ResourceType: r.ResourceType, Name: r.Name, Location: r.Location, Parent: r.Parent},
		func(w common.WireResource) (string, bool) {
			return w.Id, w.ResourceType == r.ResourceType && w.Name == r.Name && w.Location == r.Location && w.Parent == r.Parent
		})
}

func (c *rpcCatalog) CreateLink(ctx context.Context, l catalog.Link) (string, error) {
	return create(ctx, c, common.RouteCreateLink, common.CreateRequest{Link: &l},
		common.RouteFindLink, catalog.QueryDesc{LinkSrc: l.Src, LinkDst: l.Dst},
		func(w common.WireLink) (string, bool) {
			return w.Id, w.Src == l.Src && w.Dst == l.Dst && w.Name == l.Name
		})
}

func (c *rpcCatalog) DeleteCollection(ctx context.Context, id string) error {
	return c.delete(ctx, common.RouteDeleteCollection, id)
}

func (c *rpcCatalog) DeleteItem(ctx context.Context, id string) error {
	return c.delete(ctx, common.RouteDeleteItem, id)
}

func (c *rpcCatalog) DeleteVersion(ctx context.Context, id string) error {
	return c.delete(ctx, common.RouteDeleteVersion, id)
}

func (c *rpcCatalog) DeleteResource(ctx context.Context, id string) error {
	return c.delete(ctx, common.RouteDeleteResource, id)
}

func (c *rpcCatalog) FindCollections(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Collection, error) {
	return find(ctx, c, common.RouteFindCollection, queries, limit, offset, common.WireCollection.Catalog)
}

func (c *rpcCatalog) FindItems(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Item, error) {
	return find(ctx, c, common.RouteFindItem, queries, limit, offset, common.WireItem.Catalog)
}

func (c *rpcCatalog) FindVersions(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Version, error) {
	return find(ctx, c, common.RouteFindVersion, queries, limit, offset, common.WireVersion.Catalog)
}

func (c *rpcCatalog) FindResources(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Resource, error) {
	return find(ctx, c, common.RouteFindResource, queries, limit, offset, common.WireResource.Catalog)
}

func (c *rpcCatalog) FindLinks(ctx context.Context, queries []catalog.QueryDesc, limit, offset int) ([]catalog.Link, error) {
	return find(ctx, c, common.RouteFindLink, queries, limit, offset, common.WireLink.Catalog)
}

func (c *rpcCatalog) GetPublishedVersion(ctx context.Context, itemId string) (*catalog.Version, error) {
	var resp common.PublishedReply
	err := c.retryIdempotent(ctx, common.RouteGetPublished, func() error {
		resp = common.PublishedReply{}
		return c.invokeRPCRequest(ctx, common.RouteGetPublished, common.IdRequest{Id: itemId}, &resp)
	})
	if err != nil || resp.Version == nil {
		return nil, err
	}
	v := resp.Version.Catalog()
	return &v, nil
}

func (c *rpcCatalog) PublishVersion(ctx context.Context, versionId string) error {
	return c.retryIdempotent(ctx, common.RouteSetPublished, func() error {
		return c.invokeRPCRequest(ctx, common.RouteSetPublished, common.IdRequest{Id: versionId}, &common.ErrorReply{})
	})
}

func (c *rpcCatalog) UpdateCollectionFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, c, common.RouteUpdateCollection, common.RouteFindCollection, id, facets,
		func(w common.WireCollection) catalog.Facets { return w.Facets })
}

func (c *rpcCatalog) UpdateItemFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, c, common.RouteUpdateItem, common.RouteFindItem, id, facets,
		func(w common.WireItem) catalog.Facets { return w.Facets })
}

func (c *rpcCatalog) UpdateVersionFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, c, common.RouteUpdateVersion, common.RouteFindVersion, id, facets,
		func(w common.WireVersion) catalog.Facets { return w.Facets })
}

func (c *rpcCatalog) UpdateResourceFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, c, common.RouteUpdateResource, common.RouteFindResource, id, facets,
		func(w common.WireResource) catalog.Facets { return w.Facets })
}

func (c *rpcCatalog) UpdateLinkFacets(ctx context.Context, id string, facets catalog.Facets) error {
	return updateFacets(ctx, c, common.RouteUpdateLink, common.RouteFindLink, id, facets,
		func(w common.WireLink) catalog.Facets { return w.Facets })
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (c *rpcCatalog) delete(ctx context.Context, route, id string) error {
	return c.retryDelete(ctx, route, func() error {
		return c.invokeRPCRequest(ctx, route, common.IdRequest{Id: id}, &common.ErrorReply{})
	})
}

// findOnce sends a single find request without retries
func findOnce[W any](ctx context.Context, c *rpcCatalog, route string, queries []catalog.QueryDesc, limit, offset int) ([]W, error) {
	var resp common.FindReply[W]
	req := common.FindRequest{Query: queries, Limit: limit, Offset: offset}
	if err := c.invokeRPCRequest(ctx, route, req, &resp); err != nil {
		return nil, err
	}
	return resp.All, nil
}

// find drops invalid predicate sets, sends the find request and maps the wire objects
func find[W, T any](ctx context.Context, c *rpcCatalog, route string, queries []catalog.QueryDesc, limit, offset int, convert func(W) T) ([]T, error) {
	queries = catalog.ValidQueries(queries)
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: at least one query with a field set is required", catalog.ErrInvalidInput)
	}

	var all []W
	err := c.retryIdempotent(ctx, route, func() (err error) {
		all, err = findOnce[W](ctx, c, route, queries, limit, offset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return common.ConvertAll(all, convert), nil
}

// create sends a create request. After an ambiguous failure it looks for an object with the
// natural key of the new one (query, checked again by match) and returns its id if present.
func create[W any](ctx context.Context, c *rpcCatalog, route string, req common.CreateRequest, findRoute string, query catalog.QueryDesc, match func(W) (string, bool)) (string, error) {
	var id string
	err := c.retryReconciled(ctx, route, func() error {
		var resp common.CreateReply
		if err := c.invokeRPCRequest(ctx, route, req, &resp); err != nil {
			return err
		}
		id = resp.Id
		return nil
	}, func() (bool, error) {
		// the query can match objects the natural key excludes (an empty parent does
		// not filter), so every page is checked until a match or the last page
		for offset := 0; ; offset += catalog.DefaultQueryLimit {
			found, err := findOnce[W](ctx, c, findRoute, []catalog.QueryDesc{query}, catalog.DefaultQueryLimit, offset)
			if err != nil {
				return false, err
			}
			for _, w := range found {
				if existing, ok := match(w); ok {
					id = existing
					return true, nil
				}
			}
			if len(found) < catalog.DefaultQueryLimit {
				return false, nil
			}
		}
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// updateFacets sends an update request. After an ambiguous failure it reads the object
// and treats the update as applied when every requested facet has the requested value.
// A concurrent writer setting the same values is indistinguishable from our own update.
func updateFacets[W any](ctx context.Context, c *rpcCatalog, route, findRoute, id string, facets catalog.Facets, facetsOf func(W) catalog.Facets) error {
	req := common.UpdateFacetsRequest{Id: id, Facets: facets}
	return c.retryReconciled(ctx, route, func() error {
		return c.invokeRPCRequest(ctx, route, req, &common.ErrorReply{})
	}, func() (bool, error) {
		found, err := findOnce[W](ctx, c, findRoute, []catalog.QueryDesc{{Id: id}}, 1, 0)
		if err != nil {
			return false, err
		}
		if len(found) == 0 {
			return false, fmt.Errorf("%w: %s vanished during update", catalog.ErrNotFound, id)
		}
		return facetsOf(found[0]).Contains(facets), nil
	})
}
