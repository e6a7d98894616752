package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/wBridge/lib/catalog"
	"github.com/ValentinKolb/wBridge/rpc/common"
	"github.com/ValentinKolb/wBridge/rpc/serializer"
)

func NewICatalogServerAdapter(serializer serializer.IRPCSerializer) IRPCServerAdapter {
	return &iCatalogServerAdapterImpl{serializer: serializer}
}

type iCatalogServerAdapterImpl struct {
	serializer serializer.IRPCSerializer
}

func (adapter *iCatalogServerAdapterImpl) Handle(ctx context.Context, route string, req []byte, cat catalog.ICatalog) common.Reply {
	// Check for nil catalog
	if cat == nil {
		return &common.ErrorReply{Error: "handler: catalog is nil"}
	}

	// Handle the different routes
	switch route {
	case common.RouteCreateCollection, common.RouteCreateItem, common.RouteCreateVersion,
		common.RouteCreateResource, common.RouteCreateLink:
		r, err := decode[common.CreateRequest](adapter.serializer, req)
		if err != nil {
			return &common.CreateReply{Error: common.ServerErrorText(err)}
		}
		return create(ctx, route, r, cat)

	case common.RouteDeleteCollection, common.RouteDeleteItem, common.RouteDeleteVersion, common.RouteDeleteResource:
		r, err := decode[common.IdRequest](adapter.serializer, req)
		if err == nil {
			err = remove(ctx, route, r.Id, cat)
		}
		return &common.ErrorReply{Error: common.ServerErrorText(err)}

	case common.RouteFindCollection:
		r, err := decode[common.FindRequest](adapter.serializer, req)
		if err != nil {
			return &common.FindReply[common.WireCollection]{Error: common.ServerErrorText(err)}
		}
		found, err := cat.FindCollections(ctx, r.Query, r.Limit, r.Offset)
		return findReply(found, err, common.NewWireCollection)
	case common.RouteFindItem:
		r, err := decode[common.FindRequest](adapter.serializer, req)
		if err != nil {
			return &common.FindReply[common.WireItem]{Error: common.ServerErrorText(err)}
		}
		found, err := cat.FindItems(ctx, r.Query, r.Limit, r.Offset)
		return findReply(found, err, common.NewWireItem)
	case common.RouteFindVersion:
		r, err := decode[common.FindRequest](adapter.serializer, req)
		if err != nil {
			return &common.FindReply[common.WireVersion]{Error: common.ServerErrorText(err)}
		}
		found, err := cat.FindVersions(ctx, r.Query, r.Limit, r.Offset)
		return findReply(found, err, common.NewWireVersion)
	case common.RouteFindResource:
		r, err := decode[common.FindRequest](adapter.serializer, req)
		if err != nil {
			return &common.FindReply[common.WireResource]{Error: common.ServerErrorText(err)}
		}
		found, err := cat.FindResources(ctx, r.Query, r.Limit, r.Offset)
		return findReply(found, err, common.NewWireResource)
	case common.RouteFindLink:
		r, err := decode[common.FindRequest](adapter.serializer, req)
		if err != nil {
			return &common.FindReply[common.WireLink]{Error: common.ServerErrorText(err)}
		}
		found, err := cat.FindLinks(ctx, r.Query, r.Limit, r.Offset)
		return findReply(found, err, common.NewWireLink)

	case common.RouteGetPublished:
		r, err := decode[common.IdRequest](adapter.serializer, req)
		if err != nil {
			return &common.PublishedReply{Error: common.ServerErrorText(err)}
		}
		v, err := cat.GetPublishedVersion(ctx, r.Id)
		if err != nil {
			return &common.PublishedReply{Error: common.ServerErrorText(err)}
		}
		if v == nil {
			return &common.PublishedReply{}
		}
		w := common.NewWireVersion(*v)
		return &common.PublishedReply{Version: &w}
	case common.RouteSetPublished:
		r, err := decode[common.IdRequest](adapter.serializer, req)
		if err == nil {
			err = cat.PublishVersion(ctx, r.Id)
		}
		return &common.ErrorReply{Error: common.ServerErrorText(err)}

	case common.RouteUpdateCollection, common.RouteUpdateItem, common.RouteUpdateVersion,
		common.RouteUpdateResource, common.RouteUpdateLink:
		r, err := decode[common.UpdateFacetsRequest](adapter.serializer, req)
		if err == nil {
			err = updateFacets(ctx, route, r, cat)
		}
		return &common.ErrorReply{Error: common.ServerErrorText(err)}

	default:
		return &common.ErrorReply{
			Error: common.NewServerErrorText(common.KindIllegalOperation, fmt.Sprintf("unsupported route %s", route)),
		}
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func decode[T any](s serializer.IRPCSerializer, b []byte) (T, error) {
	var v T
	if err := s.Deserialize(b, &v); err != nil {
		return v, fmt.Errorf("%w: failed to deserialize request: %v", catalog.ErrInvalidInput, err)
	}
	return v, nil
}

func findReply[T, W any](found []T, err error, convert func(T) W) common.Reply {
	if err != nil {
		return &common.FindReply[W]{Error: common.ServerErrorText(err)}
	}
	return &common.FindReply[W]{All: common.ConvertAll(found, convert)}
}

// create runs the create operation of route, the request must carry the matching object
func create(ctx context.Context, route string, r common.CreateRequest, cat catalog.ICatalog) common.Reply {
	var (
		id      string
		version int
		err     error
	)

	switch {
	case route == common.RouteCreateCollection && r.Collection != nil:
		id, err = cat.CreateCollection(ctx, *r.Collection)
	case route == common.RouteCreateItem && r.Item != nil:
		id, err = cat.CreateItem(ctx, *r.Item)
	case route == common.RouteCreateVersion && r.Version != nil:
		id, version, err = cat.CreateVersion(ctx, *r.Version)
	case route == common.RouteCreateResource && r.Resource != nil:
		id, err = cat.CreateResource(ctx, *r.Resource)
	case route == common.RouteCreateLink && r.Link != nil:
		id, err = cat.CreateLink(ctx, *r.Link)
	default:
		err = fmt.Errorf("%w: request for %s carries no matching object", catalog.ErrInvalidInput, route)
	}

	if err != nil {
		return &common.CreateReply{Error: common.ServerErrorText(err)}
	}
	return &common.CreateReply{Id: id, Version: version}
}

func remove(ctx context.Context, route, id string, cat catalog.ICatalog) error {
	switch route {
	case common.RouteDeleteCollection:
		return cat.DeleteCollection(ctx, id)
	case common.RouteDeleteItem:
		return cat.DeleteItem(ctx, id)
	case common.RouteDeleteVersion:
		return cat.DeleteVersion(ctx, id)
	default:
		return cat.DeleteResource(ctx, id)
	}
}

func updateFacets(ctx context.Context, route string, r common.UpdateFacetsRequest, cat catalog.ICatalog) error {
	switch route {
	case common.RouteUpdateCollection:
		return cat.UpdateCollectionFacets(ctx, r.Id, r.Facets)
	case common.RouteUpdateItem:
		return cat.UpdateItemFacets(ctx, r.Id, r.Facets)
	case common.RouteUpdateVersion:
		return cat.UpdateVersionFacets(ctx, r.Id, r.Facets)
	case common.RouteUpdateResource:
		return cat.UpdateResourceFacets(ctx, r.Id, r.Facets)
	default:
		return cat.UpdateLinkFacets(ctx, r.Id, r.Facets)
	}
}
