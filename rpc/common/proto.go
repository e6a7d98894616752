package common

import (
	"github.com/ValentinKolb/wBridge/lib/catalog"
)

// --------------------------------------------------------------------------
// Routing keys
// --------------------------------------------------------------------------

// RoutePrefix is the namespace of all subjects served by the catalog responder
const RoutePrefix = "app.client."

// Routing keys, one per catalog operation
const (
	RouteCreateCollection = RoutePrefix + "cc"
	RouteCreateItem       = RoutePrefix + "ci"
	RouteCreateVersion    = RoutePrefix + "cv"
	RouteCreateResource   = RoutePrefix + "cr"
	RouteCreateLink       = RoutePrefix + "cl"

	RouteDeleteCollection = RoutePrefix + "dc"
	RouteDeleteItem       = RoutePrefix + "di"
	RouteDeleteVersion    = RoutePrefix + "dv"
	RouteDeleteResource   = RoutePrefix + "dr"

	RouteFindCollection = RoutePrefix + "fc"
	RouteFindItem       = RoutePrefix + "fi"
	RouteFindVersion    = RoutePrefix + "fv"
	RouteFindResource   = RoutePrefix + "fr"
	RouteFindLink       = RoutePrefix + "fl"

	RouteGetPublished = RoutePrefix + "gp"
	RouteSetPublished = RoutePrefix + "sp"

	RouteUpdateCollection = RoutePrefix + "uc"
	RouteUpdateItem       = RoutePrefix + "ui"
	RouteUpdateVersion    = RoutePrefix + "uv"
	RouteUpdateResource   = RoutePrefix + "ur"
	RouteUpdateLink       = RoutePrefix + "ul"
)

// Routes returns every routing key in a stable order
func Routes() []string {
	return []string{
		RouteCreateCollection, RouteCreateItem, RouteCreateVersion, RouteCreateResource, RouteCreateLink,
		RouteDeleteCollection, RouteDeleteItem, RouteDeleteVersion, RouteDeleteResource,
		RouteFindCollection, RouteFindItem, RouteFindVersion, RouteFindResource, RouteFindLink,
		RouteGetPublished, RouteSetPublished,
		RouteUpdateCollection, RouteUpdateItem, RouteUpdateVersion, RouteUpdateResource, RouteUpdateLink,
	}
}

// --------------------------------------------------------------------------
// Request envelopes
// --------------------------------------------------------------------------

// CreateRequest carries exactly one object to create
type CreateRequest struct {
	Collection *catalog.Collection `json:"Collection,omitempty"`
	Item       *catalog.Item       `json:"Item,omitempty"`
	Version    *catalog.Version    `json:"Version,omitempty"`
	Resource   *catalog.Resource   `json:"Resource,omitempty"`
	Link       *catalog.Link       `json:"Link,omitempty"`
}

// IdRequest is used by delete, get-published and set-published
type IdRequest struct {
	Id string `json:"id"`
}

// FindRequest carries a list of predicate sets. Invalid sets are dropped before sending.
type FindRequest struct {
	Query  []catalog.QueryDesc `json:"query"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// UpdateFacetsRequest merges Facets into the object with the given id
type UpdateFacetsRequest struct {
	Id     string         `json:"id"`
	Facets catalog.Facets `json:"facets"`
}

// --------------------------------------------------------------------------
// Reply envelopes
// --------------------------------------------------------------------------

// Reply is implemented by every reply envelope
type Reply interface {
	// ErrorText returns the Error field, empty on success
	ErrorText() string
}

// ErrorReply is the reply of operations without a result. Error is empty on success.
type ErrorReply struct {
	Error string `json:"Error"`
}

// CreateReply is the reply of a create operation. Version is only set for create-version.
type CreateReply struct {
	Error   string `json:"Error"`
	Id      string `json:"Id,omitempty"`
	Version int    `json:"Version,omitempty"`
}

// FindReply is the reply of a find operation
type FindReply[T any] struct {
	Error string `json:"Error"`
	All   []T    `json:"All"`
}

// PublishedReply is the reply of get-published. Version is nil when nothing is published.
type PublishedReply struct {
	Error   string       `json:"Error"`
	Version *WireVersion `json:"Version,omitempty"`
}

func (r *ErrorReply) ErrorText() string { return r.Error }
func (r *CreateReply) ErrorText() string { return r.Error }
func (r *FindReply[T]) ErrorText() string { return r.Error }
func (r *PublishedReply) ErrorText() string { return r.Error }

// --------------------------------------------------------------------------
// Reply objects
//
// The server replies with UpperCase keys. These types are the mapping table
// between the wire names and the catalog types.
// --------------------------------------------------------------------------

type WireCollection struct {
	Id     string         `json:"Id"`
	Parent string         `json:"Parent"`
	Name   string         `json:"Name"`
	Facets catalog.Facets `json:"Facets"`
}

type WireItem struct {
	Id       string         `json:"Id"`
	Parent   string         `json:"Parent"`
	ItemType string         `json:"ItemType"`
	Variant  string         `json:"Variant"`
	Facets   catalog.Facets `json:"Facets"`
}

type WireVersion struct {
	Id     string         `json:"Id"`
	Parent string         `json:"Parent"`
	Number int            `json:"Number"`
	Facets catalog.Facets `json:"Facets"`
}

type WireResource struct {
	Id           string         `json:"Id"`
	Parent       string         `json:"Parent"`
	Name         string         `json:"Name"`
	ResourceType string         `json:"ResourceType"`
	Location     string         `json:"Location"`
	Facets       catalog.Facets `json:"Facets"`
}

type WireLink struct {
	Id     string         `json:"Id"`
	Name   string         `json:"Name"`
	Src    string         `json:"Src"`
	Dst    string         `json:"Dst"`
	Facets catalog.Facets `json:"Facets"`
}

func (w WireCollection) Catalog() catalog.Collection {
	return catalog.Collection{Id: w.Id, Parent: w.Parent, Name: w.Name, Facets: w.Facets}
}

func (w WireItem) Catalog() catalog.Item {
	return catalog.Item{Id: w.Id, Parent: w.Parent, ItemType: w.ItemType, Variant: w.Variant, Facets: w.Facets}
}

func (w WireVersion) Catalog() catalog.Version {
	return catalog.Version{Id: w.Id, Parent: w.Parent, Number: w.Number, Facets: w.Facets}
}

func (w WireResource) Catalog() catalog.Resource {
	return catalog.Resource{Id: w.Id, Parent: w.Parent, Name: w.Name, ResourceType: w.ResourceType, Location: w.Location, Facets: w.Facets}
}

func (w WireLink) Catalog() catalog.Link {
	return catalog.Link{Id: w.Id, Name: w.Name, Src: w.Src, Dst: w.Dst, Facets: w.Facets}
}

func NewWireCollection(c catalog.Collection) WireCollection {
	return WireCollection{Id: c.Id, Parent: c.Parent, Name: c.Name, Facets: c.Facets}
}

func NewWireItem(i catalog.Item) WireItem {
	return WireItem{Id: i.Id, Parent: i.Parent, ItemType: i.ItemType, Variant: i.Variant, Facets: i.Facets}
}

func NewWireVersion(v catalog.Version) WireVersion {
	return WireVersion{Id: v.Id, Parent: v.Parent, Number: v.Number, Facets: v.Facets}
}

func NewWireResource(r catalog.Resource) WireResource {
	return WireResource{Id: r.Id, Parent: r.Parent, Name: r.Name, ResourceType: r.ResourceType, Location: r.Location, Facets: r.Facets}
}

func NewWireLink(l catalog.Link) WireLink {
	return WireLink{Id: l.Id, Name: l.Name, Src: l.Src, Dst: l.Dst, Facets: l.Facets}
}

// ConvertAll maps a slice with the given conversion function
func ConvertAll[S, D any](in []S, convert func(S) D) []D {
	out := make([]D, len(in))
	for i := range in {
		out[i] = convert(in[i])
	}
	return out
}
