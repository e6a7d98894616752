package catalog

import (
	"context"
	"errors"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DefaultQueryLimit is the limit used by find operations when none is given
const DefaultQueryLimit = 500

// ICatalog is the interface for interacting with an asset catalog.
// Create operations return the id assigned to the new object.
// Find operations take a list of predicate sets (OR) and return at most limit results starting at offset.
type ICatalog interface {
	// CreateCollection creates a collection. Name must be unique within the parent.
	CreateCollection(ctx context.Context, c Collection) (id string, err error)
	// CreateItem creates an item. (ItemType, Variant) must be unique within the parent collection.
	CreateItem(ctx context.Context, i Item) (id string, err error)
	// CreateVersion creates the next version of an item and returns its id and number.
	CreateVersion(ctx context.Context, v Version) (id string, number int, err error)
	// CreateResource creates a resource on a version.
	// (ResourceType, Name, Location) must be unique within the parent version.
	CreateResource(ctx context.Context, r Resource) (id string, err error)
	// CreateLink creates a link between two objects of the same kind
	CreateLink(ctx context.Context, l Link) (id string, err error)

	// DeleteCollection deletes a collection and everything below it
	DeleteCollection(ctx context.Context, id string) error
	// DeleteItem deletes an item, its versions and links
	DeleteItem(ctx context.Context, id string) error
	// DeleteVersion deletes a version, its resources and links
	DeleteVersion(ctx context.Context, id string) error
	// DeleteResource deletes a resource
	DeleteResource(ctx context.Context, id string) error

	FindCollections(ctx context.Context, queries []QueryDesc, limit, offset int) ([]Collection, error)
	FindItems(ctx context.Context, queries []QueryDesc, limit, offset int) ([]Item, error)
	FindVersions(ctx context.Context, queries []QueryDesc, limit, offset int) ([]Version, error)
	FindResources(ctx context.Context, queries []QueryDesc, limit, offset int) ([]Resource, error)
	FindLinks(ctx context.Context, queries []QueryDesc, limit, offset int) ([]Link, error)

	// GetPublishedVersion returns the published version of an item, or nil if none is published
	GetPublishedVersion(ctx context.Context, itemId string) (*Version, error)
	// PublishVersion marks a version as the published version of its item
	PublishVersion(ctx context.Context, versionId string) error

	// Update*Facets merges the given facets into the facets of the object with the given id
	UpdateCollectionFacets(ctx context.Context, id string, facets Facets) error
	UpdateItemFacets(ctx context.Context, id string, facets Facets) error
	UpdateVersionFacets(ctx context.Context, id string, facets Facets) error
	UpdateResourceFacets(ctx context.Context, id string, facets Facets) error
	UpdateLinkFacets(ctx context.Context, id string, facets Facets) error
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// Error values returned by ICatalog implementations. The texts double as the
// tokens that classify an error when it crosses the wire.
var (
	ErrAlreadyExists    = errors.New("already-exists")
	ErrNotFound         = errors.New("not-found")
	ErrInvalidInput     = errors.New("invalid-input")
	ErrIllegalOperation = errors.New("illegal-operation")
)
