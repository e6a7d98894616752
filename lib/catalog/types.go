package catalog

import (
	"strconv"
)

// Facets is free-form key/value metadata attached to every catalog object
type Facets map[string]string

// Clone returns a copy of the facets (nil stays nil)
func (f Facets) Clone() Facets {
	if f == nil {
		return nil
	}
	c := make(Facets, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Contains reports whether every key of other is present in f with the same value
func (f Facets) Contains(other Facets) bool {
	for k, v := range other {
		if got, ok := f[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Catalog objects
// --------------------------------------------------------------------------

// Collection is the root grouping of items. Parent may be empty for top level collections.
type Collection struct {
	Id     string `json:"id"`
	Parent string `json:"parent"`
	Name   string `json:"name"`
	Facets Facets `json:"facets"`
}

// Item lives in a collection and is identified by (ItemType, Variant) within its parent
type Item struct {
	Id       string `json:"id"`
	Parent   string `json:"parent"`
	ItemType string `json:"itemtype"`
	Variant  string `json:"variant"`
	Facets   Facets `json:"facets"`
}

// Version is a numbered revision of an item. Number is assigned by the server.
type Version struct {
	Id     string `json:"id"`
	Parent string `json:"parent"`
	Number int    `json:"number"`
	Facets Facets `json:"facets"`
}

// Resource is a typed, named location attached to a version
type Resource struct {
	Id           string `json:"id"`
	Parent       string `json:"parent"`
	Name         string `json:"name"`
	ResourceType string `json:"resourcetype"`
	Location     string `json:"location"`
	Facets       Facets `json:"facets"`
}

// Link connects two items or two versions
type Link struct {
	Id     string `json:"id"`
	Name   string `json:"name"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Facets Facets `json:"facets"`
}

// Copy returns a collection that shares no facets with c
func (c Collection) Copy() Collection {
	c.Facets = c.Facets.Clone()
	return c
}

// Copy returns an item that shares no facets with i
func (i Item) Copy() Item {
	i.Facets = i.Facets.Clone()
	return i
}

// Copy returns a version that shares no facets with v
func (v Version) Copy() Version {
	v.Facets = v.Facets.Clone()
	return v
}

// Copy returns a resource that shares no facets with r
func (r Resource) Copy() Resource {
	r.Facets = r.Facets.Clone()
	return r
}

// Copy returns a link that shares no facets with l
func (l Link) Copy() Link {
	l.Facets = l.Facets.Clone()
	return l
}

// --------------------------------------------------------------------------
// Queries
// --------------------------------------------------------------------------

// QueryDesc is a single predicate set. All fields that are set must match (AND).
// A list of QueryDesc matches if any member matches (OR).
type QueryDesc struct {
	Id            string `json:"id,omitempty"`
	Parent        string `json:"parent,omitempty"`
	VersionNumber int    `json:"versionnumber,omitempty"`
	ItemType      string `json:"itemtype,omitempty"`
	Variant       string `json:"variant,omitempty"`
	Facets        Facets `json:"facets,omitempty"`
	Name          string `json:"name,omitempty"`
	ResourceType  string `json:"resourcetype,omitempty"`
	Location      string `json:"location,omitempty"`
	LinkSrc       string `json:"linksrc,omitempty"`
	LinkDst       string `json:"linkdst,omitempty"`
}

// IsValid reports whether at least one field of the predicate set is set
func (q QueryDesc) IsValid() bool {
	return q.Id != "" || q.Parent != "" || q.VersionNumber != 0 || q.ItemType != "" ||
		q.Variant != "" || len(q.Facets) > 0 || q.Name != "" || q.ResourceType != "" ||
		q.Location != "" || q.LinkSrc != "" || q.LinkDst != ""
}

// String returns a compact representation used in log lines
func (q QueryDesc) String() string {
	s := "{"
	add := func(k, v string) {
		if v == "" {
			return
		}
		if len(s) > 1 {
			s += " "
		}
		s += k + "=" + v
	}
	add("id", q.Id)
	add("parent", q.Parent)
	if q.VersionNumber != 0 {
		add("versionnumber", strconv.Itoa(q.VersionNumber))
	}
	add("itemtype", q.ItemType)
	add("variant", q.Variant)
	add("name", q.Name)
	add("resourcetype", q.ResourceType)
	add("location", q.Location)
	add("linksrc", q.LinkSrc)
	add("linkdst", q.LinkDst)
	if len(q.Facets) > 0 {
		add("facets", strconv.Itoa(len(q.Facets)))
	}
	return s + "}"
}

// ValidQueries drops predicate sets without any field set
func ValidQueries(queries []QueryDesc) []QueryDesc {
	valid := make([]QueryDesc, 0, len(queries))
	for _, q := range queries {
		if q.IsValid() {
			valid = append(valid, q)
		}
	}
	return valid
}

// matcher is the set of fields a predicate set can be checked against
type matcher struct {
	id, parent, itemType, variant, name, resourceType, location, linkSrc, linkDst string
	versionNumber                                                                 int
	facets                                                                        Facets
}

func (q QueryDesc) matches(m matcher) bool {
	switch {
	case q.Id != "" && q.Id != m.id:
		return false
	case q.Parent != "" && q.Parent != m.parent:
		return false
	case q.VersionNumber != 0 && q.VersionNumber != m.versionNumber:
		return false
	case q.ItemType != "" && q.ItemType != m.itemType:
		return false
	case q.Variant != "" && q.Variant != m.variant:
		return false
	case q.Name != "" && q.Name != m.name:
		return false
	case q.ResourceType != "" && q.ResourceType != m.resourceType:
		return false
	case q.Location != "" && q.Location != m.location:
		return false
	case q.LinkSrc != "" && q.LinkSrc != m.linkSrc:
		return false
	case q.LinkDst != "" && q.LinkDst != m.linkDst:
		return false
	}
	return m.facets.Contains(q.Facets)
}

// matchAny implements the OR over a list of predicate sets. Invalid sets never match.
func matchAny(queries []QueryDesc, m matcher) bool {
	for _, q := range queries {
		if q.IsValid() && q.matches(m) {
			return true
		}
	}
	return false
}

// MatchCollection reports whether c matches any of the queries
func MatchCollection(queries []QueryDesc, c *Collection) bool {
	return matchAny(queries, matcher{id: c.Id, parent: c.Parent, name: c.Name, facets: c.Facets})
}

// MatchItem reports whether i matches any of the queries
func MatchItem(queries []QueryDesc, i *Item) bool {
	return matchAny(queries, matcher{id: i.Id, parent: i.Parent, itemType: i.ItemType, variant: i.Variant, facets: i.Facets})
}

// MatchVersion reports whether v matches any of the queries
func MatchVersion(queries []QueryDesc, v *Version) bool {
	return matchAny(queries, matcher{id: v.Id, parent: v.Parent, versionNumber: v.Number, facets: v.Facets})
}

// MatchResource reports whether r matches any of the queries
func MatchResource(queries []QueryDesc, r *Resource) bool {
	return matchAny(queries, matcher{id: r.Id, parent: r.Parent, name: r.Name, resourceType: r.ResourceType, location: r.Location, facets: r.Facets})
}

// MatchLink reports whether l matches any of the queries
func MatchLink(queries []QueryDesc, l *Link) bool {
	return matchAny(queries, matcher{id: l.Id, name: l.Name, linkSrc: l.Src, linkDst: l.Dst, facets: l.Facets})
}
