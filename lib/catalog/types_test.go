package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueryDescIsValid(t *testing.T) {
	assert.False(t, QueryDesc{}.IsValid())
	assert.False(t, QueryDesc{Facets: Facets{}}.IsValid())
	assert.True(t, QueryDesc{VersionNumber: 3}.IsValid())
	assert.True(t, QueryDesc{Facets: Facets{"a": "b"}}.IsValid())

	valid := ValidQueries([]QueryDesc{{}, {Name: "a"}, {}, {LinkSrc: "x"}})
	assert.Equal(t, []QueryDesc{{Name: "a"}, {LinkSrc: "x"}}, valid)
}

func TestMatchers(t *testing.T) {
	item := &Item{Id: "i1", Parent: "c1", ItemType: "model", Variant: "default", Facets: Facets{"dept": "model", "lod": "0"}}

	cases := []struct {
		name    string
		queries []QueryDesc
		want    bool
	}{
		{"ById", []QueryDesc{{Id: "i1"}}, true},
		{"AllFieldsAnd", []QueryDesc{{Parent: "c1", ItemType: "model", Variant: "default"}}, true},
		{"OneFieldWrong", []QueryDesc{{Parent: "c1", ItemType: "rig"}}, false},
		{"AnyOf", []QueryDesc{{ItemType: "rig"}, {Variant: "default"}}, true},
		{"FacetSubset", []QueryDesc{{Facets: Facets{"dept": "model"}}}, true},
		{"FacetMismatch", []QueryDesc{{Facets: Facets{"dept": "anim"}}}, false},
		{"FacetMissing", []QueryDesc{{Facets: Facets{"state": "wip"}}}, false},
		{"EmptySetNeverMatches", []QueryDesc{{}}, false},
		{"NoQueries", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, MatchItem(c.queries, item))
		})
	}

	v := &Version{Id: "v1", Parent: "i1", Number: 4}
	assert.True(t, MatchVersion([]QueryDesc{{Parent: "i1", VersionNumber: 4}}, v))
	assert.False(t, MatchVersion([]QueryDesc{{VersionNumber: 5}}, v))

	r := &Resource{Id: "r1", Parent: "v1", Name: "geo", ResourceType: "abc", Location: "/a"}
	assert.True(t, MatchResource([]QueryDesc{{ResourceType: "abc", Name: "geo", Location: "/a"}}, r))
	assert.False(t, MatchResource([]QueryDesc{{Location: "/b"}}, r))

	l := &Link{Id: "l1", Name: "input", Src: "a", Dst: "b"}
	assert.True(t, MatchLink([]QueryDesc{{LinkSrc: "a", LinkDst: "b"}}, l))
	assert.False(t, MatchLink([]QueryDesc{{LinkSrc: "b"}}, l))

	c := &Collection{Id: "c1", Name: "shots"}
	assert.True(t, MatchCollection([]QueryDesc{{Name: "shots"}}, c))
}

func TestFacetsCloneAndCopy(t *testing.T) {
	var nilFacets Facets
	assert.Nil(t, nilFacets.Clone())

	orig := Item{Id: "i", Facets: Facets{"a": "1"}}
	cp := orig.Copy()
	cp.Facets["a"] = "2"
	assert.Equal(t, "1", orig.Facets["a"])
}

func TestQueryDescString(t *testing.T) {
	q := QueryDesc{Parent: "p", VersionNumber: 2, Facets: Facets{"a": "b"}}
	assert.Equal(t, "{parent=p versionnumber=2 facets=1}", q.String())
	assert.Equal(t, "{}", QueryDesc{}.String())
}
