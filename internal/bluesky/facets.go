package bluesky

import "strings"

// Facet is a rich-text annotation over a byte range of post text.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

// ByteSlice addresses a span of the post text in UTF-8 bytes. The
// rich-text protocol counts bytes, not characters.
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature marks what the span is; only tag features are used here.
type FacetFeature struct {
	Type string `json:"$type"`
	Tag  string `json:"tag,omitempty"`
}

// TagFacets locates each "#tag" occurrence in text and returns tag
// facets with UTF-8 byte offsets. Tags not present in the text are
// skipped.
func TagFacets(text string, tags []string) []Facet {
	var facets []Facet
	for _, tag := range tags {
		needle := "#" + tag
		pos := strings.Index(text, needle)
		if pos == -1 {
			continue
		}
		facets = append(facets, Facet{
			Index: ByteSlice{
				ByteStart: pos,
				ByteEnd:   pos + len(needle),
			},
			Features: []FacetFeature{{
				Type: "app.bsky.richtext.facet#tag",
				Tag:  tag,
			}},
		})
	}
	return facets
}
