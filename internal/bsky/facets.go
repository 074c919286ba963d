package bsky

import (
	"context"
	"regexp"
	"strings"
)

var (
	urlPattern     = regexp.MustCompile(`https?://[^\s<>"']+[^\s<>"'.,;:!?)]`)
	mentionPattern = regexp.MustCompile(`(^|\s)(@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,})`)
)

// DetectFacets scans text for links and @handle mentions and returns byte-offset
// rich-text facets for them. Mentions that fail to resolve to a DID are left as
// plain text rather than producing a broken facet.
func (c *Client) DetectFacets(ctx context.Context, text string) []Facet {
	var facets []Facet

	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		facets = append(facets, Facet{
			Index: ByteSlice{ByteStart: loc[0], ByteEnd: loc[1]},
			Features: []FacetFeature{{
				Type: "app.bsky.richtext.facet#link",
				URI:  text[loc[0]:loc[1]],
			}},
		})
	}

	for _, loc := range mentionPattern.FindAllStringSubmatchIndex(text, -1) {
		// Submatch 2 is the @handle token itself; the leading boundary is not
		// part of the facet range.
		start, end := loc[4], loc[5]
		handle := strings.TrimPrefix(text[start:end], "@")

		did, err := c.ResolveHandle(ctx, handle)
		if err != nil {
			c.logger.Debug().Err(err).Str("handle", handle).Msg("skipping unresolvable mention")
			continue
		}

		facets = append(facets, Facet{
			Index: ByteSlice{ByteStart: start, ByteEnd: end},
			Features: []FacetFeature{{
				Type: "app.bsky.richtext.facet#mention",
				DID:  did,
			}},
		})
	}

	return facets
}
