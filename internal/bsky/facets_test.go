package bsky

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFacets_Links(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	text := "see https://example.com/one and http://test.org/two?a=b for details"
	facets := client.DetectFacets(context.Background(), text)

	require.Len(t, facets, 2)

	assert.Equal(t, "app.bsky.richtext.facet#link", facets[0].Features[0].Type)
	assert.Equal(t, "https://example.com/one", facets[0].Features[0].URI)
	assert.Equal(t, "http://test.org/two?a=b", facets[1].Features[0].URI)

	// Byte offsets must index the exact URL substring.
	f := facets[0]
	assert.Equal(t, "https://example.com/one", text[f.Index.ByteStart:f.Index.ByteEnd])
}

func TestDetectFacets_Mentions(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/xrpc/com.atproto.identity.resolveHandle" {
			json.NewEncoder(w).Encode(resolveHandleResponse{DID: "did:plc:mentioned"})
		}
	})

	text := "thanks @alice.bsky.social for the question"
	facets := client.DetectFacets(context.Background(), text)

	require.Len(t, facets, 1)
	assert.Equal(t, "app.bsky.richtext.facet#mention", facets[0].Features[0].Type)
	assert.Equal(t, "did:plc:mentioned", facets[0].Features[0].DID)
	assert.Equal(t, "@alice.bsky.social", text[facets[0].Index.ByteStart:facets[0].Index.ByteEnd])
}

func TestDetectFacets_UnresolvableMentionSkipped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(xrpcError{Error: "InvalidRequest", Message: "Unable to resolve handle"})
	})

	facets := client.DetectFacets(context.Background(), "hello @ghost.invalid.example more text")
	assert.Empty(t, facets)
}

func TestDetectFacets_PlainText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	assert.Empty(t, client.DetectFacets(context.Background(), "no links or mentions here"))
}
