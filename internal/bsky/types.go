package bsky

import "github.com/explainbot/pkg/models"

// Typed request/response schemas for the XRPC endpoints the bot touches.
// Everything crossing the wire goes through these, never ad hoc maps.

type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ByteSlice is a byte-offset range into the post text, as the rich-text schema
// counts it (UTF-8 bytes, not runes).
type ByteSlice struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

// FacetFeature is one rich-text annotation: a link or a mention.
type FacetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
}

// Facet attaches features to a byte range of the post text.
type Facet struct {
	Index    ByteSlice      `json:"index"`
	Features []FacetFeature `json:"features"`
}

type replyRef struct {
	Root   models.PostRef `json:"root"`
	Parent models.PostRef `json:"parent"`
}

type postRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	Facets    []Facet   `json:"facets,omitempty"`
	Reply     *replyRef `json:"reply,omitempty"`
	CreatedAt string    `json:"createdAt"`
}

type createRecordRequest struct {
	Repo       string     `json:"repo"`
	Collection string     `json:"collection"`
	Record     postRecord `json:"record"`
}

type createRecordResponse struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type deleteRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Rkey       string `json:"rkey"`
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

type getPostsResponse struct {
	Posts []struct {
		URI    string `json:"uri"`
		CID    string `json:"cid"`
		Author struct {
			DID    string `json:"did"`
			Handle string `json:"handle"`
		} `json:"author"`
		Record struct {
			Text string `json:"text"`
		} `json:"record"`
	} `json:"posts"`
}
