// Package bsky is a typed HTTP client for the small slice of the Bluesky XRPC
// surface the bot needs: session management, record create/delete, post
// lookup, handle resolution, and rich-text facet detection.
package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/explainbot/pkg/models"
)

const feedPostCollection = "app.bsky.feed.post"

// Client talks to a Bluesky PDS over XRPC. Safe for concurrent use; session
// tokens are swapped under a mutex when refreshed.
type Client struct {
	baseURL    string
	identifier string
	password   string
	client     *http.Client
	logger     zerolog.Logger

	mu         sync.Mutex
	accessJwt  string
	refreshJwt string
	did        string
}

// NewClient creates a client for the given PDS host (e.g. https://bsky.social).
func NewClient(host, identifier, password string, logger zerolog.Logger) *Client {
	host = strings.TrimSuffix(host, "/")

	return &Client{
		baseURL:    fmt.Sprintf("%s/xrpc", host),
		identifier: identifier,
		password:   password,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With().Str("component", "bsky").Logger(),
	}
}

// Login establishes a session with the PDS. Must succeed before any
// authenticated call.
func (c *Client) Login(ctx context.Context) error {
	var session sessionResponse
	err := c.doWithToken(ctx, http.MethodPost, "com.atproto.server.createSession", "",
		createSessionRequest{Identifier: c.identifier, Password: c.password}, &session)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	c.mu.Lock()
	c.accessJwt = session.AccessJwt
	c.refreshJwt = session.RefreshJwt
	c.did = session.DID
	c.mu.Unlock()

	c.logger.Info().Str("did", session.DID).Str("handle", session.Handle).Msg("session established")
	return nil
}

// DID returns the authenticated account's DID. Empty before Login.
func (c *Client) DID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.did
}

// refreshSession trades the refresh token for a fresh access token.
func (c *Client) refreshSession(ctx context.Context) error {
	c.mu.Lock()
	refreshJwt := c.refreshJwt
	c.mu.Unlock()

	if refreshJwt == "" {
		return c.Login(ctx)
	}

	var session sessionResponse
	err := c.doWithToken(ctx, http.MethodPost, "com.atproto.server.refreshSession", refreshJwt, nil, &session)
	if err != nil {
		// Refresh token may itself have expired; fall back to a full login.
		c.logger.Warn().Err(err).Msg("session refresh failed, re-authenticating")
		return c.Login(ctx)
	}

	c.mu.Lock()
	c.accessJwt = session.AccessJwt
	c.refreshJwt = session.RefreshJwt
	c.did = session.DID
	c.mu.Unlock()

	return nil
}

// CreateReplyPost runs rich-text facet detection over text and publishes it as
// a reply record. Facet detection happens before publishing so links and
// mentions render correctly; callers rely on that ordering.
func (c *Client) CreateReplyPost(ctx context.Context, text string, link models.ReplyLink) (*models.PostRef, error) {
	facets := c.DetectFacets(ctx, text)

	c.mu.Lock()
	repo := c.did
	c.mu.Unlock()

	req := createRecordRequest{
		Repo:       repo,
		Collection: feedPostCollection,
		Record: postRecord{
			Type:      feedPostCollection,
			Text:      text,
			Facets:    facets,
			Reply:     &replyRef{Root: link.Root, Parent: link.Parent},
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}

	var resp createRecordResponse
	if err := c.authed(ctx, http.MethodPost, "com.atproto.repo.createRecord", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to create post record: %w", err)
	}

	return &models.PostRef{URI: resp.URI, CID: resp.CID}, nil
}

// DeletePost deletes a post previously created by this account.
func (c *Client) DeletePost(ctx context.Context, ref models.PostRef) error {
	rkey, err := recordKey(ref.URI)
	if err != nil {
		return err
	}

	c.mu.Lock()
	repo := c.did
	c.mu.Unlock()

	req := deleteRecordRequest{
		Repo:       repo,
		Collection: feedPostCollection,
		Rkey:       rkey,
	}

	if err := c.authed(ctx, http.MethodPost, "com.atproto.repo.deleteRecord", req, nil); err != nil {
		return fmt.Errorf("failed to delete post record: %w", err)
	}

	return nil
}

// Post is a hydrated view of one published post.
type Post struct {
	URI          string
	CID          string
	Text         string
	AuthorDID    string
	AuthorHandle string
}

// GetPost fetches a single post, used by the feed listener for the mention
// author's handle and for parent-post context when a mention arrives inside a
// thread.
func (c *Client) GetPost(ctx context.Context, ref models.PostRef) (*Post, error) {
	endpoint := fmt.Sprintf("app.bsky.feed.getPosts?uris=%s", url.QueryEscape(ref.URI))

	var resp getPostsResponse
	if err := c.authed(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch post: %w", err)
	}

	if len(resp.Posts) == 0 {
		return nil, fmt.Errorf("post not found: %s", ref.URI)
	}

	p := resp.Posts[0]
	return &Post{
		URI:          p.URI,
		CID:          p.CID,
		Text:         p.Record.Text,
		AuthorDID:    p.Author.DID,
		AuthorHandle: p.Author.Handle,
	}, nil
}

// ResolveHandle resolves a handle to its DID. Used for mention facets.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	endpoint := fmt.Sprintf("com.atproto.identity.resolveHandle?handle=%s", url.QueryEscape(handle))

	var resp resolveHandleResponse
	if err := c.doWithToken(ctx, http.MethodGet, endpoint, "", nil, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve handle %s: %w", handle, err)
	}

	return resp.DID, nil
}

// authed performs an authenticated request, refreshing the session once on an
// expired-token response.
func (c *Client) authed(ctx context.Context, method, endpoint string, body, out interface{}) error {
	c.mu.Lock()
	token := c.accessJwt
	c.mu.Unlock()

	err := c.doWithToken(ctx, method, endpoint, token, body, out)
	if err != nil && strings.Contains(err.Error(), "ExpiredToken") {
		if refreshErr := c.refreshSession(ctx); refreshErr != nil {
			return refreshErr
		}
		c.mu.Lock()
		token = c.accessJwt
		c.mu.Unlock()
		return c.doWithToken(ctx, method, endpoint, token, body, out)
	}
	return err
}

func (c *Client) doWithToken(ctx context.Context, method, endpoint, token string, body, out interface{}) error {
	requestURL := fmt.Sprintf("%s/%s", c.baseURL, endpoint)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)

		var xerr xrpcError
		if json.Unmarshal(respBody, &xerr) == nil && xerr.Error != "" {
			return fmt.Errorf("XRPC request failed with status %d: %s: %s",
				resp.StatusCode, xerr.Error, xerr.Message)
		}
		return fmt.Errorf("XRPC request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// recordKey extracts the record key from an at:// URI such as
// at://did:plc:abc/app.bsky.feed.post/3kabc123.
func recordKey(uri string) (string, error) {
	parts := strings.Split(uri, "/")
	if len(parts) < 2 || !strings.HasPrefix(uri, "at://") {
		return "", fmt.Errorf("malformed at-uri: %s", uri)
	}
	return parts[len(parts)-1], nil
}
