// Package firehose subscribes to the Jetstream firehose and turns raw commit
// events into normalized mention requests for the orchestrator.
package firehose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/explainbot/internal/bsky"
	"github.com/explainbot/pkg/models"
)

const feedPostCollection = "app.bsky.feed.post"

// Handler consumes normalized mention requests. Fire-and-forget from the
// listener's perspective; concurrent mentions are independent.
type Handler interface {
	HandleMention(ctx context.Context, req models.MentionRequest)
}

// PostReader is the slice of the platform client the listener uses to hydrate
// mention authors and parent-post context.
type PostReader interface {
	GetPost(ctx context.Context, ref models.PostRef) (*bsky.Post, error)
}

// Config configures the Jetstream subscription.
type Config struct {
	URL        string  `koanf:"url"`          // Jetstream endpoint
	BotHandle  string  `koanf:"bot_handle"`   // handle the bot watches for
	RatePerSec float64 `koanf:"rate_per_sec"` // mention dispatch rate limit
	Burst      int     `koanf:"burst"`
}

// jetstreamEvent is the subset of the Jetstream wire format the bot reads.
type jetstreamEvent struct {
	DID    string `json:"did"`
	Kind   string `json:"kind"`
	Commit *struct {
		Operation  string `json:"operation"`
		Collection string `json:"collection"`
		Rkey       string `json:"rkey"`
		CID        string `json:"cid"`
		Record     *struct {
			Text  string `json:"text"`
			Reply *struct {
				Root   models.PostRef `json:"root"`
				Parent models.PostRef `json:"parent"`
			} `json:"reply"`
		} `json:"record"`
	} `json:"commit"`
}

// Listener consumes the firehose and dispatches mentions.
type Listener struct {
	cfg       Config
	botDID    string
	handler   Handler
	posts     PostReader
	limiter   *rate.Limiter
	logger    zerolog.Logger
	connected atomic.Bool
}

// NewListener creates a Listener. botDID is the bot's own DID, used to ignore
// its own posts.
func NewListener(cfg Config, botDID string, handler Handler, posts PostReader, logger zerolog.Logger) *Listener {
	if cfg.URL == "" {
		cfg.URL = "wss://jetstream2.us-east.bsky.network/subscribe"
	}
	if cfg.RatePerSec == 0 {
		cfg.RatePerSec = 1
	}
	if cfg.Burst == 0 {
		cfg.Burst = 5
	}

	return &Listener{
		cfg:     cfg,
		botDID:  botDID,
		handler: handler,
		posts:   posts,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		logger:  logger.With().Str("component", "firehose").Logger(),
	}
}

// Connected reports whether the listener currently holds a live firehose
// socket. Backs the readiness endpoint.
func (l *Listener) Connected() bool {
	return l.connected.Load()
}

// Run subscribes and consumes events until ctx is cancelled, reconnecting with
// backoff on connection loss.
func (l *Listener) Run(ctx context.Context) error {
	subscribeURL := fmt.Sprintf("%s?wanted_collections=%s", l.cfg.URL, feedPostCollection)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, subscribeURL, nil)
		if err != nil {
			l.logger.Warn().Err(err).Dur("backoff", backoff).Msg("firehose dial failed, reconnecting")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}

		l.logger.Info().Str("url", l.cfg.URL).Msg("firehose connected")
		l.connected.Store(true)
		backoff = time.Second

		// ReadMessage only unblocks on socket errors, so the connection is
		// torn down when ctx ends.
		stop := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conn.Close()
			case <-stop:
			}
		}()

		err = l.readLoop(ctx, conn)
		close(stop)
		l.connected.Store(false)
		if err != nil && ctx.Err() == nil {
			l.logger.Warn().Err(err).Msg("firehose read loop ended, reconnecting")
		}
		conn.Close()
	}
}

func (l *Listener) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("firehose read failed: %w", err)
		}

		var evt jetstreamEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			l.logger.Debug().Err(err).Msg("skipping undecodable event")
			continue
		}

		l.dispatch(ctx, evt)
	}
}

// dispatch filters one event and, when it is a mention of the bot, hands a
// normalized request to the handler in its own goroutine.
func (l *Listener) dispatch(ctx context.Context, evt jetstreamEvent) {
	req, ok := l.mentionFromEvent(evt)
	if !ok {
		return
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return
	}

	hydrated := l.hydrate(ctx, req, evt)

	go l.handler.HandleMention(ctx, hydrated)
}

// mentionFromEvent filters a raw event down to a mention of the bot's handle
// and normalizes it. The query has the handle token stripped and whitespace
// trimmed; root references are self-referencing for top-level mentions.
func (l *Listener) mentionFromEvent(evt jetstreamEvent) (models.MentionRequest, bool) {
	if evt.Kind != "commit" || evt.Commit == nil || evt.Commit.Record == nil {
		return models.MentionRequest{}, false
	}
	if evt.Commit.Operation != "create" || evt.Commit.Collection != feedPostCollection {
		return models.MentionRequest{}, false
	}
	if evt.DID == l.botDID {
		return models.MentionRequest{}, false
	}

	token := "@" + l.cfg.BotHandle
	text := evt.Commit.Record.Text
	if !strings.Contains(strings.ToLower(text), strings.ToLower(token)) {
		return models.MentionRequest{}, false
	}

	mention := models.PostRef{
		URI: fmt.Sprintf("at://%s/%s/%s", evt.DID, feedPostCollection, evt.Commit.Rkey),
		CID: evt.Commit.CID,
	}

	root := mention
	if evt.Commit.Record.Reply != nil {
		root = evt.Commit.Record.Reply.Root
	}

	query := stripToken(text, token)

	return models.MentionRequest{
		AuthorDID:  evt.DID,
		Mention:    mention,
		ThreadRoot: root,
		Query:      query,
	}, true
}

// hydrate fills in the author handle and, for mentions inside a thread,
// prefixes the parent post's text as context for the generation prompt.
// Hydration is best-effort; a bare request still orchestrates.
func (l *Listener) hydrate(ctx context.Context, req models.MentionRequest, evt jetstreamEvent) models.MentionRequest {
	if post, err := l.posts.GetPost(ctx, req.Mention); err == nil {
		req.AuthorHandle = post.AuthorHandle
	} else {
		l.logger.Warn().Err(err).Str("uri", req.Mention.URI).Msg("failed to hydrate mention author")
		req.AuthorHandle = req.AuthorDID
	}

	if req.Query == "" || evt.Commit.Record.Reply == nil {
		return req
	}

	parent, err := l.posts.GetPost(ctx, evt.Commit.Record.Reply.Parent)
	if err != nil {
		l.logger.Debug().Err(err).Msg("failed to fetch parent-post context")
		return req
	}

	if strings.TrimSpace(parent.Text) != "" {
		req.Query = fmt.Sprintf("Context from the post being discussed: %q\n\nQuestion: %s", parent.Text, req.Query)
	}

	return req
}

// stripToken removes every occurrence of the bot's handle token from text,
// case-insensitively, and trims the remainder.
func stripToken(text, token string) string {
	lower := strings.ToLower(text)
	lowerToken := strings.ToLower(token)

	var b strings.Builder
	for {
		i := strings.Index(lower, lowerToken)
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i])
		text = text[i+len(token):]
		lower = lower[i+len(lowerToken):]
	}

	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}
