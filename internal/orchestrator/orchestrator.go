// Package orchestrator drives the full lifecycle of one mention: validation,
// placeholder post, generation, segmentation, threaded reply chain, cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/explainbot/internal/gen"
	"github.com/explainbot/internal/retry"
	"github.com/explainbot/internal/segment"
	"github.com/explainbot/internal/thread"
	"github.com/explainbot/pkg/models"
)

// Publisher is the reply-thread surface the orchestrator drives.
type Publisher interface {
	PublishReply(ctx context.Context, text string, link models.ReplyLink) (*models.PostRef, error)
	DeletePost(ctx context.Context, ref models.PostRef) models.CleanupResult
}

// Messages are the fixed user-visible strings. All configurable; none are
// embedded literals.
type Messages struct {
	Placeholder string `koanf:"placeholder"`
	Guidance    string `koanf:"guidance"`
	Apology     string `koanf:"apology"`
}

// Config carries the orchestrator's externally owned knobs.
type Config struct {
	MaxPostLen         int           `koanf:"max_post_len"`
	CleanupPlaceholder bool          `koanf:"cleanup_placeholder"`
	RunTimeout         time.Duration `koanf:"run_timeout"`
	GenerateRetry      retry.Config  `koanf:"generate_retry"`
	Messages           Messages      `koanf:"messages"`
}

// runState names the stages of one mention's lifecycle.
type runState string

const (
	stateReceived          runState = "RECEIVED"
	stateGuidanceOnly      runState = "GUIDANCE_ONLY"
	statePlaceholderPosted runState = "PLACEHOLDER_POSTED"
	stateGenerating        runState = "GENERATING"
	stateReplying          runState = "REPLYING"
	stateDone              runState = "DONE"
	stateFailed            runState = "FAILED"
)

// Orchestrator sequences one mention from receipt to completion. It holds no
// mutable state across invocations; concurrent mentions are independent.
type Orchestrator struct {
	threads   Publisher
	generator gen.Generator
	cfg       Config
	logger    zerolog.Logger
}

// New creates an Orchestrator.
func New(threads Publisher, generator gen.Generator, cfg Config, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		threads:   threads,
		generator: generator,
		cfg:       cfg,
		logger:    logger.With().Str("component", "orchestrator").Logger(),
	}
}

// HandleMention owns the entire lifecycle of one mention. It never returns an
// error: every failure is absorbed into a substituted message, a logged abort,
// or a skipped cleanup.
func (o *Orchestrator) HandleMention(ctx context.Context, req models.MentionRequest) {
	logger := o.logger.With().
		Str("run_id", uuid.NewString()).
		Str("author", req.AuthorHandle).
		Str("mention_uri", req.Mention.URI).
		Logger()

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	state := stateReceived
	logger.Info().Str("state", string(state)).Msg("mention received")

	query := strings.TrimSpace(req.Query)
	if query == "" {
		state = stateGuidanceOnly
		logger.Info().Str("state", string(state)).Msg("empty query, replying with guidance")

		link := models.ReplyLink{Root: req.ThreadRoot, Parent: req.Mention}
		if _, err := o.threads.PublishReply(ctx, o.cfg.Messages.Guidance, link); err != nil {
			logger.Error().Err(err).Msg("failed to publish guidance reply")
		}
		return
	}

	// The placeholder replies to the mention itself; if it cannot be posted
	// there is no safe place to report anything, so the run ends here.
	placeholder, err := o.threads.PublishReply(ctx, o.cfg.Messages.Placeholder,
		models.ReplyLink{Root: req.ThreadRoot, Parent: req.Mention})
	if err != nil {
		state = stateFailed
		logger.Error().Err(err).Str("state", string(state)).Msg("failed to post placeholder, aborting run")
		return
	}
	state = statePlaceholderPosted
	logger.Debug().Str("state", string(state)).Str("placeholder_uri", placeholder.URI).Msg("placeholder posted")

	state = stateGenerating
	logger.Debug().Str("state", string(state)).Msg("generating answer")
	answer := o.generate(ctx, query, logger)

	chunks := o.compose(req.AuthorHandle, answer)

	state = stateReplying
	logger.Debug().Str("state", string(state)).Int("chunks", len(chunks)).Msg("publishing reply chain")

	// Root stays fixed to the thread root; parent advances to each successful
	// post. Chunks publish strictly in order since each reply threads under
	// the previous one.
	parent := *placeholder
	for _, chunk := range chunks {
		ref, err := o.threads.PublishReply(ctx, chunk.Render(),
			models.ReplyLink{Root: req.ThreadRoot, Parent: parent})
		if err != nil {
			// Already-published chunks stay; cleanup is skipped so the
			// placeholder marks the interrupted thread.
			logger.Error().Err(err).
				Int("chunk", chunk.Index).
				Int("total", chunk.Total).
				Msg("chain publish failed, aborting remaining chunks")
			return
		}
		parent = *ref
	}

	if o.cfg.CleanupPlaceholder {
		o.threads.DeletePost(ctx, *placeholder)
	}

	state = stateDone
	logger.Info().Str("state", string(state)).Int("chunks", len(chunks)).Msg("mention handled")
}

// generate invokes the backend under the slow retry schedule. Total failure or
// blank output degrades to the configured apology; generation is never fatal
// to the conversation.
func (o *Orchestrator) generate(ctx context.Context, query string, logger zerolog.Logger) models.GeneratedAnswer {
	var answer *models.GeneratedAnswer

	result := retry.Do(ctx, o.cfg.GenerateRetry, func() error {
		a, err := o.generator.Generate(ctx, query)
		if err != nil {
			if retry.IsRateLimitError(err) {
				logger.Warn().Err(err).Msg("generation rate limited")
			}
			return err
		}
		answer = a
		return nil
	}, nil, logger)

	if !result.Success {
		logger.Warn().Err(result.LastError).Int("attempts", result.Attempts).
			Msg("generation failed, substituting apology")
		return models.GeneratedAnswer{Text: o.cfg.Messages.Apology}
	}

	if answer == nil || strings.TrimSpace(answer.Text) == "" {
		logger.Warn().Msg("generation returned blank text, substituting apology")
		return models.GeneratedAnswer{Text: o.cfg.Messages.Apology}
	}

	return *answer
}

// compose builds the reply body and segments it. The citation block rides
// inline when body and block together fit one post's content budget, otherwise
// it trails the chain as its own post. Citations are never dropped.
func (o *Orchestrator) compose(author string, answer models.GeneratedAnswer) []models.PostChunk {
	body := fmt.Sprintf("@%s Here is your explanation:\n\n%s", author, answer.Text)
	block := thread.FormatCitations(answer.Citations)

	if block == "" {
		return segment.Segment(body, o.cfg.MaxPostLen)
	}

	combined := body + "\n\n" + block
	if utf8.RuneCountInString(combined) <= segment.ContentBudget(o.cfg.MaxPostLen) {
		return segment.Segment(combined, o.cfg.MaxPostLen)
	}

	chunks := segment.Segment(body, o.cfg.MaxPostLen)
	trailing := segment.Segment(block, o.cfg.MaxPostLen)

	total := len(chunks) + len(trailing)
	merged := make([]models.PostChunk, 0, total)
	for _, c := range append(chunks, trailing...) {
		merged = append(merged, models.PostChunk{
			Body:  c.Body,
			Index: len(merged) + 1,
			Total: total,
		})
	}

	return merged
}
