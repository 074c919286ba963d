// Package thread owns posting into a reply chain: publish-with-retry,
// best-effort deletion, and citation formatting.
package thread

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/explainbot/internal/retry"
	"github.com/explainbot/pkg/models"
)

// Poster is the slice of the social platform client the manager depends on.
// The platform client performs rich-text facet detection before publishing;
// the manager relies on that ordering.
type Poster interface {
	CreateReplyPost(ctx context.Context, text string, link models.ReplyLink) (*models.PostRef, error)
	DeletePost(ctx context.Context, ref models.PostRef) error
}

// Manager publishes replies and deletes posts on behalf of the orchestrator.
type Manager struct {
	poster   Poster
	retryCfg retry.Config
	logger   zerolog.Logger
}

// NewManager creates a Manager using the fast publish retry schedule.
func NewManager(poster Poster, retryCfg retry.Config, logger zerolog.Logger) *Manager {
	return &Manager{
		poster:   poster,
		retryCfg: retryCfg,
		logger:   logger.With().Str("component", "thread").Logger(),
	}
}

// PublishReply publishes text as a reply under link, retrying transient
// failures on the configured schedule. The caller must have already bounded
// text to the platform limit.
func (m *Manager) PublishReply(ctx context.Context, text string, link models.ReplyLink) (*models.PostRef, error) {
	var ref *models.PostRef

	result := retry.Do(ctx, m.retryCfg, func() error {
		r, err := m.poster.CreateReplyPost(ctx, text, link)
		if err != nil {
			return err
		}
		ref = r
		return nil
	}, nil, m.logger)

	if !result.Success {
		return nil, fmt.Errorf("failed to publish reply after %d attempts: %w", result.Attempts, result.LastError)
	}

	return ref, nil
}

// DeletePost deletes ref best-effort. Cleanup is advisory, never blocking:
// failures are logged and recorded in the result, not propagated.
func (m *Manager) DeletePost(ctx context.Context, ref models.PostRef) models.CleanupResult {
	result := models.CleanupResult{Attempted: true}

	if err := m.poster.DeletePost(ctx, ref); err != nil {
		result.Err = err
		m.logger.Warn().Err(err).Str("uri", ref.URI).Msg("placeholder cleanup failed")
		return result
	}

	result.Deleted = true
	m.logger.Debug().Str("uri", ref.URI).Msg("placeholder deleted")
	return result
}

// FormatCitations renders citations as a numbered source list under a section
// header. Returns "" when there are no citations.
func FormatCitations(citations []models.Citation) string {
	if len(citations) == 0 {
		return ""
	}

	lines := make([]string, 0, len(citations)+1)
	lines = append(lines, "Sources:")
	for i, c := range citations {
		lines = append(lines, fmt.Sprintf("%d. %s %s", i+1, c.Title, c.URL))
	}

	return strings.Join(lines, "\n")
}
