package models

import "fmt"

// PostRef identifies one published post: an at:// URI plus the content-addressed
// CID of the record version. Opaque beyond equality and propagation.
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// ReplyLink is the reply threading pair attached to every post in a chain.
// Root is fixed for the whole thread; Parent advances after each successful post.
type ReplyLink struct {
	Root   PostRef `json:"root"`
	Parent PostRef `json:"parent"`
}

// MentionRequest is the normalized "mention detected" notification handed to the
// orchestrator by the feed listener. Immutable for the lifetime of one run.
type MentionRequest struct {
	AuthorHandle string  // handle of the user who mentioned the bot
	AuthorDID    string  // stable identifier of the author
	Mention      PostRef // the post containing the mention
	ThreadRoot   PostRef // root of the thread (equals Mention for top-level posts)
	Query        string  // handle token stripped, whitespace trimmed; may be empty
}

// Citation is one source reference attached to a generated answer.
type Citation struct {
	Title string
	URL   string
}

// GeneratedAnswer is the generation backend's output: body text plus ordered
// search-grounding citations (possibly empty).
type GeneratedAnswer struct {
	Text      string
	Citations []Citation
}

// PostChunk is one platform-length-bounded segment of a longer answer.
// Index is 1-based.
type PostChunk struct {
	Body  string
	Index int
	Total int
}

// Render returns the publishable text: the body plus a pagination suffix when
// the chunk is part of a multi-post chain.
func (c PostChunk) Render() string {
	if c.Total > 1 {
		return fmt.Sprintf("%s (%d/%d)", c.Body, c.Index, c.Total)
	}
	return c.Body
}

// CleanupResult records a best-effort placeholder deletion. Cleanup is advisory,
// never blocking: Err is informational and is never propagated by callers.
type CleanupResult struct {
	Attempted bool
	Deleted   bool
	Err       error
}
