package textproc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChunkSize is the character budget per embedding chunk.
	DefaultMaxChunkSize = 2000
	// DefaultMaxTokens caps the estimated token count of a combined document.
	DefaultMaxTokens = 10000

	sectionDelimiter = "---"
)

var (
	ErrEmptyText   = errors.New("empty")
	ErrTextTooLong = errors.New("too long")
)

// Chunk is a bounded segment of normalized text sized for embedding.
// IsComplete reports whether the chunk ends at a sentence boundary or at the
// end of the input rather than a hard mid-sentence cut.
type Chunk struct {
	Index      int    `json:"index"`
	Content    string `json:"content"`
	IsComplete bool   `json:"is_complete"`
}

// ChunkText splits text into chunks of at most maxChunkSize bytes. When a
// sentence boundary exists within the last 20% of a window the cut happens
// there instead of at the hard limit. Chunks are zero-indexed and contiguous;
// only whitespace at the cut points is lost.
func ChunkText(text string, maxChunkSize int) []Chunk {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultMaxChunkSize
	}

	if len(text) <= maxChunkSize {
		return []Chunk{{Index: 0, Content: text, IsComplete: true}}
	}

	var chunks []Chunk
	start := 0
	for start < len(text) {
		end := start + maxChunkSize
		complete := false

		if end >= len(text) {
			end = len(text)
			complete = true
		} else if cut, ok := sentenceCut(text, start, end); ok {
			end = cut
			complete = true
		} else {
			// Never split a UTF-8 sequence at the hard limit.
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				// The window is smaller than the rune at start. Take the
				// whole rune so the loop always makes progress.
				_, w := utf8.DecodeRuneInString(text[start:])
				end = start + w
			}
		}

		content := strings.TrimSpace(text[start:end])
		if content != "" {
			chunks = append(chunks, Chunk{Index: len(chunks), Content: content, IsComplete: complete})
		}
		start = end
	}

	if len(chunks) == 0 {
		return []Chunk{{Index: 0, Content: strings.TrimSpace(text), IsComplete: true}}
	}
	return chunks
}

// sentenceCut scans backwards through the last 20% of the window for a
// sentence end (., ! or ? followed by whitespace) and returns the position
// just past the punctuation. Best effort, not a guarantee.
func sentenceCut(text string, start, end int) (int, bool) {
	floor := end - (end-start)/5
	if floor <= start {
		floor = start + 1
	}
	for i := end - 2; i >= floor; i-- {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		switch text[i+1] {
		case ' ', '\n', '\t':
			return i + 1, true
		}
	}
	return 0, false
}

// Combine builds a single labeled document out of the primary body text and
// any attachment texts. Empty sections are skipped; attachment numbering is
// 1-based over the non-empty attachments only.
func Combine(primary string, attachments []string) string {
	var sections []string

	if strings.TrimSpace(primary) != "" {
		sections = append(sections, "EMAIL CONTENT:\n"+primary)
	}

	n := 0
	for _, att := range attachments {
		if strings.TrimSpace(att) == "" {
			continue
		}
		n++
		sections = append(sections, fmt.Sprintf("ATTACHMENT %d:\n%s", n, att))
	}

	return strings.Join(sections, "\n"+sectionDelimiter+"\n")
}

// EstimateTokens approximates the token count of text (~4 chars per token).
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ValidateSize rejects documents the embedding stage cannot handle. It
// returns ErrEmptyText for blank input and ErrTextTooLong when the estimated
// token count exceeds maxTokens (DefaultMaxTokens when <= 0).
func ValidateSize(text string, maxTokens int) error {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if len(strings.TrimSpace(text)) == 0 {
		return ErrEmptyText
	}
	if tokens := EstimateTokens(text); tokens > maxTokens {
		return fmt.Errorf("%w: ~%d tokens exceeds limit of %d", ErrTextTooLong, tokens, maxTokens)
	}
	return nil
}
