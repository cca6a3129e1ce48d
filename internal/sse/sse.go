// Package sse writes the token-stream wire format: a retry hint, one JSON
// data frame per token, and a [DONE] terminator.
package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// tokenBatchWords is the batch size used when replaying stored text as a
// token stream.
const tokenBatchWords = 40

// doneFrame terminates every stream, including degraded ones.
const doneFrame = "data: [DONE]\n\n"

type tokenFrame struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Writer emits SSE frames and flushes after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares the response for streaming: SSE headers plus the
// initial retry hint.
func NewWriter(w http.ResponseWriter) *Writer {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sw := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	fmt.Fprint(w, "retry: 1000\n\n")
	sw.flush()
	return sw
}

// Token writes one token frame.
func (s *Writer) Token(content string) error {
	payload, err := json.Marshal(tokenFrame{Content: content, Type: "token"})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Done writes the stream terminator.
func (s *Writer) Done() error {
	_, err := fmt.Fprint(s.w, doneFrame)
	s.flush()
	return err
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// BatchWords splits stored text into ~n-word chunks so a cached answer
// replays through the same stream shape as a live one. Whitespace between
// words collapses to single spaces; each chunk but the last carries a
// trailing space so concatenation reads naturally.
func BatchWords(text string, n int) []string {
	if n <= 0 {
		n = tokenBatchWords
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(words); start += n {
		end := start + n
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[start:end], " ")
		if end < len(words) {
			chunk += " "
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// StreamText replays stored text as a batched token stream and terminates
// it. Used by JSON endpoints honoring Accept: text/event-stream.
func StreamText(w http.ResponseWriter, text string) error {
	sw := NewWriter(w)
	for _, chunk := range BatchWords(text, tokenBatchWords) {
		if err := sw.Token(chunk); err != nil {
			return err
		}
	}
	return sw.Done()
}
