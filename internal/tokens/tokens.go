// Package tokens estimates token counts of finalized output for usage metrics.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool
}

func NewCounter() *Counter {
	return &Counter{encodings: make(map[string]*tiktoken.Tiktoken), failed: make(map[string]bool)}
}

// Count returns the token count of text under model's encoding. When no
// encoding can be loaded (offline, unknown model) it falls back to roughly
// four bytes per token.
func (c *Counter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

func (c *Counter) encoding(model string) *tiktoken.Tiktoken {
	name := fallbackEncoding
	if m := strings.ToLower(model); strings.HasPrefix(m, "gpt-4o") || strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-4.1") || strings.HasPrefix(m, "gpt-5") {
		name = "o200k_base"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encodings[name]; ok {
		return enc
	}
	if c.failed[name] {
		return nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		c.failed[name] = true
		return nil
	}
	c.encodings[name] = enc
	return enc
}
