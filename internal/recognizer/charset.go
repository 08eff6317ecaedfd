package recognizer

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Charset is the recognizer's character set loaded from a dictionary file.
// Class index 0 is the CTC blank; token i maps to class index i+1.
type Charset struct {
	tokens []string
}

// LoadCharset reads a dictionary file with one token per non-empty line.
// A UTF-8 BOM on the first line is stripped.
func LoadCharset(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("charset path cannot be empty")
	}
	f, err := os.Open(path) //nolint:gosec // G304: charset path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("open charset: %w", err)
	}
	defer func() { _ = f.Close() }()

	var tokens []string
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read charset: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("charset is empty: %s", path)
	}
	return &Charset{tokens: tokens}, nil
}

// NewCharset builds a charset from an in-memory token list. Used by tests.
func NewCharset(tokens []string) *Charset {
	return &Charset{tokens: tokens}
}

// Size returns the number of tokens, excluding the blank class.
func (c *Charset) Size() int { return len(c.tokens) }

// NumClasses returns the model class count including the blank.
func (c *Charset) NumClasses() int { return len(c.tokens) + 1 }

// Token returns the token for a non-blank class index, or "" when out of
// range.
func (c *Charset) Token(classIndex int) string {
	i := classIndex - 1
	if i < 0 || i >= len(c.tokens) {
		return ""
	}
	return c.tokens[i]
}
