package ingestion_engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// streamChunk groups incoming lines into sentence-aligned chunks.
//
// Lines are joined with spaces and split on ". ". Sentences are appended
// while the chunk stays within size characters; a sentence longer than
// size becomes a chunk on its own. Every chunk after the first is prefixed
// with the last overlap characters of the previous chunk.
func streamChunk(
	ctx context.Context,
	g *errgroup.Group,
	lines <-chan string,
	size int,
	overlap int,
) <-chan chunk {
	out := make(chan chunk, 8)

	g.Go(func() error {
		defer close(out)

		var (
			cur     strings.Builder
			curLen  int
			prev    string
			pos     int
			pending string
		)

		flush := func() error {
			body := strings.TrimSpace(cur.String())
			cur.Reset()
			curLen = 0
			if body == "" {
				return nil
			}

			text := body
			if pos > 0 && overlap > 0 {
				text = tail(prev, overlap) + " " + body
			}
			prev = body

			select {
			case out <- chunk{Pos: pos, Text: text, TokenCnt: approxTokens(text)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			pos++
			return nil
		}

		add := func(sentence string) error {
			sentence = strings.TrimSpace(sentence)
			if sentence == "" {
				return nil
			}
			n := utf8.RuneCountInString(sentence)
			if curLen > 0 && curLen+n+1 > size {
				if err := flush(); err != nil {
					return err
				}
			}
			cur.WriteString(sentence)
			if strings.HasSuffix(sentence, ".") {
				cur.WriteString(" ")
				curLen += n + 1
			} else {
				cur.WriteString(". ")
				curLen += n + 2
			}
			return nil
		}

		for line := range lines {
			if pending == "" {
				pending = line
			} else {
				pending += " " + line
			}

			parts := strings.Split(pending, ". ")
			for _, s := range parts[:len(parts)-1] {
				if err := add(s); err != nil {
					return err
				}
			}
			pending = parts[len(parts)-1]
		}

		if err := add(pending); err != nil {
			return err
		}
		return flush()
	})

	return out
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}

// approxTokens is a cheap token estimator (~4 chars ≈ 1 token).
func approxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}
