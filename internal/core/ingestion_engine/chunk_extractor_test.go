package ingestion_engine

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func collectChunks(t *testing.T, lines []string, size, overlap int) []chunk {
	t.Helper()
	g, ctx := errgroup.WithContext(context.Background())

	in := make(chan string)
	g.Go(func() error {
		defer close(in)
		for _, l := range lines {
			in <- l
		}
		return nil
	})

	var out []chunk
	ch := streamChunk(ctx, g, in, size, overlap)
	g.Go(func() error {
		for c := range ch {
			out = append(out, c)
		}
		return nil
	})
	require.NoError(t, g.Wait())
	return out
}

func TestStreamChunk_SingleSmallDocument(t *testing.T) {
	got := collectChunks(t, []string{"Wear gloves. Wash hands"}, 100, 20)

	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Pos)
	assert.Equal(t, "Wear gloves. Wash hands.", got[0].Text)
	assert.Greater(t, got[0].TokenCnt, 0)
}

func TestStreamChunk_SplitsAndOverlaps(t *testing.T) {
	lines := []string{
		"Step one is to lock out the machine.",
		"Step two is to verify zero energy. Step three is to tag the panel.",
		"Step four is to notify the supervisor.",
	}
	got := collectChunks(t, lines, 50, 12)

	require.Greater(t, len(got), 1)
	for i, c := range got {
		assert.Equal(t, i, c.Pos)
	}
	assert.True(t, strings.HasPrefix(got[0].Text, "Step one"))

	// every later chunk starts with the tail of the previous body
	for i := 1; i < len(got); i++ {
		prefix := []rune(got[i].Text)[:12]
		assert.Contains(t, got[i-1].Text, string(prefix))
	}
}

func TestStreamChunk_LongSentenceStandsAlone(t *testing.T) {
	long := strings.Repeat("x", 120)
	got := collectChunks(t, []string{"Short one. " + long + ". Tail"}, 50, 0)

	require.Len(t, got, 3)
	assert.Equal(t, "Short one.", got[0].Text)
	assert.Equal(t, long+".", got[1].Text)
	assert.Equal(t, "Tail.", got[2].Text)
}

func TestStreamChunk_EmptyInput(t *testing.T) {
	assert.Empty(t, collectChunks(t, nil, 100, 10))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 5))
	assert.Equal(t, "ßç", tail("aßç", 2))
	assert.Equal(t, 2, utf8.RuneCountInString(tail("ééé", 2)))
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, approxTokens(""))
	assert.Equal(t, 1, approxTokens("abcd"))
	assert.Equal(t, 2, approxTokens("abcde"))
}
