package ingestion_engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/sopassistant/internal/core/object-client"
	"github.com/markdave123-py/sopassistant/internal/core/vectorstore"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

const lockoutSOP = `# Lockout
Isolate every energy source before maintenance. Apply a personal lock to each isolation point.
Verify zero energy state with a test device. Remove locks only after the work is complete.`

func TestSync_IndexesNewFilesAndSkipsUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "safety/lockout.md", lockoutSOP)
	f.write(t, "notes.txt", "Badge in at the front desk.")
	f.write(t, "safety/lockout.md.gdrive_metadata", `{"gdrive_id":"1"}`)
	f.write(t, "logo.png", "png")

	rep, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "safety/lockout.md"}, rep.Processed)
	assert.Empty(t, rep.Failed)
	assert.Greater(t, rep.Chunks, 1)

	info, err := f.store.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt", "safety/lockout.md"}, info.Sources)
	assert.Equal(t, rep.Chunks, info.Count)

	_, ok := f.index.Get("safety/lockout.md")
	assert.True(t, ok)

	calls := f.emb.Calls()
	rep, err = f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, rep.Processed)
	assert.Equal(t, calls, f.emb.Calls(), "unchanged files must not be re-embedded")
}

func TestSync_ReprocessesChangedFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.md", lockoutSOP)
	_, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	before, _ := f.index.Get("a.md")

	f.write(t, "a.md", "Short replacement.")
	rep, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md"}, rep.Processed)

	after, _ := f.index.Get("a.md")
	assert.NotEqual(t, before, after)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "old chunks are replaced, not appended")
}

func TestSync_RemovesDeletedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.md", "Alpha.")
	f.write(t, "b.md", "Bravo.")
	_, err := f.ing.Sync(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(f.root, "b.md")))
	rep, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.md"}, rep.Removed)

	info, _ := f.store.Info(ctx)
	assert.Equal(t, []string{"a.md"}, info.Sources)
	_, ok := f.index.Get("b.md")
	assert.False(t, ok)
}

func TestSync_FailedFileIsRetriedNextRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.emb.failOn = "BROKEN"
	f.write(t, "good.md", "Fine content.")
	f.write(t, "bad.md", "First sentence here. BROKEN sentence.")

	rep, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"good.md"}, rep.Processed)
	require.Contains(t, rep.Failed, "bad.md")
	assert.Contains(t, rep.Failed["bad.md"], "quota")

	_, ok := f.index.Get("bad.md")
	assert.False(t, ok)
	info, _ := f.store.Info(ctx)
	assert.Equal(t, []string{"good.md"}, info.Sources, "partial chunks are cleaned up")

	f.emb.failOn = ""
	rep, err = f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad.md"}, rep.Processed)
}

func TestIngestFile_FailedReingestIsRetriedNextRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "sop.md", "Wear gloves at the wash station.")

	rep, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"sop.md"}, rep.Processed)

	f.emb.failOn = "gloves"
	res := f.ing.IngestFile(ctx, "sop.md")
	require.Error(t, res.Err)

	_, ok := f.index.Get("sop.md")
	assert.False(t, ok)
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.emb.failOn = ""
	rep, err = f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sop.md"}, rep.Processed)
	assert.Positive(t, rep.Chunks)
}

func TestSync_FailedUpdateRevertedToIndexedContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "sop.md", "Wear gloves at the wash station.")
	_, err := f.ing.Sync(ctx)
	require.NoError(t, err)

	f.emb.failOn = "BROKEN"
	f.write(t, "sop.md", "Wear gloves at the wash station. BROKEN step.")
	rep, err := f.ing.Sync(ctx)
	require.NoError(t, err)
	require.Contains(t, rep.Failed, "sop.md")
	_, ok := f.index.Get("sop.md")
	assert.False(t, ok)

	// back to the bytes that were indexed before the failure
	f.write(t, "sop.md", "Wear gloves at the wash station.")
	rep, err = f.ing.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sop.md"}, rep.Processed)
	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestIngestFile_FlushesBufferedStore(t *testing.T) {
	ctx := context.Background()
	root, persist := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "lockout.md"), []byte(lockoutSOP), 0o644))

	files, err := objectclient.NewLocalClient(root)
	require.NoError(t, err)
	store, err := vectorstore.NewMemoryStore(persist, 3, 5)
	require.NoError(t, err)
	index, err := LoadFileIndex(filepath.Join(t.TempDir(), IndexFileName))
	require.NoError(t, err)
	ing := NewDocumentIngestor(root, files, store, &fakeEmbedder{}, NewExtractor(logging.Discard()), index,
		IngestConfig{ChunkSize: 60, ChunkOverlap: 10, BatchSize: 1}, logging.Discard())

	res := ing.IngestFile(ctx, "lockout.md")
	require.NoError(t, res.Err)
	require.Greater(t, res.Chunks, 1)

	reopened, err := vectorstore.NewMemoryStore(persist, 3, 5)
	require.NoError(t, err)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Chunks, n)
}

func TestCheckForUpdates_CreatesMissingFolder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.root))

	plan, err := f.ing.CheckForUpdates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, plan.Updated)
	assert.DirExists(t, f.root)
}

func TestIngestFile_StoresChunkMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "ops/intake.md", "Receive goods at dock two.")

	res := f.ing.IngestFile(ctx, "ops/intake.md")
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Chunks)

	hits, err := f.store.Search(ctx, []float32{1, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	c := hits[0].Chunk
	assert.Equal(t, "ops/intake.md_0", c.ID)
	assert.Equal(t, "intake.md", c.Filename)
	assert.Equal(t, ".md", c.FileType)
	assert.Equal(t, res.Hash, c.ContentHash)

	h, ok := f.index.Get("ops/intake.md")
	assert.True(t, ok)
	assert.Equal(t, res.Hash, h)
}

func TestIngestFile_Unsupported(t *testing.T) {
	f := newFixture(t)
	f.write(t, "image.png", "png")

	res := f.ing.IngestFile(context.Background(), "image.png")
	require.Error(t, res.Err)
	assert.True(t, strings.Contains(res.Err.Error(), "unsupported"))
}

func TestEnqueueWait_ProcessesInWorker(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ing.Start(ctx, 2)
	f.write(t, "queued.md", "Queued content.")

	done, err := f.ing.EnqueueWait(ctx, "queued.md")
	require.NoError(t, err)
	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Chunks)
}

func TestEnqueue_RespectsContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// no workers and a full queue
	for i := 0; i < cap(f.ing.jobs); i++ {
		f.ing.jobs <- job{source: "x.md"}
	}
	assert.ErrorIs(t, f.ing.Enqueue(ctx, "y.md"), context.Canceled)
}

func TestRemoveSourceAndReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "a.md", "Alpha.")
	f.write(t, "b.md", "Bravo.")
	_, err := f.ing.Sync(ctx)
	require.NoError(t, err)

	n, err := f.ing.RemoveSource(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok := f.index.Get("a.md")
	assert.False(t, ok)

	require.NoError(t, f.ing.Reset(ctx))
	cnt, _ := f.store.Count(ctx)
	assert.Zero(t, cnt)
	assert.Empty(t, f.index.Snapshot())
}

func TestIsIndexable(t *testing.T) {
	assert.True(t, IsIndexable("a/B.PDF"))
	assert.True(t, IsIndexable("x.docx"))
	assert.False(t, IsIndexable("x.pdf.gdrive_metadata"))
	assert.False(t, IsIndexable("x.exe"))
}
