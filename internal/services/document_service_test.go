package services

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/sopassistant/internal/audit"
	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	ingest "github.com/markdave123-py/sopassistant/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/sopassistant/internal/core/object-client"
	"github.com/markdave123-py/sopassistant/internal/core/vectorstore"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

type fakeIngestor struct {
	mu      sync.Mutex
	queued  []string
	removed []string
	syncs   int
	resets  int
	result  ingest.FileResult
}

func (f *fakeIngestor) EnqueueWait(_ context.Context, source string) (<-chan ingest.FileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, source)
	ch := make(chan ingest.FileResult, 1)
	res := f.result
	res.Source = source
	ch <- res
	return ch, nil
}

func (f *fakeIngestor) Sync(context.Context) (*ingest.SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	return &ingest.SyncReport{Processed: []string{"a.md"}, Removed: []string{}, Failed: map[string]string{}}, nil
}

func (f *fakeIngestor) RemoveSource(_ context.Context, source string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, source)
	if source == "indexed.md" {
		return 3, nil
	}
	return 0, nil
}

func (f *fakeIngestor) Reset(context.Context) error {
	f.resets++
	return nil
}

type fakeDrive struct {
	folders []gdrive.File
	synced  []gdrive.SyncedFile
	gotDir  string
}

func (f *fakeDrive) SyncFolder(_ context.Context, folderID, localFolder string) ([]gdrive.SyncedFile, error) {
	f.gotDir = localFolder
	return f.synced, nil
}

func (f *fakeDrive) ListFolders(context.Context, string) ([]gdrive.File, error) {
	return f.folders, nil
}

type docFixture struct {
	svc     *DocumentService
	root    string
	archive *objectclient.LocalClient
	ing     *fakeIngestor
	drive   *fakeDrive
	audit   *syncBuffer
}

func newDocFixture(t *testing.T, withDrive bool) *docFixture {
	t.Helper()
	f := &docFixture{root: t.TempDir(), ing: &fakeIngestor{result: ingest.FileResult{Chunks: 4}}, audit: &syncBuffer{}}

	local, err := objectclient.NewLocalClient(f.root)
	require.NoError(t, err)
	f.archive, err = objectclient.NewLocalClient(t.TempDir())
	require.NoError(t, err)
	store, err := vectorstore.NewMemoryStore("", 3, 5)
	require.NoError(t, err)

	var drive DriveSyncer
	cfg := DocumentConfig{SOPFolder: f.root, MaxFileSize: 1 << 10, WaitForIngest: true}
	if withDrive {
		f.drive = &fakeDrive{synced: []gdrive.SyncedFile{{Path: "x.pdf", DriveID: "id1"}}, folders: []gdrive.File{{ID: "f1", Name: "HR"}}}
		drive = f.drive
		cfg.DriveFolderID = "root-folder"
	}
	f.svc = NewDocumentService(local, f.archive, f.ing, store, drive, audit.NewRecorder(f.audit), cfg, logging.Discard())
	return f
}

func TestUpload_StoresArchivesAndQueues(t *testing.T) {
	f := newDocFixture(t, false)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, "admin", "Leave Policy (v2).md", strings.NewReader("# Leave\nTake leave."))
	require.NoError(t, err)
	assert.Equal(t, "leave-policy-v2.md", res.Source)
	assert.True(t, res.Queued)
	assert.Equal(t, 4, res.Chunks)
	assert.NotEmpty(t, res.Archive)

	data, err := os.ReadFile(filepath.Join(f.root, "leave-policy-v2.md"))
	require.NoError(t, err)
	assert.Equal(t, "# Leave\nTake leave.", string(data))
	_, err = os.Stat(filepath.Join(f.archive.Root(), "leave-policy-v2.md"))
	assert.NoError(t, err)

	assert.Equal(t, []string{"leave-policy-v2.md"}, f.ing.queued)
	assert.Contains(t, f.audit.String(), `"event_type":"file_upload"`)
}

func TestUpload_Rejects(t *testing.T) {
	f := newDocFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, "admin", "big.txt", strings.NewReader(strings.Repeat("x", 2<<10)))
	assert.ErrorIs(t, err, common.ErrFileTooLarge)

	_, err = f.svc.Upload(ctx, "admin", "run.exe", strings.NewReader("MZ"))
	assert.ErrorIs(t, err, common.ErrUnsupportedFile)

	_, err = f.svc.Upload(ctx, "admin", "fake.pdf", strings.NewReader("hello"))
	assert.ErrorIs(t, err, common.ErrValidation)

	assert.Empty(t, f.ing.queued)
	assert.Contains(t, f.audit.String(), "upload_rejected")
}

func TestUpload_ReportsIngestFailure(t *testing.T) {
	f := newDocFixture(t, false)
	f.ing.result = ingest.FileResult{Err: errors.New("embedding quota exceeded")}

	res, err := f.svc.Upload(context.Background(), "admin", "a.txt", strings.NewReader("text"))
	require.Error(t, err)
	assert.True(t, res.Queued)
}

func TestDelete(t *testing.T) {
	f := newDocFixture(t, false)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(f.root, "indexed.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "indexed.md"+gdrive.MetadataSuffix), []byte("{}"), 0o644))

	n, err := f.svc.Delete(ctx, "admin", "indexed.md")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = os.Stat(filepath.Join(f.root, "indexed.md"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(f.root, "indexed.md"+gdrive.MetadataSuffix))
	assert.True(t, os.IsNotExist(err))

	_, err = f.svc.Delete(ctx, "admin", "missing.md")
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.Delete(ctx, "admin", "../etc/passwd")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestDownload(t *testing.T) {
	f := newDocFixture(t, false)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "hr"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "hr", "leave.txt"), []byte("leave"), 0o644))

	rc, name, err := f.svc.Download(ctx, "user", "hr/leave.txt")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "leave.txt", name)
	assert.Equal(t, "leave", string(data))
	assert.Contains(t, f.audit.String(), `"event_type":"file_download"`)

	_, _, err = f.svc.Download(ctx, "user", "hr/leave.txt"+gdrive.MetadataSuffix)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDriveSync(t *testing.T) {
	ctx := context.Background()

	f := newDocFixture(t, false)
	_, err := f.svc.DriveSync(ctx, "admin")
	assert.ErrorIs(t, err, common.ErrNotConfigured)
	_, err = f.svc.ListFolders(ctx)
	assert.ErrorIs(t, err, common.ErrNotConfigured)

	f = newDocFixture(t, true)
	res, err := f.svc.DriveSync(ctx, "admin")
	require.NoError(t, err)
	assert.Len(t, res.Downloaded, 1)
	assert.Equal(t, []string{"a.md"}, res.Report.Processed)
	assert.Equal(t, f.root, f.drive.gotDir)
	assert.Equal(t, 1, f.ing.syncs)

	folders, err := f.svc.ListFolders(ctx)
	require.NoError(t, err)
	assert.Equal(t, "HR", folders[0].Name)
}

func TestSyncAndReset(t *testing.T) {
	f := newDocFixture(t, false)
	ctx := context.Background()

	_, err := f.svc.Sync(ctx, "admin")
	require.NoError(t, err)
	require.NoError(t, f.svc.Reset(ctx, "admin"))
	assert.Equal(t, 1, f.ing.syncs)
	assert.Equal(t, 1, f.ing.resets)
	assert.Contains(t, f.audit.String(), "reset_vector_store")
}
