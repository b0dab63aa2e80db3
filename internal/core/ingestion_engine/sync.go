package ingestion_engine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MetadataSuffix marks companion Drive metadata files, which are never indexed.
const MetadataSuffix = ".gdrive_metadata"

// UpdatePlan is the difference between the SOP folder and the hash index.
type UpdatePlan struct {
	Updated []string
	Removed []string
	Index   map[string]string
}

// SyncReport summarises one ProcessUpdates run.
type SyncReport struct {
	Processed []string          `json:"processed"`
	Removed   []string          `json:"removed"`
	Failed    map[string]string `json:"failed"`
	Chunks    int               `json:"chunks"`
}

// CheckForUpdates hashes every supported file under the SOP folder and
// compares against the index.
func (i *DocumentIngestor) CheckForUpdates(ctx context.Context) (*UpdatePlan, error) {
	plan := &UpdatePlan{Index: make(map[string]string)}

	if _, err := os.Stat(i.root); os.IsNotExist(err) {
		if err := os.MkdirAll(i.root, 0o755); err != nil {
			return nil, fmt.Errorf("create sop folder: %w", err)
		}
	}

	err := filepath.WalkDir(i.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsIndexable(p) {
			return nil
		}

		rel, err := filepath.Rel(i.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		rc, err := i.files.GetObjectReader(ctx, rel)
		if err != nil {
			return err
		}
		hash, err := HashContent(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("hash %s: %w", rel, err)
		}

		plan.Index[rel] = hash
		if old, ok := i.index.Get(rel); !ok || old != hash {
			plan.Updated = append(plan.Updated, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan sop folder: %w", err)
	}

	for src := range i.index.Snapshot() {
		if _, ok := plan.Index[src]; !ok {
			plan.Removed = append(plan.Removed, src)
		}
	}
	sort.Strings(plan.Updated)
	sort.Strings(plan.Removed)
	return plan, nil
}

// ProcessUpdates removes deleted sources, re-ingests changed ones, and
// saves the new index. A file that fails keeps its previous hash only while
// its previous chunks are still stored; otherwise it leaves the index so the
// next scan retries it.
func (i *DocumentIngestor) ProcessUpdates(ctx context.Context, plan *UpdatePlan) (*SyncReport, error) {
	report := &SyncReport{Processed: []string{}, Removed: []string{}, Failed: map[string]string{}}
	old := i.index.Snapshot()
	next := make(map[string]string, len(plan.Index))
	for k, v := range plan.Index {
		next[k] = v
	}

	if len(plan.Removed) > 0 {
		if _, err := i.store.DeleteBySource(ctx, plan.Removed...); err != nil {
			return nil, fmt.Errorf("remove deleted files: %w", err)
		}
		report.Removed = append(report.Removed, plan.Removed...)
		i.log.Info(ctx, "removed deleted files", "count", len(plan.Removed))
	}

	for n, src := range plan.Updated {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		i.log.Info(ctx, "processing file", "n", n+1, "total", len(plan.Updated), "source", src)

		res := i.processFile(ctx, src)
		if res.Err != nil {
			report.Failed[src] = res.Err.Error()
			if h, ok := old[src]; ok && !res.dropped {
				next[src] = h
			} else {
				delete(next, src)
			}
			continue
		}
		next[src] = res.Hash
		report.Processed = append(report.Processed, src)
		report.Chunks += res.Chunks
	}

	if err := i.index.Replace(next); err != nil {
		return report, fmt.Errorf("save index: %w", err)
	}
	return report, nil
}

// Sync runs CheckForUpdates then ProcessUpdates. Concurrent calls queue up.
func (i *DocumentIngestor) Sync(ctx context.Context) (*SyncReport, error) {
	i.syncMu.Lock()
	defer i.syncMu.Unlock()

	plan, err := i.CheckForUpdates(ctx)
	if err != nil {
		return nil, err
	}
	if len(plan.Updated) == 0 && len(plan.Removed) == 0 {
		i.log.Debug(ctx, "sop folder unchanged")
		return &SyncReport{Processed: []string{}, Removed: []string{}, Failed: map[string]string{}}, nil
	}

	report, err := i.ProcessUpdates(ctx, plan)
	if err != nil {
		return report, err
	}
	i.log.Info(ctx, "sync finished",
		"processed", len(report.Processed), "removed", len(report.Removed),
		"failed", len(report.Failed), "chunks", report.Chunks)
	return report, nil
}

// RemoveSource drops the chunks and index entry of one file.
func (i *DocumentIngestor) RemoveSource(ctx context.Context, source string) (int, error) {
	i.syncMu.Lock()
	defer i.syncMu.Unlock()

	n, err := i.store.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	return n, i.index.Delete(source)
}

// Reset empties the vector store and the hash index.
func (i *DocumentIngestor) Reset(ctx context.Context) error {
	i.syncMu.Lock()
	defer i.syncMu.Unlock()

	if err := i.store.Reset(ctx); err != nil {
		return err
	}
	return i.index.Replace(nil)
}

// IsIndexable reports whether the scanner picks up the file at p.
func IsIndexable(p string) bool {
	if strings.HasSuffix(strings.ToLower(p), MetadataSuffix) {
		return false
	}
	_, ok := SupportedExtensions[strings.ToLower(filepath.Ext(p))]
	return ok
}
