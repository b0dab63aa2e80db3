// Package objectclient stores raw SOP files, either in the local SOP
// folder or in an S3 bucket.
package objectclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core"
)

// LocalClient keeps files under a root directory. Keys are slash paths
// relative to root and may not escape it.
type LocalClient struct {
	root string
}

var _ core.ObjectClient = (*LocalClient)(nil)

func NewLocalClient(root string) (*LocalClient, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", abs, err)
	}
	return &LocalClient{root: abs}, nil
}

func (c *LocalClient) Root() string { return c.root }

// Resolve maps key to an absolute path inside root.
func (c *LocalClient) Resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") {
		return "", common.Invalid("path", "empty or invalid path")
	}
	p := filepath.Join(c.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(c.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", common.Invalid("path", "path escapes the document folder")
	}
	return p, nil
}

// UploadFile writes data to root/key, creating parent directories.
func (c *LocalClient) UploadFile(ctx context.Context, key string, data io.Reader, _ string) (string, error) {
	p, err := c.Resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, readerWithContext(ctx, data)); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", err
	}
	return p, nil
}

func (c *LocalClient) GetObjectReader(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := c.Resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: %w", key, common.ErrNotFound)
	}
	return f, err
}

func (c *LocalClient) DeleteFile(_ context.Context, key string) error {
	p, err := c.Resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", key, common.ErrNotFound)
		}
		return err
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
