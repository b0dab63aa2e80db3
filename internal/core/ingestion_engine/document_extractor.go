package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"code.sajari.com/docconv"
	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core"
	"github.com/markdave123-py/sopassistant/internal/logging"
)

// SupportedExtensions lists the file types the scanner picks up.
var SupportedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
	".csv":  "text/csv",
	".md":   "text/markdown",
	".txt":  "text/plain",
}

// Extractor implements core.DocumentExtractor: docconv for office formats
// and PDF (with a pure-Go PDF fallback), direct reads for text formats.
type Extractor struct {
	useReadability bool
	log            logging.Logger

	// convert wraps docconv.Convert; swapped in tests.
	convert func(r io.Reader, mimeType string, readability bool) (string, error)
}

var _ core.DocumentExtractor = (*Extractor)(nil)

func NewExtractor(log logging.Logger) *Extractor {
	return &Extractor{log: log, convert: docconvConvert}
}

func docconvConvert(r io.Reader, mimeType string, readability bool) (string, error) {
	res, err := docconv.Convert(r, mimeType, readability)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

// ExtractText streams non-empty trimmed lines of the document.
func (e *Extractor) ExtractText(ctx context.Context, g *errgroup.Group, data []byte, fileType string) (<-chan string, error) {
	fileType = strings.ToLower(fileType)
	if _, ok := SupportedExtensions[fileType]; !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrUnsupportedFile, fileType)
	}

	out := make(chan string, 32)

	g.Go(func() error {
		defer close(out)

		text, err := e.extract(ctx, data, fileType)
		if err != nil {
			return err
		}

		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line == "" {
				continue
			}
			select {
			case out <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	return out, nil
}

func (e *Extractor) extract(ctx context.Context, data []byte, fileType string) (string, error) {
	switch fileType {
	case ".md", ".txt":
		return string(data), nil
	case ".csv":
		return csvText(data)
	case ".pdf":
		text, err := e.convert(bytes.NewReader(data), SupportedExtensions[fileType], e.useReadability)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		}
		e.log.Debug(ctx, "docconv pdf failed, using fallback reader", "err", err)
		return pdfPlainText(data)
	default:
		text, err := e.convert(bytes.NewReader(data), SupportedExtensions[fileType], e.useReadability)
		if err != nil {
			return "", fmt.Errorf("docconv %s: %w", fileType, err)
		}
		return text, nil
	}
}

// csvText renders each record as one line, cells joined by " | ".
func csvText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var b strings.Builder
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read csv: %w", err)
		}
		b.WriteString(strings.Join(rec, " | "))
		b.WriteByte('\n')
	}
	return b.String(), nil
}

func pdfPlainText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("read pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("pdf text: %w", err)
	}
	return buf.String(), nil
}
