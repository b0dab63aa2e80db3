// Command sopmeta manages the .gdrive_metadata companion files that link
// local SOP documents to their Google Drive originals.
//
//	sopmeta apply  -csv mapping.csv [-overwrite]
//	sopmeta link   -file Sanitation.pdf -url https://drive.google.com/file/d/.../view
//	sopmeta list
//	sopmeta sample -o mapping.csv
package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/gdrive"
	ingest "github.com/markdave123-py/sopassistant/internal/core/ingestion_engine"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "sopmeta:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: sopmeta apply|link|list|sample [flags]")
	}
	cmd, rest := args[0], args[1:]

	fset := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fset.SetOutput(out)
	folder := fset.String("folder", envOr("SOP_FOLDER", "./SOPs"), "SOP document folder")

	switch cmd {
	case "apply":
		mapping := fset.String("csv", "", "CSV file with filename,gdrive_url rows")
		overwrite := fset.Bool("overwrite", false, "replace existing metadata files")
		if err := fset.Parse(rest); err != nil {
			return err
		}
		if *mapping == "" {
			return errors.New("apply: -csv is required")
		}
		return applyCSV(*folder, *mapping, *overwrite, out)

	case "link":
		file := fset.String("file", "", "document name relative to the folder")
		url := fset.String("url", "", "Google Drive URL of the document")
		overwrite := fset.Bool("overwrite", true, "replace an existing metadata file")
		if err := fset.Parse(rest); err != nil {
			return err
		}
		if *file == "" || *url == "" {
			return errors.New("link: -file and -url are required")
		}
		if err := link(*folder, *file, *url, *overwrite); err != nil {
			return err
		}
		fmt.Fprintf(out, "linked %s\n", *file)
		return nil

	case "list":
		if err := fset.Parse(rest); err != nil {
			return err
		}
		return list(*folder, out)

	case "sample":
		dest := fset.String("o", "gdrive_mapping.csv", "where to write the sample CSV")
		if err := fset.Parse(rest); err != nil {
			return err
		}
		return writeSample(*folder, *dest, out)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func link(folder, file, url string, overwrite bool) error {
	doc := filepath.Join(folder, filepath.FromSlash(file))
	if _, err := os.Stat(doc); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	meta, err := gdrive.LinkFromURL(url)
	if err != nil {
		return err
	}
	meta.DriveName = filepath.Base(doc)
	return gdrive.WriteMetadata(doc, *meta, overwrite)
}

// applyCSV reads filename,gdrive_url rows. A header row is skipped and
// bad rows are reported without stopping the run.
func applyCSV(folder, path string, overwrite bool, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var written, skipped, failed int
	for i, row := range rows {
		if len(row) < 2 {
			fmt.Fprintf(out, "line %d: expected filename,gdrive_url\n", i+1)
			failed++
			continue
		}
		name, url := strings.TrimSpace(row[0]), strings.TrimSpace(row[1])
		if i == 0 && strings.EqualFold(name, "filename") {
			continue
		}
		err := link(folder, name, url, overwrite)
		switch {
		case err == nil:
			written++
		case errors.Is(err, common.ErrAlreadyExists):
			skipped++
		default:
			fmt.Fprintf(out, "line %d: %s: %v\n", i+1, name, err)
			failed++
		}
	}
	fmt.Fprintf(out, "written=%d skipped=%d failed=%d\n", written, skipped, failed)
	return nil
}

func documents(folder string) ([]string, error) {
	var docs []string
	err := filepath.WalkDir(folder, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !ingest.IsIndexable(p) {
			return nil
		}
		rel, err := filepath.Rel(folder, p)
		if err != nil {
			return err
		}
		docs = append(docs, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(docs)
	return docs, err
}

func list(folder string, out io.Writer) error {
	docs, err := documents(folder)
	if err != nil {
		return err
	}
	var linked, missing []string
	for _, d := range docs {
		m, err := gdrive.ReadMetadata(filepath.Join(folder, filepath.FromSlash(d)))
		switch {
		case err == nil:
			linked = append(linked, fmt.Sprintf("  %s -> %s", d, m.DriveLink))
		case errors.Is(err, common.ErrNotFound):
			missing = append(missing, "  "+d)
		default:
			missing = append(missing, fmt.Sprintf("  %s (unreadable: %v)", d, err))
		}
	}

	fmt.Fprintf(out, "with metadata (%d):\n", len(linked))
	for _, l := range linked {
		fmt.Fprintln(out, l)
	}
	fmt.Fprintf(out, "without metadata (%d):\n", len(missing))
	for _, l := range missing {
		fmt.Fprintln(out, l)
	}
	return nil
}

// writeSample lists every document lacking metadata with an empty url
// column, ready to be filled in.
func writeSample(folder, dest string, out io.Writer) error {
	docs, err := documents(folder)
	if err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	_ = w.Write([]string{"filename", "gdrive_url"})
	n := 0
	for _, d := range docs {
		if _, err := gdrive.ReadMetadata(filepath.Join(folder, filepath.FromSlash(d))); err == nil {
			continue
		}
		_ = w.Write([]string{d, ""})
		n++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d rows to %s\n", n, dest)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
