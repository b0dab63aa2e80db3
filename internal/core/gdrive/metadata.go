package gdrive

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/markdave123-py/sopassistant/internal/common"
	"github.com/markdave123-py/sopassistant/internal/core/userstore"
	"github.com/markdave123-py/sopassistant/internal/models"
)

// MetadataSuffix is appended to a document path to name its companion file.
const MetadataSuffix = ".gdrive_metadata"

var idPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`drive\.google\.com.*?([a-zA-Z0-9_-]{25,})`),
}

func MetadataPath(docPath string) string { return docPath + MetadataSuffix }

// ViewLink is the browser link of a Drive file.
func ViewLink(id string) string {
	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", id)
}

// IDFromURL extracts the file id from the usual Drive URL shapes.
func IDFromURL(u string) (string, error) {
	for _, re := range idPatterns {
		if m := re.FindStringSubmatch(u); m != nil {
			return m[1], nil
		}
	}
	return "", common.Invalid("gdrive_url", fmt.Sprintf("no Google Drive file id in %q", u))
}

// LinkFromURL normalises any Drive URL to the /view form.
func LinkFromURL(u string) (*models.DriveMetadata, error) {
	id, err := IDFromURL(u)
	if err != nil {
		return nil, err
	}
	return &models.DriveMetadata{DriveID: id, DriveLink: ViewLink(id)}, nil
}

// ReadMetadata loads the companion file of docPath. A missing file returns
// common.ErrNotFound.
func ReadMetadata(docPath string) (*models.DriveMetadata, error) {
	raw, err := os.ReadFile(MetadataPath(docPath))
	if os.IsNotExist(err) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m models.DriveMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetadataPath(docPath), err)
	}
	if m.DriveLink == "" && m.DriveID != "" {
		m.DriveLink = ViewLink(m.DriveID)
	}
	return &m, nil
}

// WriteMetadata writes the companion file of docPath. Without overwrite an
// existing file is left alone and common.ErrAlreadyExists is returned.
func WriteMetadata(docPath string, m models.DriveMetadata, overwrite bool) error {
	p := MetadataPath(docPath)
	if !overwrite {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%s: %w", p, common.ErrAlreadyExists)
		}
	}
	if m.CreatedAt == "" {
		m.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return userstore.WriteFileAtomic(p, raw, 0o644)
}
