// Package uploads reads the records left behind by the upload/OCR pipeline.
package uploads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNotFound  = errors.New("upload not found")
	ErrInvalidID = errors.New("invalid file id")
)

var fileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Record is the OCR collaborator's output for one uploaded file. Pages in
// ExcerptText are separated by form feeds.
type Record struct {
	FileID      string `json:"fileId"`
	FileName    string `json:"fileName"`
	ExcerptText string `json:"excerptText"`
	PageCount   *int   `json:"pageCount,omitempty"`
}

type Fetcher interface {
	Fetch(ctx context.Context, fileID string) (Record, error)
}

// ObjectKey is where the OCR pipeline writes the record for fileID.
func ObjectKey(fileID string) string {
	return "extracts/" + fileID + ".json"
}

func validID(fileID string) error {
	if !fileIDPattern.MatchString(fileID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, fileID)
	}
	return nil
}

// Decode parses a record and checks it belongs to fileID.
func Decode(fileID string, raw []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode upload record: %w", err)
	}
	if rec.FileID == "" {
		rec.FileID = fileID
	}
	if rec.FileID != fileID {
		return Record{}, fmt.Errorf("upload record %s carries file id %s", fileID, rec.FileID)
	}
	if strings.TrimSpace(rec.FileName) == "" {
		rec.FileName = fileID
	}
	if rec.PageCount != nil && *rec.PageCount < 0 {
		return Record{}, fmt.Errorf("upload record %s has negative page count", fileID)
	}
	return rec, nil
}
