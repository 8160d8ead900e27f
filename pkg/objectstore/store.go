package objectstore

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
)

// Store is the narrow blob-store surface the rest of the system depends on.
// The backup worker and the sync drain never see anything more specific than
// this.
type Store interface {
	Upload(ctx context.Context, path string, r io.Reader) (int64, error)
	Download(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	SignedURL(path string, expiresIn time.Duration) (string, error)
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_.,()']`)

// SafeName sanitizes a tour name for use inside an object path.
func SafeName(s string) string {
	result := unsafeNameChars.ReplaceAllString(s, "")
	result = strings.TrimSpace(result)
	for strings.Contains(result, "  ") {
		result = strings.ReplaceAll(result, "  ", " ")
	}
	result = strings.ReplaceAll(result, " ", "_")
	if result == "" {
		result = "tour"
	}
	return result
}

// PartPath builds the deterministic object path for one backup part. The part
// number is baked into the path so a retried chunk overwrites its own object
// instead of duplicating it.
func PartPath(userID string, backupJobID int, tourName string, partNumber int, ts time.Time) string {
	return fmt.Sprintf("%s/%d/%s_part%d_%d.zip", userID, backupJobID, SafeName(tourName), partNumber, ts.Unix())
}

// PhotoPath builds the object path for a synced panorama photo. The locally
// generated photo id keeps the path stable across retried uploads.
func PhotoPath(tenantID string, tourID int, photoID, filename string) string {
	return fmt.Sprintf("%s/tours/%d/photos/%s_%s", tenantID, tourID, photoID, SafeName(filename))
}
