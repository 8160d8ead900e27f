package backups

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/panoven/panoven/pkg/joblogs"
	"github.com/panoven/panoven/pkg/models"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/tours"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
)

// manifestEntry describes one image inside a part archive.
type manifestEntry struct {
	Name        string `json:"name"`
	StoragePath string `json:"storage_path"`
	ArchivePath string `json:"archive_path"`
	Size        int64  `json:"size"`
}

type manifest struct {
	BackupJobID int             `json:"backup_job_id"`
	PartNumber  int             `json:"part_number"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []manifestEntry `json:"items"`
}

// partArchive is one fully built chunk, ready for upload.
type partArchive struct {
	Data       []byte
	Hash       string
	ItemsCount int
}

// buildPartArchive downloads each image in the slice from the object store
// and writes it into a single zip together with a manifest. An image that
// fails to download is logged and skipped; the archive is still produced
// without it. A non-nil structure payload is written as tour.json.
func buildPartArchive(ctx context.Context, objects objectstore.Store, jobLog *joblogs.JobLogger, backupJobID, partNumber int, refs []tours.ImageRef, structure []byte) (*partArchive, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)

	if structure != nil {
		w, err := zw.Create("tour.json")
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if _, err := w.Write(structure); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	m := manifest{
		BackupJobID: backupJobID,
		PartNumber:  partNumber,
		CreatedAt:   time.Now(),
		Items:       []manifestEntry{},
	}

	for i, ref := range refs {
		archivePath := archiveEntryName(i, ref.Name)

		size, err := copyBlob(ctx, objects, zw, ref.StoragePath, archivePath)
		if err != nil {
			jobLog.Warn("skipping image that failed to download", logger.Data{
				"part_number":  partNumber,
				"storage_path": ref.StoragePath,
				"error":        err.Error(),
			})
			continue
		}

		m.Items = append(m.Items, manifestEntry{
			Name:        ref.Name,
			StoragePath: ref.StoragePath,
			ArchivePath: archivePath,
			Size:        size,
		})
	}

	manifestBytes, err := json.Marshal(m)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	w, err := zw.Create("manifest.json")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := w.Write(manifestBytes); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := zw.Close(); err != nil {
		return nil, errors.WithStack(err)
	}

	sum := sha256.Sum256(buf.Bytes())

	return &partArchive{
		Data:       buf.Bytes(),
		Hash:       hex.EncodeToString(sum[:]),
		ItemsCount: len(m.Items),
	}, nil
}

func copyBlob(ctx context.Context, objects objectstore.Store, zw *zip.Writer, storagePath, archivePath string) (int64, error) {
	rc, err := objects.Download(ctx, storagePath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	// Read the whole blob before touching the archive. A reader failing
	// mid-stream must not leave a truncated entry behind.
	data, err := io.ReadAll(rc)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	w, err := zw.Create(archivePath)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	if _, err := w.Write(data); err != nil {
		return 0, errors.WithStack(err)
	}
	return int64(len(data)), nil
}

// archiveEntryName prefixes the slice index so two images with the same
// filename can't clobber each other inside the zip.
func archiveEntryName(index int, name string) string {
	return fmt.Sprintf("images/%03d_%s", index, objectstore.SafeName(name))
}

func marshalTourStructure(tour *models.Tour) ([]byte, error) {
	data, err := json.Marshal(tour)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}
