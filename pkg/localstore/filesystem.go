package localstore

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/panoven/panoven/pkg/errcodes"
	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
)

const (
	tourDataFile   = "tour.json.gz"
	floorPlansFile = "floorplans.json.gz"
	hotspotsFile   = "hotspots.json.gz"
	metaFile       = "meta.json"
	imagesDir      = "images"
)

type bundleMeta struct {
	TourID    int       `json:"tour_id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FilesystemStore keeps tour bundles as directories under the cache dir, one
// per tour. Structured payloads are gzip-compressed on write and transparently
// decompressed on read; image bytes are stored raw since they are already
// compressed formats.
type FilesystemStore struct {
	dir   string
	limit int
}

func NewFilesystemStore(dir string, limit int) (*FilesystemStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory: %s", dir)
	}
	return &FilesystemStore{dir: dir, limit: limit}, nil
}

func (s *FilesystemStore) tourDir(tourID int) string {
	return filepath.Join(s.dir, strconv.Itoa(tourID))
}

func (s *FilesystemStore) Save(ctx context.Context, tour *StoredTour) error {
	tour.Size = payloadSize(tour)

	// Build the bundle in a staging directory and rename it into place so a
	// crash mid-write never leaves a half-written bundle behind.
	staging, err := os.MkdirTemp(s.dir, ".staging-*")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.RemoveAll(staging)

	if err := writeCompressed(filepath.Join(staging, tourDataFile), tour.TourData); err != nil {
		return err
	}
	if err := writeCompressed(filepath.Join(staging, floorPlansFile), tour.FloorPlans); err != nil {
		return err
	}
	if err := writeCompressed(filepath.Join(staging, hotspotsFile), tour.Hotspots); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(staging, imagesDir), 0755); err != nil {
		return errors.WithStack(err)
	}
	for key, img := range tour.Images {
		if err := os.WriteFile(filepath.Join(staging, imagesDir, key+".bin"), img, 0644); err != nil {
			return errors.WithStack(err)
		}
	}

	meta := bundleMeta{
		TourID:    tour.TourID,
		Name:      tour.Name,
		Size:      tour.Size,
		CachedAt:  tour.CachedAt,
		ExpiresAt: tour.ExpiresAt,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(filepath.Join(staging, metaFile), metaData, 0644); err != nil {
		return errors.WithStack(err)
	}

	dest := s.tourDir(tour.TourID)
	if err := os.RemoveAll(dest); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (s *FilesystemStore) Load(ctx context.Context, tourID int) (*StoredTour, error) {
	dir := s.tourDir(tourID)

	meta, err := s.readMeta(dir)
	if err != nil {
		return nil, err
	}

	tourData, err := readCompressed(filepath.Join(dir, tourDataFile))
	if err != nil {
		return nil, err
	}
	floorPlans, err := readCompressed(filepath.Join(dir, floorPlansFile))
	if err != nil {
		return nil, err
	}
	hotspots, err := readCompressed(filepath.Join(dir, hotspotsFile))
	if err != nil {
		return nil, err
	}

	images := map[string][]byte{}
	entries, err := os.ReadDir(filepath.Join(dir, imagesDir))
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.WithStack(err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".bin" {
			continue
		}
		img, err := os.ReadFile(filepath.Join(dir, imagesDir, name))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		images[name[:len(name)-len(".bin")]] = img
	}

	return &StoredTour{
		TourID:     meta.TourID,
		Name:       meta.Name,
		TourData:   tourData,
		FloorPlans: floorPlans,
		Hotspots:   hotspots,
		Images:     images,
		Size:       meta.Size,
		CachedAt:   meta.CachedAt,
		ExpiresAt:  meta.ExpiresAt,
	}, nil
}

func (s *FilesystemStore) List(ctx context.Context) ([]TourInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	infos := []TourInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(entry.Name()); err != nil {
			// Staging dirs and strays.
			continue
		}
		meta, err := s.readMeta(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, TourInfo{
			ID:           meta.TourID,
			Name:         meta.Name,
			Size:         meta.Size,
			LastModified: meta.CachedAt,
			ExpiresAt:    meta.ExpiresAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastModified.Before(infos[j].LastModified)
	})

	return infos, nil
}

func (s *FilesystemStore) Delete(ctx context.Context, tourID int) error {
	if err := os.RemoveAll(s.tourDir(tourID)); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func (s *FilesystemStore) Stats(ctx context.Context) (*Stats, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}

	// Expired bundles don't count against capacity, so they don't count
	// here either.
	now := time.Now()
	stats := &Stats{Limit: s.limit}
	for _, info := range infos {
		if !info.ExpiresAt.After(now) {
			continue
		}
		stats.Count++
		stats.Size += info.Size
	}

	return stats, nil
}

func (s *FilesystemStore) readMeta(dir string) (*bundleMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcodes.NotFound("Cached tour")
		}
		return nil, errors.WithStack(err)
	}

	meta := &bundleMeta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, errors.WithStack(err)
	}

	return meta, nil
}

func writeCompressed(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(data); err != nil {
		return errors.WithStack(err)
	}
	if err := zw.Close(); err != nil {
		return errors.WithStack(err)
	}

	return errors.WithStack(f.Close())
}

func readCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcodes.NotFound("Cached tour")
		}
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return data, nil
}
