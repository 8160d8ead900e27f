package syncer

import (
	"bytes"
	"context"

	"github.com/panoven/panoven/pkg/models"
	"github.com/panoven/panoven/pkg/objectstore"
	"github.com/panoven/panoven/pkg/tours"
)

// Backend receives drained photos. The orchestrator only ever needs this one
// call, so tests can swap in a recording implementation.
type Backend interface {
	UploadPhoto(ctx context.Context, photo *models.PendingPhoto) error
}

// ServerBackend uploads the photo's binary payload to the object store and
// records it on the owning hotspot.
type ServerBackend struct {
	tourService *tours.Service
	objects     objectstore.Store
}

func NewServerBackend(tourService *tours.Service, objects objectstore.Store) *ServerBackend {
	return &ServerBackend{
		tourService: tourService,
		objects:     objects,
	}
}

func (b *ServerBackend) UploadPhoto(ctx context.Context, photo *models.PendingPhoto) error {
	path := objectstore.PhotoPath(photo.TenantID, photo.TourID, photo.ID, photo.Filename)

	size, err := b.objects.Upload(ctx, path, bytes.NewReader(photo.Payload))
	if err != nil {
		return err
	}

	return b.tourService.CreatePhoto(ctx, &models.Photo{
		HotspotID:   photo.HotspotID,
		TourID:      photo.TourID,
		Filename:    photo.Filename,
		ContentType: photo.ContentType,
		StoragePath: path,
		FileSize:    size,
	})
}
