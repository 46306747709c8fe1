package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/blob"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

// MediaSizes lists the binary variants downloaded per media type.
var MediaSizes = map[string][]string{
	model.MediaPhoto:     {"thumbnail", "large", "original"},
	model.MediaVideo:     {"small", "medium", "original"},
	model.MediaAudio:     {"small", "medium", "original"},
	model.MediaSignature: {"thumbnail", "large", "original"},
}

// mediaPost downloads every available size into the blob store and records
// where each landed in the storage attribute.
func (p *Pipeline) mediaPost(ctx context.Context, _ repository.EntityRepository, e *model.Entity, doc map[string]any, _ options) error {
	if p.blobs == nil || p.dl == nil {
		return nil
	}
	mediaType := e.Str("media_type")
	sizes, ok := MediaSizes[mediaType]
	if !ok {
		return fmt.Errorf("media %s: unknown media type %q", e.ID, mediaType)
	}
	storage := map[string]any{}
	for _, size := range sizes {
		src := str(doc[size])
		if src == "" {
			continue
		}
		key := blob.Key{
			FormID:      e.Str("form_id"),
			RecordID:    e.Str("record_id"),
			MediaType:   mediaType,
			MediaID:     e.ID,
			Size:        size,
			ContentType: e.Str("content_type"),
		}
		path, key, err := p.save(ctx, src, key)
		if err != nil {
			return fmt.Errorf("media %s size %s: %w", e.ID, size, err)
		}
		entry := map[string]any{"path": path}
		if u, ok := p.blobs.URL(key); ok {
			entry["url"] = u
		}
		storage[size] = entry
		p.log.Debug("stored media", zap.String("id", e.ID), zap.String("size", size), zap.String("path", path))
	}
	e.Attrs["storage"] = storage
	return nil
}

func (p *Pipeline) save(ctx context.Context, src string, key blob.Key) (string, blob.Key, error) {
	rc, contentType, err := p.dl.Download(ctx, src)
	if err != nil {
		return "", key, err
	}
	defer rc.Close()
	if key.ContentType == "" {
		key.ContentType = contentType
	}
	path, err := p.blobs.Save(ctx, rc, key)
	return path, key, err
}
