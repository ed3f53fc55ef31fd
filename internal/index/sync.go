package index

import (
	"context"
	"log/slog"
	"strings"

	"github.com/starford/docintake/internal/metaname"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/naming"
	"github.com/starford/docintake/internal/storage"
)

// Event kinds passed to EventCallback.
const (
	EventIndexed = "document.indexed"
	EventRemoved = "document.removed"
)

// EventCallback is called after an indexer-driven change. path is the
// storage path "bucket/key".
type EventCallback func(kind, path string)

// Indexer keeps the documents table in step with the object store. Object
// keys are the only source of metadata: every key is decoded back into its
// fields.
type Indexer struct {
	idx     Index
	store   storage.Provider
	naming  naming.Config
	buckets []string
	logger  *slog.Logger
	notify  EventCallback
}

// NewIndexer creates an indexer over buckets. notify may be nil.
func NewIndexer(idx Index, store storage.Provider, cfg naming.Config, buckets []string, logger *slog.Logger, notify EventCallback) *Indexer {
	return &Indexer{idx: idx, store: store, naming: cfg, buckets: buckets, logger: logger, notify: notify}
}

// Buckets returns the buckets the indexer covers.
func (x *Indexer) Buckets() []string { return x.buckets }

// SyncStats summarizes one Sync pass.
type SyncStats struct {
	Indexed   int `json:"indexed"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
	Failed    int `json:"failed"`
}

// Sync walks every bucket and brings the index up to date:
//   - new/changed objects are decoded and upserted
//   - rows whose objects are gone are deleted
func (x *Indexer) Sync(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	for _, bucket := range x.buckets {
		objs, err := x.store.List(ctx, bucket)
		if err != nil {
			return stats, err
		}
		checksums, err := x.idx.DocumentChecksums(ctx, bucket)
		if err != nil {
			return stats, err
		}

		present := make(map[string]struct{}, len(objs))
		for _, obj := range objs {
			p := obj.Path()
			present[p] = struct{}{}
			if cs, ok := checksums[p]; ok && cs == obj.Checksum {
				stats.Unchanged++
				continue
			}
			if _, err := x.IndexObject(ctx, obj); err != nil {
				stats.Failed++
				x.logger.Warn("sync: index failed", slog.String("path", p), slog.String("error", err.Error()))
				continue
			}
			stats.Indexed++
			x.emit(EventIndexed, p)
		}

		for p := range checksums {
			if _, ok := present[p]; ok {
				continue
			}
			if err := x.idx.DeleteDocument(ctx, p); err != nil {
				stats.Failed++
				x.logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
				continue
			}
			stats.Removed++
			x.logger.Debug("sync: removed stale", slog.String("path", p))
			x.emit(EventRemoved, p)
		}
	}
	x.logger.Info("sync: done",
		slog.Int("indexed", stats.Indexed),
		slog.Int("unchanged", stats.Unchanged),
		slog.Int("removed", stats.Removed),
		slog.Int("failed", stats.Failed))
	return stats, nil
}

// IndexObject decodes obj's key and upserts its row.
func (x *Indexer) IndexObject(ctx context.Context, obj storage.Object) (*models.Document, error) {
	d := x.Document(obj)
	if err := x.idx.UpsertDocument(ctx, d); err != nil {
		return nil, err
	}
	x.logger.Debug("sync: indexed", slog.String("path", d.StoragePath), slog.String("type", d.Type))
	return d, nil
}

// Remove deletes the row of bucket/key.
func (x *Indexer) Remove(ctx context.Context, bucket, key string) error {
	p := storage.JoinPath(bucket, key)
	if err := x.idx.DeleteDocument(ctx, p); err != nil {
		return err
	}
	x.emit(EventRemoved, p)
	return nil
}

// Document builds the row for obj. A key that no scheme recognizes is
// filed as type "other" so the object stays findable.
func (x *Indexer) Document(obj storage.Object) *models.Document {
	d := &models.Document{
		StoragePath: obj.Path(),
		Bucket:      obj.Bucket,
		Key:         obj.Key,
		Checksum:    obj.Checksum,
	}
	name := obj.Key
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}

	f, _, err := naming.ParseAny(name)
	if err != nil {
		x.logger.Warn("sync: unrecognized name, filed as other", slog.String("path", d.StoragePath))
		_, ext := metaname.SplitName(name)
		d.Type = models.OtherType
		d.Scope = models.ScopeAsset
		d.Ext = strings.ToLower(ext)
		return d
	}

	d.Type = f.Type
	d.TypeName = f.TypeName
	scope, ok := models.ParseScope(f.Scope)
	if !ok {
		scope = models.ScopeAsset
	}
	d.SetIdentifier(scope, f.Identifier)
	d.Tenant = x.naming.TenantNo(f.Type)
	if from, _, _, ok := naming.ParseDate(f.Date, naming.AllDateFormats); ok {
		d.DocDate = &from
	}
	d.Uploader = f.Mail
	if d.Uploader == "" {
		d.Uploader = f.UploaderTag
	}
	d.Ext = f.Ext
	return d
}

func (x *Indexer) emit(kind, path string) {
	if x.notify != nil {
		x.notify(kind, path)
	}
}
