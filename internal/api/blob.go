package api

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/storage"
)

const (
	blobPrefix     = "/blob/"
	maxUploadBytes = 50 << 20 // 50 MB
	sniffBytes     = 3072
)

// extension aliases that name the same content type.
var extAliases = map[string]string{"jpeg": "jpg", "tif": "tiff"}

// BlobHandler receives and serves objects of the fs store through URLs
// signed by storage.FS. The token is the only credential.
type BlobHandler struct {
	store  *storage.FS
	logger *slog.Logger
}

// NewBlobHandler creates a handler for store.
func NewBlobHandler(store *storage.FS, logger *slog.Logger) *BlobHandler {
	return &BlobHandler{store: store, logger: logger}
}

// Routes returns the router to mount at /blob.
func (h *BlobHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Put("/*", h.Put)
	r.Post("/*", h.Put)
	r.Get("/*", h.Get)
	r.Head("/*", h.Get)
	return r
}

// blobTarget reads bucket and key from the escaped request path. Keys may
// hold literal percent escapes, so the path is unescaped exactly once here
// instead of relying on the router's decoded form.
func blobTarget(r *http.Request) (bucket, key string, err error) {
	p := r.URL.EscapedPath()
	i := strings.Index(p, blobPrefix)
	if i < 0 {
		return "", "", apperr.InvalidFormat("path", "not a blob path")
	}
	rawBucket, rawKey, ok := strings.Cut(p[i+len(blobPrefix):], "/")
	if !ok || rawBucket == "" || rawKey == "" {
		return "", "", apperr.InvalidFormat("path", "blob path must be /blob/{bucket}/{key}")
	}
	if bucket, err = url.PathUnescape(rawBucket); err != nil {
		return "", "", apperr.InvalidFormat("path", "bad bucket escape")
	}
	if key, err = url.PathUnescape(rawKey); err != nil {
		return "", "", apperr.InvalidFormat("path", "bad key escape")
	}
	return bucket, key, nil
}

func (h *BlobHandler) authorize(w http.ResponseWriter, r *http.Request, op string) (bucket, key string, ok bool) {
	bucket, key, err := blobTarget(r)
	if err != nil {
		writeError(w, h.logger, "blob", err)
		return "", "", false
	}
	if err := h.store.Tokens().Verify(r.URL.Query().Get("token"), op, bucket, key); err != nil {
		writeError(w, h.logger, "blob", err)
		return "", "", false
	}
	return bucket, key, true
}

// Put handles PUT /blob/{bucket}/{key}?token=... The body is the raw file.
// Its sniffed content type must match the key's extension.
func (h *BlobHandler) Put(w http.ResponseWriter, r *http.Request) {
	bucket, key, ok := h.authorize(w, r, storage.OpUpload)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	head := make([]byte, sniffBytes)
	n, err := io.ReadFull(r.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	head = head[:n]
	if n == 0 {
		writeError(w, h.logger, "blob", apperr.MissingField("body", "file body is empty"))
		return
	}
	mt := mimetype.Detect(head)
	if !matchesExtension(mt, path.Ext(key)) {
		writeJSON(w, http.StatusUnsupportedMediaType, errResponse{
			Error:   "content does not match the file extension",
			Code:    string(apperr.CodeInvalidFormat),
			Field:   "ext",
			Details: map[string]string{"detected": mt.String()},
		})
		return
	}

	obj, err := h.store.Put(bucket, key, io.MultiReader(bytes.NewReader(head), r.Body))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
			return
		}
		writeError(w, h.logger, "blob put", err)
		return
	}
	h.logger.Info("object stored",
		slog.String("path", obj.Path()),
		slog.String("content_type", mt.String()),
		slog.Int64("size", obj.Size))
	writeJSON(w, http.StatusOK, map[string]string{"Key": obj.Path()})
}

// Get handles GET /blob/{bucket}/{key}?token=...
func (h *BlobHandler) Get(w http.ResponseWriter, r *http.Request) {
	bucket, key, ok := h.authorize(w, r, storage.OpDownload)
	if !ok {
		return
	}
	f, err := h.store.Open(bucket, key)
	if err != nil {
		writeError(w, h.logger, "blob get", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, h.logger, "blob get", err)
		return
	}
	mt, err := mimetype.DetectReader(f)
	if err == nil {
		w.Header().Set("Content-Type", mt.String())
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		writeError(w, h.logger, "blob get", err)
		return
	}
	w.Header().Set("Content-Disposition", `inline; filename="`+strings.ReplaceAll(path.Base(key), `"`, "")+`"`)
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}

// matchesExtension reports whether mt or one of its parents carries ext.
// Content the detector cannot place is accepted.
func matchesExtension(mt *mimetype.MIME, ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" || mt.Is("application/octet-stream") {
		return true
	}
	if a, ok := extAliases[ext]; ok {
		ext = a
	}
	for m := mt; m != nil; m = m.Parent() {
		got := strings.ToLower(strings.TrimPrefix(m.Extension(), "."))
		if a, ok := extAliases[got]; ok {
			got = a
		}
		if got == ext {
			return true
		}
	}
	return false
}
