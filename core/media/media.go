// Package media stores the pictures attached to profiles, articles, ads and transaction proofs.
package media

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
)

const (
	DefaultFolder = "uploads"
	MaxSize       = 5 << 20
)

var (
	// mockable
	nowFunc = time.Now

	ErrEmpty    = core.NewValidationError(errors.New("Fichier vide."), core.FieldError{Field: "file", Error: "fichier vide"})
	ErrTooLarge = core.NewValidationError(errors.New("Fichier trop volumineux (5 Mo maximum)."), core.FieldError{Field: "file", Error: "fichier trop volumineux"})
	ErrNotImage = core.NewValidationError(errors.New("Seules les images sont acceptées."), core.FieldError{Field: "file", Error: "format non supporté"})

	rndMu sync.Mutex
	rnd   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// BlobStore keeps the uploaded files.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// URL returns the public URL of the file stored under key.
	URL(key string) string
}

func randomName() string {
	rndMu.Lock()
	defer rndMu.Unlock()
	return strconv.FormatUint(rnd.Uint64(), 36)
}

// ObjectKey names a new file of folder: <folder>/<random>_<unixms>.<ext>.
// The extension is taken from filename.
func ObjectKey(folder, filename string) string {
	folder = strings.Trim(core.CleanString(folder), "/")
	if folder == "" {
		folder = DefaultFolder
	}
	ext := filename
	if i := strings.LastIndex(filename, "."); i >= 0 {
		ext = filename[i+1:]
	}
	ext = strings.ToLower(ext)
	return folder + "/" + randomName() + "_" + strconv.FormatInt(nowFunc().UnixMilli(), 10) + "." + ext
}

// Uploader checks the files and stores them under a fresh key.
type Uploader struct {
	blobs BlobStore
}

func NewUploader(blobs BlobStore) *Uploader {
	return &Uploader{blobs: blobs}
}

// Upload stores an image under folder and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, data []byte, folder, filename string) (string, error) {
	switch {
	case len(data) == 0:
		return "", ErrEmpty
	case len(data) > MaxSize:
		return "", ErrTooLarge
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return "", ErrNotImage
	}

	key := ObjectKey(folder, filename)
	if err := u.blobs.Put(ctx, key, bytes.Clone(data), contentType); err != nil {
		return "", errors.Wrapf(err, "storing %s", key)
	}
	return u.blobs.URL(key), nil
}
