package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"content-protection/internal/models"
)

// ErrRemoteDisabled is returned when a remote operation is requested without object storage.
var ErrRemoteDisabled = errors.New("storage: object storage is not configured")

// Upload is one file received from a client.
type Upload struct {
	Name string
	Body io.ReadSeeker
}

// Locator says where a materialized file lives: an object key, or a path relative to the media root.
type Locator struct {
	Kind  models.StorageType
	Value string
}

// ObjectStore is the remote backend. *S3Store implements it.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string) error
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// ResolverOptions wires the resolver.
type ResolverOptions struct {
	Local     *LocalStore
	Remote    ObjectStore
	UseRemote bool
	Signer    *URLSigner
	TTL       time.Duration
}

// Resolver materializes uploads and hands out time-limited URLs for them.
type Resolver struct {
	local     *LocalStore
	remote    ObjectStore
	useRemote bool
	signer    *URLSigner
	ttl       time.Duration
	now       func() time.Time
}

// NewResolver validates the option set.
func NewResolver(opts ResolverOptions) (*Resolver, error) {
	if opts.Local == nil {
		return nil, errors.New("storage: local store is required")
	}
	if opts.Signer == nil {
		return nil, errors.New("storage: url signer is required")
	}
	if opts.UseRemote && opts.Remote == nil {
		return nil, ErrRemoteDisabled
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Resolver{
		local:     opts.Local,
		remote:    opts.Remote,
		useRemote: opts.UseRemote,
		signer:    opts.Signer,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

// Materialize sniffs and stores one upload for ownerID and returns its descriptor.
// Unsupported content yields a models.ValidationError before anything is written.
func (r *Resolver) Materialize(ctx context.Context, ownerID string, media models.MediaType, up Upload) (models.OriginalFile, error) {
	if up.Body == nil {
		return models.OriginalFile{}, models.Invalid("file", "empty upload")
	}
	size, err := up.Body.Seek(0, io.SeekEnd)
	if err != nil {
		return models.OriginalFile{}, fmt.Errorf("measure upload: %w", err)
	}
	if _, err := up.Body.Seek(0, io.SeekStart); err != nil {
		return models.OriginalFile{}, fmt.Errorf("rewind upload: %w", err)
	}
	if size == 0 {
		return models.OriginalFile{}, models.Invalid("file", "%s is empty", displayName(up.Name))
	}

	mime, ext, err := Inspect(media, up.Body)
	if err != nil {
		return models.OriginalFile{}, err
	}

	fileID := uuid.NewString()
	key, err := sanitizeKey(fmt.Sprintf("protection/%s/%s/%s%s", ownerSegment(ownerID), r.now().UTC().Format("2006/01/02"), fileID, ext))
	if err != nil {
		return models.OriginalFile{}, err
	}

	file := models.OriginalFile{
		FileID:   fileID,
		FileName: displayName(up.Name),
		FileSize: size,
		FilePath: key,
		MimeType: mime,
	}
	if r.useRemote {
		if err := r.remote.Put(ctx, key, up.Body, size, mime); err != nil {
			return models.OriginalFile{}, fmt.Errorf("upload %s: %w", file.FileName, err)
		}
		file.StorageType = models.StorageS3
		return file, nil
	}
	if _, err := r.local.Write(ctx, key, up.Body); err != nil {
		return models.OriginalFile{}, fmt.Errorf("store %s: %w", file.FileName, err)
	}
	file.StorageType = models.StorageLocal
	return file, nil
}

// Resolve returns the object key (remote) or the relative media path (local). Keys that would
// escape the media root are rejected.
func (r *Resolver) Resolve(file models.OriginalFile) (Locator, error) {
	switch file.StorageType {
	case models.StorageS3:
		key, err := sanitizeKey(file.FilePath)
		if err != nil {
			return Locator{}, err
		}
		return Locator{Kind: models.StorageS3, Value: key}, nil
	case models.StorageLocal:
		key, err := sanitizeKey(file.FilePath)
		if err != nil {
			return Locator{}, err
		}
		if _, err := r.local.Path(key); err != nil {
			return Locator{}, err
		}
		return Locator{Kind: models.StorageLocal, Value: key}, nil
	}
	return Locator{}, fmt.Errorf("storage: unknown storage type %q", file.StorageType)
}

// AccessURL returns a time-limited fetch URL for a materialized file.
func (r *Resolver) AccessURL(ctx context.Context, file models.OriginalFile) (string, error) {
	loc, err := r.Resolve(file)
	if err != nil {
		return "", err
	}
	if loc.Kind == models.StorageS3 {
		return r.PresignKey(ctx, loc.Value)
	}
	return r.signer.Sign(loc.Value, r.ttl), nil
}

// PresignKey mints a time-limited URL for an object key in remote storage.
func (r *Resolver) PresignKey(ctx context.Context, key string) (string, error) {
	if r.remote == nil {
		return "", ErrRemoteDisabled
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return r.remote.Presign(ctx, clean, r.ttl)
}

// Remove deletes a materialized file.
func (r *Resolver) Remove(ctx context.Context, file models.OriginalFile) error {
	loc, err := r.Resolve(file)
	if err != nil {
		return err
	}
	if loc.Kind == models.StorageS3 {
		if r.remote == nil {
			return ErrRemoteDisabled
		}
		return r.remote.Delete(ctx, loc.Value)
	}
	return r.local.Remove(loc.Value)
}

func displayName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

func ownerSegment(ownerID string) string {
	seg := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, ownerID)
	if seg == "" {
		return "anonymous"
	}
	return seg
}
