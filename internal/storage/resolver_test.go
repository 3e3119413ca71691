package storage

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"content-protection/internal/models"
)

func newTestResolver(t *testing.T, remote ObjectStore, useRemote bool) (*Resolver, *LocalStore) {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("local store: %v", err)
	}
	r, err := NewResolver(ResolverOptions{
		Local:     local,
		Remote:    remote,
		UseRemote: useRemote,
		Signer:    NewURLSigner("k", "http://api.test"),
		TTL:       15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return r, local
}

func TestResolverMaterializeLocal(t *testing.T) {
	ctx := context.Background()
	r, local := newTestResolver(t, nil, false)
	data := pngBytes(t)

	file, err := r.Materialize(ctx, "user-1", models.MediaImage, Upload{Name: "../../cat.png", Body: bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if file.StorageType != models.StorageLocal || file.MimeType != "image/png" || file.FileSize != int64(len(data)) {
		t.Fatalf("unexpected descriptor: %+v", file)
	}
	if file.FileName != "cat.png" {
		t.Fatalf("display name should drop directories, got %q", file.FileName)
	}
	if !strings.HasPrefix(file.FilePath, "protection/user-1/") || filepath.Ext(file.FilePath) != ".png" {
		t.Fatalf("unexpected key %q", file.FilePath)
	}

	loc, err := r.Resolve(file)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if loc.Kind != models.StorageLocal || loc.Value != file.FilePath {
		t.Fatalf("local locator should be the relative key, got %+v", loc)
	}
	onDisk, err := os.ReadFile(filepath.Join(local.baseDir, filepath.FromSlash(loc.Value)))
	if err != nil || !bytes.Equal(onDisk, data) {
		t.Fatalf("file not written: %v", err)
	}

	access, err := r.AccessURL(ctx, file)
	if err != nil {
		t.Fatalf("access url: %v", err)
	}
	u, _ := url.Parse(access)
	if u.Host != "api.test" || u.Query().Get("expires") == "" || u.Query().Get("sig") == "" {
		t.Fatalf("local access url must be signed and expiring: %s", access)
	}

	if _, err := r.PresignKey(ctx, file.FilePath); !errors.Is(err, ErrRemoteDisabled) {
		t.Fatalf("presign without remote: %v", err)
	}
	if err := r.Remove(ctx, file); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestResolverMaterializeRemote(t *testing.T) {
	ctx := context.Background()
	remote := newFakeObjectStore()
	r, _ := newTestResolver(t, remote, true)

	file, err := r.Materialize(ctx, "u", models.MediaVideo, Upload{Name: "clip.mp4", Body: bytes.NewReader(mp4Bytes())})
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if file.StorageType != models.StorageS3 {
		t.Fatalf("expected s3 storage, got %s", file.StorageType)
	}
	if _, ok := remote.objects[file.FilePath]; !ok {
		t.Fatalf("object not uploaded under %s", file.FilePath)
	}
	access, err := r.AccessURL(ctx, file)
	if err != nil {
		t.Fatalf("access url: %v", err)
	}
	if !strings.Contains(access, "X-Amz-Expires=900") {
		t.Fatalf("expected presigned url with ttl, got %s", access)
	}
	if err := r.Remove(ctx, file); err != nil || len(remote.deleted) != 1 {
		t.Fatalf("remove: err=%v deleted=%v", err, remote.deleted)
	}
}

func TestResolverRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	remote := newFakeObjectStore()
	r, _ := newTestResolver(t, remote, true)

	_, err := r.Materialize(ctx, "u", models.MediaImage, Upload{Name: "notes.txt", Body: strings.NewReader("hello there")})
	if !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = r.Materialize(ctx, "u", models.MediaImage, Upload{Name: "empty.png", Body: bytes.NewReader(nil)})
	if !models.IsValidation(err) {
		t.Fatalf("expected validation error for empty upload, got %v", err)
	}
	if len(remote.objects) != 0 {
		t.Fatalf("rejected uploads must not be stored")
	}

	if _, err := r.Resolve(models.OriginalFile{StorageType: models.StorageLocal, FilePath: "../../etc/passwd"}); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("traversal must be rejected, got %v", err)
	}
	if _, err := NewResolver(ResolverOptions{Local: &LocalStore{baseDir: t.TempDir()}, Signer: NewURLSigner("k", ""), UseRemote: true}); !errors.Is(err, ErrRemoteDisabled) {
		t.Fatalf("use remote without backend: %v", err)
	}
}
