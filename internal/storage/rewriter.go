package storage

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// KeyPresigner mints a time-limited URL for an object key.
type KeyPresigner interface {
	PresignKey(ctx context.Context, key string) (string, error)
}

// Rewriter replaces object-storage result URLs with freshly presigned ones.
type Rewriter struct {
	presigner  KeyPresigner
	hostSuffix string
	bucket     string
	log        zerolog.Logger
}

// NewRewriter matches hosts equal to or ending in hostSuffix. bucket strips the leading
// path segment of path-style URLs and may be empty.
func NewRewriter(p KeyPresigner, hostSuffix, bucket string, log zerolog.Logger) *Rewriter {
	return &Rewriter{
		presigner:  p,
		hostSuffix: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hostSuffix), ".")),
		bucket:     bucket,
		log:        log,
	}
}

// Rewrite returns a fresh time-limited URL for a recognized result URL and the input
// unchanged otherwise.
func (rw *Rewriter) Rewrite(ctx context.Context, raw string) string {
	key, ok := rw.ExtractKey(raw)
	if !ok {
		return raw
	}
	signed, err := rw.presigner.PresignKey(ctx, key)
	if err != nil || signed == "" {
		rw.log.Warn().Err(err).Str("key", key).Msg("presign result url failed, keeping original")
		return raw
	}
	return signed
}

// ExtractKey pulls the object key out of a URL on the storage host.
func (rw *Rewriter) ExtractKey(raw string) (string, bool) {
	if rw.hostSuffix == "" {
		return "", false
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host != rw.hostSuffix && !strings.HasSuffix(host, "."+rw.hostSuffix) {
		return "", false
	}
	key := strings.TrimPrefix(u.Path, "/")
	if rw.bucket != "" && !strings.HasPrefix(host, strings.ToLower(rw.bucket)+".") {
		key = strings.TrimPrefix(key, rw.bucket+"/")
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", false
	}
	return clean, true
}
