package api

import (
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"content-protection/internal/storage"
)

// handleMedia serves local uploads behind an expiring HMAC signature.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if s.deps.Media == nil || s.deps.Signer == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/media/")
	q := r.URL.Query()
	if err := s.deps.Signer.Verify(key, q.Get("expires"), q.Get("sig")); err != nil {
		msg := "invalid signature"
		if errors.Is(err, storage.ErrSignatureExpired) {
			msg = "link expired"
		}
		writeError(w, http.StatusForbidden, msg)
		return
	}
	f, err := s.deps.Media.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		s.log.Error().Err(err).Str("key", key).Msg("open media failed")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}
