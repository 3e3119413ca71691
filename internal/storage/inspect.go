package storage

import (
	"fmt"
	"io"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	"content-protection/internal/models"
)

// allowed maps accepted MIME types to the extension used for storage keys.
var allowed = map[models.MediaType]map[string]string{
	models.MediaImage: {
		"image/jpeg": ".jpg",
		"image/png":  ".png",
		"image/webp": ".webp",
		"image/gif":  ".gif",
		"image/heic": ".heic",
		"image/heif": ".heif",
	},
	models.MediaVideo: {
		"video/mp4":       ".mp4",
		"video/quicktime": ".mov",
		"video/x-msvideo": ".avi",
	},
}

// decodable images must decode before they are accepted. HEIC has no Go decoder.
var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Inspect sniffs body and returns its MIME type and storage extension. body is rewound.
func Inspect(media models.MediaType, body io.ReadSeeker) (string, string, error) {
	accepted, ok := allowed[media]
	if !ok {
		return "", "", models.Invalid("media", "unsupported media type %q", media)
	}
	detected, err := mimetype.DetectReader(body)
	if err != nil {
		return "", "", fmt.Errorf("sniff content: %w", err)
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("rewind upload: %w", err)
	}

	mime, ext := match(detected, accepted)
	if mime == "" {
		return "", "", models.Invalid("file", "unsupported %s format %s", media, detected.String())
	}
	if decodable[mime] {
		if _, err := imaging.Decode(body); err != nil {
			return "", "", models.Invalid("file", "image could not be decoded")
		}
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return "", "", fmt.Errorf("rewind upload: %w", err)
		}
	}
	return mime, ext, nil
}

func match(detected *mimetype.MIME, accepted map[string]string) (string, string) {
	keys := make([]string, 0, len(accepted))
	for k := range accepted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for m := detected; m != nil; m = m.Parent() {
		for _, k := range keys {
			if m.Is(k) {
				return k, accepted[k]
			}
		}
	}
	return "", ""
}
