package ingest

import "strings"

// Config controls where uploads land on disk and which payloads are
// accepted in the first place.
type Config struct {
	StorageRootPath   string   `yaml:"storage_root" env:"STORAGE_ROOT_PATH" env-required:"true"`
	MaxFileSizeBytes  int64    `yaml:"max_file_size_bytes" env:"MAX_FILE_SIZE_BYTES" env-default:"524288000"`
	AllowedMimeTypes  []string `yaml:"allowed_mime_types" env:"ALLOWED_MIME_TYPES"`
	TempDirectoryName string   `yaml:"temp_directory" env:"TEMP_DIRECTORY" env-default:"temp"`
}

// DefaultAllowedMimeTypes is the accept list applied when the config
// names none. Entries ending in "/" act as prefix matches.
func DefaultAllowedMimeTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/webp",
		"image/gif",
		"video/mp4",
		"video/webm",
		"video/quicktime",
		"audio/mpeg",
		"audio/ogg",
		"audio/wav",
		"application/pdf",
	}
}

// MimeTypeAllowed reports whether the given MIME type passes the accept
// list. A list entry with a trailing slash matches the whole top-level
// type, e.g. "image/" admits any image subtype.
func (config *Config) MimeTypeAllowed(mimeType string) bool {
	allowed := config.AllowedMimeTypes
	if len(allowed) == 0 {
		allowed = DefaultAllowedMimeTypes()
	}

	for _, entry := range allowed {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(mimeType, entry) {
				return true
			}
		} else if mimeType == entry {
			return true
		}
	}

	return false
}
