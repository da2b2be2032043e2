package media

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// ProcessingState tracks where an asset is in its pipeline run. Assets
	// are only persisted once processing concludes, but the state is stored
	// so maintenance sweeps can distinguish settled rows from transient ones.
	ProcessingState string

	// Category is the coarse grouping of an asset based on its mime type;
	// it decides which transformation pipeline (if any) an upload runs through.
	Category string

	// VariantDescriptor describes one derived rendition of an asset: a
	// resized/re-encoded image for a given preset, or a transcoded video tier.
	// Descriptors are immutable once written and are removed only alongside
	// the owning asset.
	VariantDescriptor struct {
		Preset string `json:"preset"`
		Format string `json:"format"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
		URL    string `json:"url"`
	}

	// Metadata is the opaque structured blob populated by the pipelines;
	// which fields are set depends on the asset category.
	Metadata struct {
		Placeholder string   `json:"placeholder,omitempty"`
		Palette     []string `json:"palette,omitempty"`
		Codec       string   `json:"codec,omitempty"`
		FrameRate   float64  `json:"frame_rate,omitempty"`
		PosterURL   string   `json:"poster_url,omitempty"`
	}

	modelBase struct {
		ID             uuid.UUID       `db:"id"`
		ContentHash    string          `db:"content_hash"`
		OriginalName   string          `db:"original_name"`
		FileName       string          `db:"file_name"`
		SourcePath     string          `db:"source_path"`
		MimeType       string          `db:"mime_type"`
		FileSize       int64           `db:"file_size"`
		Width          *int            `db:"width"`
		Height         *int            `db:"height"`
		Duration       *float64        `db:"duration"`
		Format         *string         `db:"format"`
		AltText        string          `db:"alt_text"`
		Caption        string          `db:"caption"`
		UsageCount     int64           `db:"usage_count"`
		LastAccessedAt *time.Time      `db:"last_accessed"`
		CDNUrl         *string         `db:"cdn_url"`
		State          ProcessingState `db:"processing_status"`
		UploadedAt     time.Time       `db:"uploaded_at"`
		UpdatedAt      time.Time       `db:"updated_at"`
	}

	// Media is the public representation of a persisted media asset. The
	// paths held by SourcePath and the variant URLs are relative to the
	// storage root, which keeps rows valid if the root is relocated.
	Media struct {
		modelBase
		Variants []VariantDescriptor
		Metadata *Metadata
		Tags     []string
	}
)

const (
	PENDING    ProcessingState = "pending"
	PROCESSING ProcessingState = "processing"
	COMPLETE   ProcessingState = "complete"
	FAILED     ProcessingState = "failed"

	IMAGE    Category = "image"
	VIDEO    Category = "video"
	AUDIO    Category = "audio"
	DOCUMENT Category = "document"
)

// CategoryOf derives the coarse media category from a mime type. Anything
// that is not an image, video or audio type is treated as a document.
func CategoryOf(mimeType string) Category {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return IMAGE
	case strings.HasPrefix(mimeType, "video/"):
		return VIDEO
	case strings.HasPrefix(mimeType, "audio/"):
		return AUDIO
	default:
		return DOCUMENT
	}
}

func (m *Media) Category() Category { return CategoryOf(m.MimeType) }

// FilePaths returns every storage-root-relative path owned by this asset:
// the stored original, all variant files and the poster frame (if any).
// The janitor relies on this to know which files are accounted for.
func (m *Media) FilePaths() []string {
	paths := make([]string, 0, len(m.Variants)+2)
	paths = append(paths, m.SourcePath)
	for _, v := range m.Variants {
		paths = append(paths, v.URL)
	}
	if m.Metadata != nil && m.Metadata.PosterURL != "" {
		paths = append(paths, m.Metadata.PosterURL)
	}

	return paths
}
