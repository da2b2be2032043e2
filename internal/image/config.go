package image

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

type (
	// FitMode controls how a source image is mapped in to a presets bounds.
	// FitInside scales to fit within the bounds (never upscaling);
	// FitCover fills the bounds exactly, cropping overflow.
	FitMode string

	// Preset is a named target configuration for variant generation.
	// Presets are strongly typed and validated once at startup; a bad
	// preset is a boot failure, not a per-upload surprise.
	Preset struct {
		Name    string  `yaml:"name" validate:"required"`
		Width   int     `yaml:"width" validate:"required,gt=0"`
		Height  int     `yaml:"height" validate:"required,gt=0"`
		Quality int     `yaml:"quality" validate:"gte=1,lte=100"`
		Fit     FitMode `yaml:"fit" validate:"oneof=inside cover"`
	}

	Config struct {
		Presets []Preset `yaml:"presets" validate:"required,min=1,dive"`

		// Formats every preset is rendered in; defaults to one modern
		// efficient encoding, one legacy-compressed encoding and one
		// universal fallback.
		Formats []string `yaml:"formats" validate:"required,min=1,dive,oneof=webp jpeg png"`

		// PlaceholderWidth bounds the tiny inline-embeddable placeholder.
		PlaceholderWidth int `yaml:"placeholder_width" env-default:"24" validate:"gt=0,lte=64"`

		// PaletteGridSize is the edge length of the downsampling grid used
		// for dominant colour extraction.
		PaletteGridSize int `yaml:"palette_grid_size" env-default:"64" validate:"gt=0,lte=256"`

		// EncodeParallelism bounds how many CPU-heavy encodes may run at
		// once across ALL concurrent uploads.
		EncodeParallelism int `yaml:"encode_parallelism" env-default:"4" validate:"gt=0"`
	}
)

const (
	FitInside FitMode = "inside"
	FitCover  FitMode = "cover"
)

// DefaultPresets is the delivery ladder rendered for every image upload
// unless overridden by configuration.
func DefaultPresets() []Preset {
	return []Preset{
		{Name: "thumbnail", Width: 150, Height: 150, Quality: 70, Fit: FitCover},
		{Name: "small", Width: 320, Height: 320, Quality: 75, Fit: FitInside},
		{Name: "medium", Width: 640, Height: 640, Quality: 80, Fit: FitInside},
		{Name: "large", Width: 1024, Height: 1024, Quality: 80, Fit: FitInside},
		{Name: "xlarge", Width: 1920, Height: 1920, Quality: 85, Fit: FitInside},
		{Name: "hero", Width: 2560, Height: 1440, Quality: 85, Fit: FitInside},
		{Name: "social-card", Width: 1200, Height: 630, Quality: 80, Fit: FitCover},
	}
}

func DefaultFormats() []string { return []string{"webp", "jpeg", "png"} }

// ApplyDefaults fills any unset sections of the config with the standard
// ladder, and validates the result. Returned errors describe the first
// offending preset field.
func (config *Config) ApplyDefaults() error {
	if len(config.Presets) == 0 {
		config.Presets = DefaultPresets()
	}
	if len(config.Formats) == 0 {
		config.Formats = DefaultFormats()
	}
	for i := range config.Presets {
		if config.Presets[i].Fit == "" {
			config.Presets[i].Fit = FitInside
		}
		if config.Presets[i].Quality == 0 {
			config.Presets[i].Quality = 80
		}
	}
	if config.PlaceholderWidth == 0 {
		config.PlaceholderWidth = 24
	}
	if config.PaletteGridSize == 0 {
		config.PaletteGridSize = 64
	}
	if config.EncodeParallelism == 0 {
		config.EncodeParallelism = 4
	}

	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("image pipeline configuration is invalid: %w", err)
	}

	return nil
}
