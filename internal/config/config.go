package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.convo/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	BunchSize      int      `toml:"bunch_size"` // page size for initial load and each backward extension
	Metrics        Metrics  `toml:"metrics"`
	Presence       Presence `toml:"presence"`
}

// Metrics holds the fixed display-metric policies per media kind.
type Metrics struct {
	TextMaxWidth         float64 `toml:"text_max_width"`
	TextPadding          float64 `toml:"text_padding"` // vertical padding applied twice around text
	AvatarSize           float64 `toml:"avatar_size"`  // lower bound for a text cell's height
	ImagePreferredWidth  float64 `toml:"image_preferred_width"`
	ImagePreferredHeight float64 `toml:"image_preferred_height"`
	MediaMinWidth        float64 `toml:"media_min_width"`
	MediaMinHeight       float64 `toml:"media_min_height"`
	DefaultAspectRatio   float64 `toml:"default_aspect_ratio"` // fallback when dimensions are absent
	AudioHeight          float64 `toml:"audio_height"`
	LocationHeight       float64 `toml:"location_height"`
	SectionDateHeight    float64 `toml:"section_date_height"`
	CellSpacing          float64 `toml:"cell_spacing"`
}

// Presence holds the decaying-timeout delays for remote activity display,
// in seconds.
type Presence struct {
	TypingResetDelay    float64 `toml:"typing_reset_delay"`
	RecordingResetDelay float64 `toml:"recording_reset_delay"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		BunchSize: 50,
		Metrics: Metrics{
			TextMaxWidth:         240,
			TextPadding:          11,
			AvatarSize:           40,
			ImagePreferredWidth:  200,
			ImagePreferredHeight: 200,
			MediaMinWidth:        60,
			MediaMinHeight:       60,
			DefaultAspectRatio:   4.0 / 3.0,
			AudioHeight:          40,
			LocationHeight:       108,
			SectionDateHeight:    20,
			CellSpacing:          5,
		},
		Presence: Presence{
			TypingResetDelay:    0.5,
			RecordingResetDelay: 2.5,
		},
	}
}

func (c *Config) apply() {
	def := Default()
	if c.BunchSize <= 0 {
		c.BunchSize = def.BunchSize
	}
	if c.Metrics == (Metrics{}) {
		c.Metrics = def.Metrics
	}
	if c.Presence == (Presence{}) {
		c.Presence = def.Presence
	}
}

// Load reads config from the given path. Returns an error if the file is
// missing; unset fields fall back to defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.apply()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
