package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// PresetOption represents a predefined compression profile
type PresetOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Quality     int    `json:"quality"`
	MaxWidth    int    `json:"max_width"`
	MaxHeight   int    `json:"max_height"`
	Description string `json:"description"`
}

// Config represents the main configuration structure
type Config struct {
	Quality          int           `mapstructure:"quality"`
	MaxWidth         int           `mapstructure:"max_width"`
	MaxHeight        int           `mapstructure:"max_height"`
	Folders          []string      `mapstructure:"folders"`
	BaseDirectory    string        `mapstructure:"base_directory"`
	Recursive        bool          `mapstructure:"recursive"`
	Extensions       []string      `mapstructure:"extensions"`
	Preset           string        `mapstructure:"preset"`
	Backup           bool          `mapstructure:"backup"`
	SkipIfLarger     bool          `mapstructure:"skip_if_larger"`
	ProgressInterval int           `mapstructure:"progress_interval"`
	Logging          LoggingConfig `mapstructure:"logging"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text or json
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// Overrides carries caller-supplied values. Nil fields leave the configuration untouched.
type Overrides struct {
	Quality       *int
	MaxWidth      *int
	MaxHeight     *int
	Folders       []string
	BaseDirectory *string
	Preset        *string
	Recursive     *bool
	Backup        *bool
	SkipIfLarger  *bool
}

// GetAvailablePresets returns all available compression presets
func GetAvailablePresets() []PresetOption {
	return []PresetOption{
		{
			ID:          "standard",
			Name:        "Standard",
			Quality:     65,
			MaxWidth:    600,
			MaxHeight:   600,
			Description: "Web-sized images with acceptable quality loss",
		},
		{
			ID:          "ultra",
			Name:        "Ultra",
			Quality:     40,
			MaxWidth:    400,
			MaxHeight:   400,
			Description: "Aggressive compression, visible artifacts, large savings",
		},
		{
			ID:          "extreme",
			Name:        "Extreme",
			Quality:     30,
			MaxWidth:    300,
			MaxHeight:   300,
			Description: "Maximum savings, severe quality loss",
		},
	}
}

// FindPreset looks up a preset by ID, case-insensitively.
func FindPreset(id string) (PresetOption, bool) {
	for _, p := range GetAvailablePresets() {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return PresetOption{}, false
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Quality:          65,
		MaxWidth:         600,
		MaxHeight:        600,
		Folders:          []string{"muffin", "chihuahua"},
		BaseDirectory:    ".",
		Recursive:        false,
		Extensions:       []string{".jpg", ".jpeg"},
		Backup:           false,
		SkipIfLarger:     false,
		ProgressInterval: 100,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables.
// The result is not validated; callers apply overrides first and then call Validate.
func LoadConfig(configPath string) (*Config, error) {
	return loadWith(viper.New(), configPath)
}

func loadWith(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.jpeg-compressor")
		v.AddConfigPath("/etc/jpeg-compressor")
	}

	v.SetEnvPrefix("JPEG_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about
	for _, key := range []string{
		"quality", "max_width", "max_height", "folders", "base_directory", "recursive",
		"extensions", "preset", "backup", "skip_if_larger", "progress_interval",
		"logging.level", "logging.format", "logging.file_path",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Unmarshal merges slices element-wise into the defaults, so lists are replaced wholesale.
	// A comma separated env value arrives as a single element.
	if v.IsSet("folders") {
		config.Folders = stringList(v, "folders")
	}
	if v.IsSet("extensions") {
		config.Extensions = stringList(v, "extensions")
	}

	return config, nil
}

// ApplyOverrides applies the configured preset and then the explicit overrides.
// A preset named in the overrides replaces one set in the file.
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.Preset != nil {
		c.Preset = *o.Preset
	}
	if c.Preset != "" {
		preset, ok := FindPreset(c.Preset)
		if !ok {
			return fmt.Errorf("%w: unknown preset %q", ErrInvalidConfig, c.Preset)
		}
		c.Quality = preset.Quality
		c.MaxWidth = preset.MaxWidth
		c.MaxHeight = preset.MaxHeight
	}

	if o.Quality != nil {
		c.Quality = *o.Quality
	}
	if o.MaxWidth != nil {
		c.MaxWidth = *o.MaxWidth
	}
	if o.MaxHeight != nil {
		c.MaxHeight = *o.MaxHeight
	}
	if o.Folders != nil {
		c.Folders = append([]string(nil), o.Folders...)
	}
	if o.BaseDirectory != nil {
		c.BaseDirectory = *o.BaseDirectory
	}
	if o.Recursive != nil {
		c.Recursive = *o.Recursive
	}
	if o.Backup != nil {
		c.Backup = *o.Backup
	}
	if o.SkipIfLarger != nil {
		c.SkipIfLarger = *o.SkipIfLarger
	}
	return nil
}

// Resolve builds a validated configuration from defaults plus overrides.
func Resolve(o Overrides) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyOverrides(o); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Quality < 1 || c.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 1 and 100, got %d", ErrInvalidConfig, c.Quality)
	}
	if c.MaxWidth <= 0 {
		return fmt.Errorf("%w: max_width must be positive, got %d", ErrInvalidConfig, c.MaxWidth)
	}
	if c.MaxHeight <= 0 {
		return fmt.Errorf("%w: max_height must be positive, got %d", ErrInvalidConfig, c.MaxHeight)
	}

	if len(c.Folders) == 0 {
		return fmt.Errorf("%w: at least one folder is required", ErrInvalidConfig)
	}
	for _, f := range c.Folders {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%w: folder names must not be blank", ErrInvalidConfig)
		}
	}

	if c.BaseDirectory == "" {
		c.BaseDirectory = "."
	}

	if len(c.Extensions) == 0 {
		c.Extensions = []string{".jpg", ".jpeg"}
	}
	c.Extensions = normalizeExtensions(c.Extensions)

	if c.ProgressInterval < 0 {
		return fmt.Errorf("%w: progress_interval must not be negative, got %d", ErrInvalidConfig, c.ProgressInterval)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("%w: invalid log level: %s (valid: debug, info, warn, error)", ErrInvalidConfig, c.Logging.Level)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: invalid log format: %s (valid: text, json)", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// IsSupportedExtension checks if the extension belongs to a file the tool rewrites
func (c *Config) IsSupportedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, supportedExt := range c.Extensions {
		if ext == supportedExt {
			return true
		}
	}
	return false
}

// Helper functions

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized[i] = ext
	}
	return normalized
}

func stringList(v *viper.Viper, key string) []string {
	if s, ok := v.Get(key).(string); ok {
		return splitList([]string{s})
	}
	return v.GetStringSlice(key)
}

func splitList(values []string) []string {
	if len(values) != 1 || !strings.Contains(values[0], ",") {
		return values
	}
	parts := strings.Split(values[0], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
