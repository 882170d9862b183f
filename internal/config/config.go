package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config holds the recorder settings. One Config is loaded at startup and
// treated as read-only for the lifetime of a capture session.
type Config struct {
	StorageDir      string `mapstructure:"storage_dir"`
	ControlAddr     string `mapstructure:"control_addr"`
	LogFormat       string `mapstructure:"log_format"`
	LogLevel        string `mapstructure:"log_level"`
	VideoBitrate    int    `mapstructure:"video_bitrate"`
	ChunkIntervalMs int    `mapstructure:"chunk_interval_ms"`
	FrameRate       int    `mapstructure:"frame_rate"`
	RefreshRate     int    `mapstructure:"refresh_rate"`
	FallbackWidth   int    `mapstructure:"fallback_width"`
	FallbackHeight  int    `mapstructure:"fallback_height"`
	OverlayPosition string `mapstructure:"overlay_position"`
	OverlayRatio    float64 `mapstructure:"overlay_ratio"`
	MinFreeBytes    uint64 `mapstructure:"min_free_bytes"`

	MimePreferences []string `mapstructure:"mime_preferences"`
}

func Default() *Config {
	return &Config{
		StorageDir:      filepath.Join(dataDir(), "recordings"),
		ControlAddr:     "127.0.0.1:7360",
		LogFormat:       "text",
		LogLevel:        "info",
		VideoBitrate:    3_000_000,
		ChunkIntervalMs: 1000,
		FrameRate:       30,
		RefreshRate:     60,
		FallbackWidth:   1920,
		FallbackHeight:  1080,
		OverlayPosition: "bottom-right",
		OverlayRatio:    0.2,
		MinFreeBytes:    256 * 1024 * 1024,
		MimePreferences: []string{
			`video/mp4; codecs="avc1.42E01E"`,
			"video/mp4",
			"video/avi",
		},
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("reelcast")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("REELCAST")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("storage_dir", cfg.StorageDir)
	viper.Set("control_addr", cfg.ControlAddr)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("video_bitrate", cfg.VideoBitrate)
	viper.Set("chunk_interval_ms", cfg.ChunkIntervalMs)
	viper.Set("frame_rate", cfg.FrameRate)
	viper.Set("refresh_rate", cfg.RefreshRate)
	viper.Set("fallback_width", cfg.FallbackWidth)
	viper.Set("fallback_height", cfg.FallbackHeight)
	viper.Set("overlay_position", cfg.OverlayPosition)
	viper.Set("overlay_ratio", cfg.OverlayRatio)
	viper.Set("min_free_bytes", cfg.MinFreeBytes)
	viper.Set("mime_preferences", cfg.MimePreferences)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "reelcast.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	return viper.WriteConfigAs(cfgPath)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "Reelcast")
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "Reelcast")
	default:
		return filepath.Join(homeDir(), ".config", "reelcast")
	}
}

func dataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("AppData"), "Reelcast")
	case "darwin":
		return filepath.Join(homeDir(), "Movies", "Reelcast")
	default:
		return filepath.Join(homeDir(), "Videos", "reelcast")
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
