package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/petems/capture-probe/internal/capture"
	"github.com/petems/capture-probe/internal/media"
	"github.com/petems/capture-probe/internal/negotiate"
	strduration "github.com/xhit/go-str2duration/v2"
)

const appName = "capture-probe"

type Config struct {
	Video       VideoConfig   `json:"video"`
	Audio       AudioConfig   `json:"audio"`
	Report      ReportConfig  `json:"report"`
	Session     SessionConfig `json:"session"`
	LogLevel    string        `json:"log_level"`
	LogFile     string        `json:"log_file"` // empty means the platform log directory
	MaxLogFiles int           `json:"max_log_files"`
}

type VideoConfig struct {
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	PixelFormat media.FourCC `json:"pixel_format"`
	FrameRate   float64      `json:"frame_rate"`
	Policy      string       `json:"policy"` // "first" or "closest"
}

type AudioConfig struct {
	SampleRate     int  `json:"sample_rate"`
	BitDepth       int  `json:"bit_depth"`
	Channels       int  `json:"channels"`
	Float          bool `json:"float"`
	NonInterleaved bool `json:"non_interleaved"`
}

type ReportConfig struct {
	Interval         int `json:"interval"`
	CombinedInterval int `json:"combined_interval"`
}

type SessionConfig struct {
	StartTimeout Duration `json:"start_timeout"`
	StopMode     string   `json:"stop_mode"` // "teardown" or "legacy"
}

// Duration accepts strings such as "10s" or "1m30s" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(strduration.String(time.Duration(d)))
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := strduration.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Video: VideoConfig{
			Width:       1280,
			Height:      720,
			PixelFormat: media.PixelFormat420v,
			FrameRate:   30,
			Policy:      "first",
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			BitDepth:   16,
			Channels:   2,
		},
		Report: ReportConfig{
			Interval:         100,
			CombinedInterval: 500,
		},
		Session: SessionConfig{
			StartTimeout: Duration(10 * time.Second),
			StopMode:     "teardown",
		},
		LogLevel:    "info",
		MaxLogFiles: 3,
	}
}

// Load reads the config from the platform config directory or returns
// defaults when it does not exist.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config at path over the defaults. A missing file yields
// the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to the platform config directory.
func (c *Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config to path.
func (c *Config) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks values the capture session cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		errs = append(errs, fmt.Errorf("video size %dx%d must be positive", c.Video.Width, c.Video.Height))
	}
	if c.Video.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("video frame rate %v must be positive", c.Video.FrameRate))
	}
	if _, err := negotiate.ParsePolicy(c.Video.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 || c.Audio.BitDepth <= 0 {
		errs = append(errs, errors.New("audio sample rate, channels and bit depth must be positive"))
	}
	// Reports fire at count mod interval == 10.
	if c.Report.Interval <= 10 || c.Report.CombinedInterval <= 10 {
		errs = append(errs, fmt.Errorf("report intervals must exceed 10, got %d and %d",
			c.Report.Interval, c.Report.CombinedInterval))
	}
	if c.Session.StartTimeout < 0 {
		errs = append(errs, errors.New("start timeout must not be negative"))
	}
	if _, err := capture.ParseStopMode(c.Session.StopMode); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// VideoTarget returns the configured video target.
func (c *Config) VideoTarget() media.VideoTarget {
	return media.VideoTarget{
		Width:     c.Video.Width,
		Height:    c.Video.Height,
		Encoding:  c.Video.PixelFormat,
		FrameRate: c.Video.FrameRate,
	}
}

// AudioTarget returns the configured audio target.
func (c *Config) AudioTarget() media.AudioTarget {
	return media.AudioTarget{
		SampleRate:     c.Audio.SampleRate,
		BitDepth:       c.Audio.BitDepth,
		Channels:       c.Audio.Channels,
		Float:          c.Audio.Float,
		NonInterleaved: c.Audio.NonInterleaved,
	}
}

// SessionOptions converts the config into capture session options. The
// config must be valid.
func (c *Config) SessionOptions() capture.Options {
	policy, _ := negotiate.ParsePolicy(c.Video.Policy)
	stopMode, _ := capture.ParseStopMode(c.Session.StopMode)
	return capture.Options{
		Video:                  c.VideoTarget(),
		Audio:                  c.AudioTarget(),
		Policy:                 policy,
		ReportInterval:         c.Report.Interval,
		CombinedReportInterval: c.Report.CombinedInterval,
		StartTimeout:           time.Duration(c.Session.StartTimeout),
		StopMode:               stopMode,
	}
}

// Path returns the platform-specific config file path
func Path() (string, error) {
	base, err := baseDir("XDG_CONFIG_HOME", "APPDATA", "Library/Application Support", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName, "config.json"), nil
}

// LogPath returns the platform-specific log file path
func LogPath() (string, error) {
	base, err := baseDir("XDG_STATE_HOME", "LOCALAPPDATA", "Library/Logs", ".local/state")
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appName, appName+".log"), nil
}

func baseDir(xdgEnv, windowsEnv, darwinDir, linuxDir string) (string, error) {
	switch runtime.GOOS {
	case "windows":
		if v := os.Getenv(windowsEnv); v != "" {
			return v, nil
		}
	case "darwin":
	default:
		if v := os.Getenv(xdgEnv); v != "" {
			return v, nil
		}
	}

	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, darwinDir), nil
	}
	return filepath.Join(home, linuxDir), nil
}
