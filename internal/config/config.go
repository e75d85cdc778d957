package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"epdslide/internal/epd"
	"epdslide/internal/frame"
	appLog "epdslide/internal/log"
)

// PinsConfig binds panel signals to BCM GPIO numbers. A zero (or
// missing) entry takes the default pin, so BCM 0 cannot be assigned.
type PinsConfig struct {
	Clock      int `yaml:"clock" json:"clock"`
	Data       int `yaml:"data" json:"data"`
	ChipSelect int `yaml:"chip_select" json:"chip_select"`
	Reset      int `yaml:"reset" json:"reset"`
	DC         int `yaml:"dc" json:"dc"`
	Busy       int `yaml:"busy" json:"busy"`
}

// TimingConfig holds panel delays as Go duration strings ("200ms").
type TimingConfig struct {
	ResetHigh     time.Duration `yaml:"reset_high" json:"reset_high"`
	ResetLow      time.Duration `yaml:"reset_low" json:"reset_low"`
	ResetRelease  time.Duration `yaml:"reset_release" json:"reset_release"`
	BusyPoll      time.Duration `yaml:"busy_poll" json:"busy_poll"`
	PowerOnSettle time.Duration `yaml:"power_on_settle" json:"power_on_settle"`
	RefreshSettle time.Duration `yaml:"refresh_settle" json:"refresh_settle"`

	// BusyTimeout bounds each busy wait. A negative value disables the
	// bound (wait forever); zero means the default.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// SlideshowConfig describes the frame rotation.
type SlideshowConfig struct {
	// Dir holds .bin/.png/.jpg/.jpeg frames, shown in name order.
	Dir string `yaml:"dir" json:"dir"`

	// Cron is a standard five-field schedule (e.g. "*/30 * * * *") or a
	// descriptor such as "@hourly".
	Cron string `yaml:"cron" json:"cron"`

	// Dither applies Floyd-Steinberg dithering to image frames (default
	// true). Without it gray levels are thresholded.
	Dither *bool `yaml:"dither,omitempty" json:"dither,omitempty"`

	// Trim crops image frames to their object bounds before fitting.
	Trim bool `yaml:"trim" json:"trim"`

	// Invert flips every byte before streaming. The 7.5" V2 controller
	// treats a set bit as black, while frame files use 1 = white.
	Invert *bool `yaml:"invert,omitempty" json:"invert,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the status API; "off" disables it.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Pins      PinsConfig      `yaml:"pins" json:"pins"`
	Timing    TimingConfig    `yaml:"timing" json:"timing"`
	Slideshow SlideshowConfig `yaml:"slideshow" json:"slideshow"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen = "127.0.0.1:8080"
	defaultCron   = "*/30 * * * *"
	defaultDir    = "/var/lib/epdslide/frames"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	pins := epd.DefaultPins()
	// Zero is a valid BCM number but never a sensible panel pin, so it
	// marks an unset field.
	setPin := func(dst *int, def epd.Pin) {
		if *dst == 0 {
			*dst = int(def)
		}
	}
	setPin(&c.Pins.Clock, pins.Clock)
	setPin(&c.Pins.Data, pins.Data)
	setPin(&c.Pins.ChipSelect, pins.ChipSelect)
	setPin(&c.Pins.Reset, pins.Reset)
	setPin(&c.Pins.DC, pins.DC)
	setPin(&c.Pins.Busy, pins.Busy)

	timing := epd.DefaultTiming()
	setDur := func(dst *time.Duration, def time.Duration) {
		if *dst == 0 {
			*dst = def
		}
	}
	setDur(&c.Timing.ResetHigh, timing.ResetHigh)
	setDur(&c.Timing.ResetLow, timing.ResetLow)
	setDur(&c.Timing.ResetRelease, timing.ResetRelease)
	setDur(&c.Timing.BusyPoll, timing.BusyPoll)
	setDur(&c.Timing.PowerOnSettle, timing.PowerOnSettle)
	setDur(&c.Timing.RefreshSettle, timing.RefreshSettle)
	setDur(&c.Timing.BusyTimeout, timing.BusyTimeout)

	if c.Slideshow.Dir == "" {
		c.Slideshow.Dir = defaultDir
	}
	if c.Slideshow.Cron == "" {
		c.Slideshow.Cron = defaultCron
	}
	if c.Slideshow.Invert == nil {
		invert := true
		c.Slideshow.Invert = &invert
	}
	if c.Slideshow.Dither == nil {
		dither := true
		c.Slideshow.Dither = &dither
	}
}

// Invert reports whether frames are inverted before streaming.
func (c *Config) Invert() bool {
	return c.Slideshow.Invert == nil || *c.Slideshow.Invert
}

// Frame returns the image pipeline options for frame.Load.
func (c *Config) Frame() frame.Options {
	return frame.Options{
		Trim:   c.Slideshow.Trim,
		Dither: c.Slideshow.Dither == nil || *c.Slideshow.Dither,
	}
}

// Panel converts the pin and timing sections for epd.New.
func (c *Config) Panel() epd.Config {
	busyTimeout := c.Timing.BusyTimeout
	if busyTimeout < 0 {
		busyTimeout = 0
	}
	return epd.Config{
		Pins: epd.Pins{
			Clock:      epd.Pin(c.Pins.Clock),
			Data:       epd.Pin(c.Pins.Data),
			ChipSelect: epd.Pin(c.Pins.ChipSelect),
			Reset:      epd.Pin(c.Pins.Reset),
			DC:         epd.Pin(c.Pins.DC),
			Busy:       epd.Pin(c.Pins.Busy),
		},
		Timing: epd.Timing{
			ResetHigh:     c.Timing.ResetHigh,
			ResetLow:      c.Timing.ResetLow,
			ResetRelease:  c.Timing.ResetRelease,
			BusyPoll:      c.Timing.BusyPoll,
			BusyTimeout:   busyTimeout,
			PowerOnSettle: c.Timing.PowerOnSettle,
			RefreshSettle: c.Timing.RefreshSettle,
		},
	}
}

// Validate checks the parts Normalize cannot fix.
func (c *Config) Validate() error {
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Panel().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cron.ParseStandard(c.Slideshow.Cron); err != nil {
		return fmt.Errorf("config: slideshow.cron %q: %w", c.Slideshow.Cron, err)
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epdslide-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
