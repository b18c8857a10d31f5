// Package config loads the optional browserd.yaml file that seeds a
// daemon's viewport and headless defaults, grounded on
// theRebelliousNerd-codenerd's internal/config: a DefaultConfig()
// constructor, yaml.Unmarshal over a struct with `yaml` tags, and a
// missing-file-is-not-an-error Load.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/browserd/browserd/internal/lifecycle"
)

// Config is the subset of daemon startup configuration spec.md's Daemon
// Entry Flow step 4 names: viewport and headless.
type Config struct {
	Viewport Viewport `yaml:"viewport"`
	Headless bool     `yaml:"headless"`
}

// Viewport is the browser window size applied at launch.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Default matches lifecycle.DefaultConfig(): 2560x1440, headless off.
func Default() Config {
	d := lifecycle.DefaultConfig()
	return Config{
		Viewport: Viewport{Width: d.ViewportWidth, Height: d.ViewportHeight},
		Headless: d.Headless,
	}
}

// Load reads path and overlays it onto Default(). A missing file is not an
// error — the daemon runs with defaults. A present-but-unparseable file is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// ToLifecycleConfig converts to the shape lifecycle.New expects.
func (c Config) ToLifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		ViewportWidth:  c.Viewport.Width,
		ViewportHeight: c.Viewport.Height,
		Headless:       c.Headless,
	}
}
