// Package config handles runeheart.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/BurntSushi/toml"
	"github.com/chazu/runeheart/capability"
	"github.com/chazu/runeheart/engine"
)

// FileName is the configuration file looked for by Load and FindAndLoad.
const FileName = "runeheart.toml"

// Config represents a runeheart.toml file.
type Config struct {
	Engine Engine       `toml:"engine" json:"engine"`
	Script Script       `toml:"script" json:"script"`
	World  WorldRef     `toml:"world" json:"world"`
	Log    Log          `toml:"log" json:"log"`
	Server ServerConfig `toml:"server" json:"server"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Engine configures every execution context.
type Engine struct {
	Entry    string   `toml:"entry" json:"entry"`
	NoScript string   `toml:"no_script" json:"no_script"`
	Libs     []string `toml:"libs" json:"libs"`
}

// Script locates the script to run.
type Script struct {
	Path  string `toml:"path" json:"path"`
	Watch bool   `toml:"watch" json:"watch"`
}

// WorldRef locates the simulated world definition.
type WorldRef struct {
	Path string `toml:"path" json:"path"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// ServerConfig configures the script server.
type ServerConfig struct {
	Addr string `toml:"addr" json:"addr"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{Log: Log{Verbosity: 1}}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Engine.Entry == "" {
		c.Engine.Entry = engine.DefaultEntryPoint
	}
	if c.Engine.NoScript == "" {
		c.Engine.NoScript = engine.NoScriptIdle.String()
	}
	if c.Engine.Libs == nil {
		c.Engine.Libs = slices.Clone(capability.DefaultLibraries)
	}
	if c.Script.Path == "" {
		c.Script.Path = "main.lua"
	}
	if c.World.Path == "" {
		c.World.Path = "world.toml"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":4567"
	}
}

// Load parses runeheart.toml from dir, applies defaults and validates the
// result.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	// Verbosity defaults to 1 only when the key is absent.
	c := Config{Log: Log{Verbosity: 1}}
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	c.applyDefaults()
	if err := validate(path, "#Config", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// FindAndLoad walks up from startDir to find a runeheart.toml file, then
// loads it. It returns nil, nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Resolve returns p relative to the config directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// ScriptPath returns the absolute script path.
func (c *Config) ScriptPath() string { return c.Resolve(c.Script.Path) }

// WorldPath returns the absolute world definition path.
func (c *Config) WorldPath() string { return c.Resolve(c.World.Path) }

// Options maps the engine section onto engine options.
func (e Engine) Options() []engine.Option {
	opts := []engine.Option{
		engine.WithEntryPoint(e.Entry),
		engine.WithLibraries(e.Libs...),
	}
	if e.NoScript == engine.NoScriptError.String() {
		opts = append(opts, engine.WithNoScriptPolicy(engine.NoScriptError))
	}
	return opts
}
