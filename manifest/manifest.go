// Package manifest handles ebc.toml project configuration.
package manifest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/ebc/pkg/bytecode"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "ebc.toml"

// Manifest represents an ebc.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project" json:"project"`
	VM      VMConfig     `toml:"vm" json:"vm"`
	Cache   CacheConfig  `toml:"cache" json:"cache"`
	Server  ServerConfig `toml:"server" json:"server"`
	Log     LogConfig    `toml:"log" json:"log"`

	// Dir is the directory containing the ebc.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Project contains project metadata.
type Project struct {
	Name  string `toml:"name" json:"name"`
	Entry string `toml:"entry" json:"entry"`
}

// VMConfig sets execution limits.
type VMConfig struct {
	MaxFrames     int   `toml:"max_frames" json:"max_frames"`
	MaxSteps      int64 `toml:"max_steps" json:"max_steps"`
	CheckInterval int   `toml:"check_interval" json:"check_interval"`
	Trace         bool  `toml:"trace" json:"trace"`
}

// CacheConfig configures the compile cache.
type CacheConfig struct {
	Path    string `toml:"path" json:"path"`
	Enabled bool   `toml:"enabled" json:"enabled"`
}

// ServerConfig configures the RPC listeners.
type ServerConfig struct {
	Addr     string `toml:"addr" json:"addr"`
	GRPCAddr string `toml:"grpc_addr" json:"grpc_addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int `toml:"verbosity" json:"verbosity"`
}

// Default returns the configuration used when no manifest exists.
func Default() *Manifest {
	return &Manifest{
		Project: Project{Entry: "main.eb"},
		VM: VMConfig{
			MaxFrames:     bytecode.DefaultMaxFrames,
			CheckInterval: bytecode.DefaultCheckInterval,
		},
		Cache:  CacheConfig{Enabled: true},
		Server: ServerConfig{Addr: "localhost:8420"},
	}
}

// Load parses an ebc.toml file from the given directory. Keys missing from
// the file keep their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an ebc.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the entry source file.
func (m *Manifest) EntryPath() string {
	if m.Project.Entry == "" || filepath.IsAbs(m.Project.Entry) {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}

// CachePath returns the cache database path, resolved against Dir when
// relative. An empty result means the cache's default location.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == "" || filepath.IsAbs(m.Cache.Path) || m.Cache.Path == ":memory:" {
		return m.Cache.Path
	}
	return filepath.Join(m.Dir, m.Cache.Path)
}

// VMOptions converts the [vm] section to VM options.
func (m *Manifest) VMOptions() bytecode.Options {
	return bytecode.Options{
		MaxFrames:     m.VM.MaxFrames,
		MaxSteps:      m.VM.MaxSteps,
		CheckInterval: m.VM.CheckInterval,
		Trace:         m.VM.Trace,
	}
}
