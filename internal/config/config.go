// Package config loads trellis settings from defaults, an optional
// project file (.trellis.yaml, .trellis.yml or .trellis.toml) and
// TRELLIS_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config file names, in lookup order.
var FileNames = []string{".trellis.yaml", ".trellis.yml", ".trellis.toml"}

// Environment variables that override file settings.
const (
	EnvProjectRoot = "TRELLIS_PROJECT_ROOT"
	EnvLogLevel    = "TRELLIS_LOG_LEVEL"
	EnvWatch       = "TRELLIS_WATCH"
	EnvJournalDir  = "TRELLIS_JOURNAL_DIR"
)

// lookupEnv is a package-level var so tests can supply an environment.
var lookupEnv = os.LookupEnv

// Duration is a time.Duration that reads and writes as "200ms" in both
// YAML and TOML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// JournalSettings configures the commit journal.
type JournalSettings struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" toml:"dir" json:"dir"`
}

// LogSettings configures the process logger.
type LogSettings struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// Settings is the full runtime configuration.
type Settings struct {
	ProjectRoot          string          `yaml:"project_root" toml:"project_root" json:"project_root"`
	EnsurePlanningSubdir bool            `yaml:"ensure_planning_subdir" toml:"ensure_planning_subdir" json:"ensure_planning_subdir"`
	ChildrenCacheSize    int             `yaml:"children_cache_size" toml:"children_cache_size" json:"children_cache_size"`
	MtimeTolerance       Duration        `yaml:"mtime_tolerance" toml:"mtime_tolerance" json:"mtime_tolerance"`
	Watch                bool            `yaml:"watch" toml:"watch" json:"watch"`
	WatchDebounce        Duration        `yaml:"watch_debounce" toml:"watch_debounce" json:"watch_debounce"`
	SchemaVersion        string          `yaml:"schema_version" toml:"schema_version" json:"schema_version"`
	Journal              JournalSettings `yaml:"journal" toml:"journal" json:"journal"`
	Log                  LogSettings     `yaml:"log" toml:"log" json:"log"`

	// Source is the file the settings were read from, if any.
	Source string `yaml:"-" toml:"-" json:"source,omitempty"`
}

// Default returns the built-in settings.
func Default() Settings {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	home, _ := os.UserHomeDir()
	return Settings{
		ProjectRoot:          cwd,
		EnsurePlanningSubdir: true,
		ChildrenCacheSize:    256,
		MtimeTolerance:       Duration(time.Millisecond),
		Watch:                false,
		WatchDebounce:        Duration(200 * time.Millisecond),
		SchemaVersion:        "1.1",
		Journal:              JournalSettings{Enabled: true, Dir: filepath.Join(home, ".trellis")},
		Log:                  LogSettings{Level: "info", Format: "text"},
	}
}

// FindFile returns the first config file present in dir, or "".
func FindFile(dir string) string {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

// Load builds settings for dir. An explicit path wins over the files
// found in dir; a missing explicit path is an error, a missing implicit
// file is not. Environment overrides are applied last and the result is
// validated.
func Load(dir, explicit string) (Settings, error) {
	s := Default()
	if dir != "" {
		s.ProjectRoot = dir
	}

	path := explicit
	if path == "" && dir != "" {
		path = FindFile(dir)
	}
	if path != "" {
		if err := decodeFile(path, &s); err != nil {
			return Settings{}, err
		}
		s.Source = path
	}

	if err := applyEnv(&s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func decodeFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(s); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension (want .yaml, .yml or .toml)", path)
	}
	return nil
}

func applyEnv(s *Settings) error {
	if v, ok := lookupEnv(EnvProjectRoot); ok && v != "" {
		s.ProjectRoot = v
	}
	if v, ok := lookupEnv(EnvLogLevel); ok && v != "" {
		s.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookupEnv(EnvWatch); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvWatch, err)
		}
		s.Watch = b
	}
	if v, ok := lookupEnv(EnvJournalDir); ok && v != "" {
		s.Journal.Dir = v
	}
	return nil
}

// --- Validation ---

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validFormats = map[string]bool{"text": true, "json": true}

// Validate reports every out-of-range setting at once.
func (s Settings) Validate() error {
	var problems []error
	if strings.TrimSpace(s.ProjectRoot) == "" {
		problems = append(problems, errors.New("project_root cannot be empty"))
	}
	if s.ChildrenCacheSize <= 0 {
		problems = append(problems, fmt.Errorf("children_cache_size must be positive, got %d", s.ChildrenCacheSize))
	}
	if s.MtimeTolerance < 0 || s.MtimeTolerance.Std() > time.Second {
		problems = append(problems, fmt.Errorf("mtime_tolerance must be between 0 and 1s, got %s", s.MtimeTolerance.Std()))
	}
	if s.WatchDebounce.Std() <= 0 || s.WatchDebounce.Std() > time.Minute {
		problems = append(problems, fmt.Errorf("watch_debounce must be between 0 and 1m, got %s", s.WatchDebounce.Std()))
	}
	if !validSchemaVersion(s.SchemaVersion) {
		problems = append(problems, fmt.Errorf("schema_version must look like 1.1, got %q", s.SchemaVersion))
	}
	if s.Journal.Enabled && strings.TrimSpace(s.Journal.Dir) == "" {
		problems = append(problems, errors.New("journal.dir cannot be empty when the journal is enabled"))
	}
	if !validLevels[s.Log.Level] {
		problems = append(problems, fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", s.Log.Level))
	}
	if !validFormats[s.Log.Format] {
		problems = append(problems, fmt.Errorf("log.format must be text or json, got %q", s.Log.Format))
	}
	return errors.Join(problems...)
}

func validSchemaVersion(v string) bool {
	major, minor, ok := strings.Cut(v, ".")
	if !ok {
		return false
	}
	if _, err := strconv.Atoi(major); err != nil {
		return false
	}
	_, err := strconv.Atoi(minor)
	return err == nil
}
