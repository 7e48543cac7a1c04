package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// SourceEntry is one [[source]] table of the sources file. Values are kept
// raw; the engine validates kinds and the log_filter_failure setting.
type SourceEntry struct {
	Name       string   `toml:"name"`
	Kind       string   `toml:"kind"`
	Kinds      []string `toml:"kinds"`
	MediaTypes []string `toml:"media_types"`
	Users      []string `toml:"users"`
	Libraries  []string `toml:"libraries"`
	Servers    []string `toml:"servers"`
	// LogFilterFailure is false, "warn" or "debug"; nil when absent.
	LogFilterFailure any `toml:"log_filter_failure"`
}

// ClientEntry is one [[client]] table of the sources file.
type ClientEntry struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	URL  string `toml:"url"`
}

// File is the decoded sources file.
type File struct {
	Sources []SourceEntry `toml:"source"`
	Clients []ClientEntry `toml:"client"`
}

// ErrNoSources is returned when a sources file declares no source.
var ErrNoSources = errors.New("sources file declares no [[source]]")

// DefaultFile is used when no sources file is configured: a single webhook
// source with no filters and a log client.
func DefaultFile() File {
	return File{
		Sources: []SourceEntry{{Name: "webhook", Kind: "webhook"}},
		Clients: []ClientEntry{{Name: "log", Kind: "log"}},
	}
}

// LoadFile reads the sources file at path. An empty path yields DefaultFile.
func LoadFile(path string) (File, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFile(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open sources file: %w", err)
	}
	defer f.Close()
	return DecodeFile(f)
}

// DecodeFile parses and validates a sources file.
func DecodeFile(r io.Reader) (File, error) {
	var file File
	if err := toml.NewDecoder(r).Decode(&file); err != nil {
		return File{}, fmt.Errorf("parse sources file: %w", err)
	}
	if err := file.normalize(); err != nil {
		return File{}, err
	}
	return file, nil
}

func (f *File) normalize() error {
	if len(f.Sources) == 0 {
		return ErrNoSources
	}
	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.Name == "" {
			return fmt.Errorf("source #%d: name is required", i+1)
		}
		if s.Kind == "" {
			return fmt.Errorf("source %q: kind is required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("source %q: declared twice", s.Name)
		}
		seen[s.Name] = true
	}
	for i := range f.Clients {
		c := &f.Clients[i]
		c.Name = strings.TrimSpace(c.Name)
		c.Kind = strings.ToLower(strings.TrimSpace(c.Kind))
		c.URL = strings.TrimSpace(c.URL)
		if c.Name == "" {
			c.Name = c.Kind
		}
	}
	return nil
}
