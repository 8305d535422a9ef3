// Package configfile reads YAML and JSON configuration files.
package configfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the decoder. The numeric values match the historical
// config type codes (1 = YAML, 2 = JSON).
type Format int

const (
	FormatYAML Format = 1
	FormatJSON Format = 2
)

func (f Format) String() string {
	switch f {
	case FormatYAML:
		return "yaml"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

var (
	// ErrNotAFile is returned when the path does not name a regular file.
	ErrNotAFile = errors.New("config path is not a file")
	// ErrUnsupportedFormat is returned for Format values other than YAML and JSON.
	ErrUnsupportedFormat = errors.New("unsupported config format")
	// ErrFormat matches every *FormatError via errors.Is.
	ErrFormat = errors.New("malformed config")
)

// FormatError reports a file whose content could not be decoded.
type FormatError struct {
	Path   string
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s config %s: %v", e.Format, e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrFormat) true for any FormatError.
func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// FormatFromPath picks a format by file extension. Anything that is not
// .json is treated as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Load decodes the file into a generic structure (maps, slices and scalars).
func Load(path string, format Format) (any, error) {
	var out any
	if err := LoadInto(path, format, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadInto decodes the file into target.
func LoadInto(path string, format Format, target any) error {
	if format != FormatYAML && format != FormatJSON {
		return fmt.Errorf("%w: %d", ErrUnsupportedFormat, int(format))
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotAFile, path)
	}

	// #nosec G304 -- path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, target)
	default:
		err = yaml.Unmarshal(data, target)
	}
	if err != nil {
		return &FormatError{Path: path, Format: format, Err: err}
	}
	return nil
}
