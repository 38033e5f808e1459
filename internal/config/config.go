// Package config loads the host configuration file into the nested
// key/value structure the orchestrator consumes, and watches it for
// changes. The orchestrator itself never touches files; it only sees the
// already-parsed maps.
package config

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
)

// Loader turns a configuration source into the nested map the orchestrator
// consumes.
type Loader interface {
	// Load reads the file at path. The format is detected from the
	// extension (YAML, JSON, TOML).
	Load(ctx context.Context, path string) (map[string]any, error)

	// LoadNamed locates a configuration by name inside dir, e.g. name
	// "default" matching default.yml.
	LoadNamed(ctx context.Context, dir, name string) (map[string]any, error)
}

// FileLoader is the viper-backed Loader used in production.
//
// Note that viper treats keys case-insensitively and reports them
// lowercased; instance names from configuration are therefore effectively
// lowercase throughout the host.
type FileLoader struct{}

// NewFileLoader creates a FileLoader.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

// Load implements Loader.
func (l *FileLoader) Load(ctx context.Context, path string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	return v.AllSettings(), nil
}

// LoadNamed implements Loader.
func (l *FileLoader) LoadNamed(ctx context.Context, dir, name string) (map[string]any, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %q in %q: %w", name, dir, err)
	}
	return v.AllSettings(), nil
}

// SubMap returns the nested map under key, if present and map-shaped.
func SubMap(m map[string]any, key string) (map[string]any, bool) {
	sub, ok := m[key].(map[string]any)
	return sub, ok
}

// String returns the string value under key, if present.
func String(m map[string]any, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok
}

// Bool returns the boolean value under key, if present.
func Bool(m map[string]any, key string) (bool, bool) {
	b, ok := m[key].(bool)
	return b, ok
}

// Merge folds src into dst: map values are merged key by key, everything
// else is overwritten. dst is modified in place.
func Merge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			Merge(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			// Copy so later merges do not alias the source document.
			fresh := make(map[string]any, len(srcMap))
			Merge(fresh, srcMap)
			dst[key] = fresh
			continue
		}
		dst[key] = val
	}
}
