package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"fishnet/internal/common/fsutil"
)

// Load reads a configuration file based on its extension on top of Default.
// Supports: .ini (fishnet.ini), .yaml/.yml, .json, .toml
// Tables or sections are flattened, so [Fishnet] and top-level keys mix.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return cfg, err
	}
	kv := map[string]string{}
	switch ext := strings.ToLower(filepath.Ext(p)); ext {
	case ".ini":
		f, err := ini.Load(b)
		if err != nil {
			return cfg, err
		}
		for _, sec := range f.Sections() {
			for _, k := range sec.Keys() {
				kv[k.Name()] = k.String()
			}
		}
	case ".yaml", ".yml":
		var m map[string]any
		if err := yaml.Unmarshal(b, &m); err != nil {
			return cfg, err
		}
		flatten(kv, m)
	case ".json":
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return cfg, err
		}
		flatten(kv, m)
	case ".toml":
		var m map[string]any
		if err := toml.Unmarshal(b, &m); err != nil {
			return cfg, err
		}
		flatten(kv, m)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	// Apply in a stable order so errors are reproducible.
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := cfg.Set(k, kv[k]); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return cfg, nil
}

// ApplyEnv overrides settings from FISHNET_<KEY> variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	for _, k := range Keys {
		if v := getenv("FISHNET_" + strings.ToUpper(k)); v != "" {
			if err := c.Set(k, v); err != nil {
				return fmt.Errorf("env FISHNET_%s: %w", strings.ToUpper(k), err)
			}
		}
	}
	return nil
}

func flatten(dst map[string]string, m map[string]any) {
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			flatten(dst, t)
		case []any:
			parts := make([]string, 0, len(t))
			for _, e := range t {
				parts = append(parts, fmt.Sprint(e))
			}
			dst[k] = strings.Join(parts, ",")
		case nil:
		default:
			dst[k] = fmt.Sprint(t)
		}
	}
}
