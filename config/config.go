// Package config loads and writes .hanabi.json configuration files.
//
// A local file in the working directory ($HANABI_PWD) takes precedence over
// the user file in the home directory. When both exist the local file is
// deep-merged over the user file and the llms lists are joined by provider,
// local entries first. Files may contain comments and trailing commas.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/spetersoncode/hanabi"
)

const (
	// FileName is the name of configuration files.
	FileName = ".hanabi.json"

	// WorkDirEnv overrides the working directory.
	WorkDirEnv = "HANABI_PWD"

	// DefaultMaxSteps bounds the conversation loop when maxSteps is unset.
	DefaultMaxSteps = 10

	// DefaultPort is the `hanabi serve` port when serve.port is unset.
	DefaultPort = 3041
)

// WorkDir returns $HANABI_PWD, or the process working directory.
func WorkDir() string {
	if dir := os.Getenv(WorkDirEnv); dir != "" {
		return dir
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	streaming := true
	return &Config{
		LLMs:      []LLM{},
		Streaming: &streaming,
		MCPServers: map[string]ServerDescriptor{
			"file-system": {
				Name:      "file system",
				Transport: TransportStdio,
				Command:   "npx",
				Args:      []string{"-y", "@modelcontextprotocol/server-filesystem", "."},
			},
		},
		Serve: &Serve{Port: DefaultPort},
	}
}

// StreamingEnabled reports whether responses are streamed. Defaults to true.
func (c *Config) StreamingEnabled() bool {
	return c.Streaming == nil || *c.Streaming
}

// Steps returns maxSteps or DefaultMaxSteps.
func (c *Config) Steps() int {
	if c.MaxSteps > 0 {
		return c.MaxSteps
	}
	return DefaultMaxSteps
}

// Port returns the serve port or DefaultPort.
func (c *Config) Port() int {
	if c.Serve != nil && c.Serve.Port > 0 {
		return c.Serve.Port
	}
	return DefaultPort
}

// ServeKeys returns the MCP server keys exposed by `hanabi serve`.
func (c *Config) ServeKeys() []string {
	if c.Serve == nil {
		return nil
	}
	return c.Serve.MCPKeys
}

// FindLLM returns the entry configured for provider.
func (c *Config) FindLLM(provider hanabi.Provider) (LLM, bool) {
	for _, l := range c.LLMs {
		if l.Provider == provider {
			return l, true
		}
	}
	return LLM{}, false
}

// Paths locates the local and user configuration files.
type Paths struct {
	Local string
	User  string
}

// DefaultPaths returns $HANABI_PWD/.hanabi.json and ~/.hanabi.json.
func DefaultPaths() Paths {
	p := Paths{Local: filepath.Join(WorkDir(), FileName)}
	if home, err := os.UserHomeDir(); err == nil {
		p.User = filepath.Join(home, FileName)
	}
	return p
}

// Active returns the file that reads and writes go to: the local file when
// it exists, otherwise the user file.
func (p Paths) Active() string {
	if exists(p.Local) {
		return p.Local
	}
	return p.User
}

// Exists reports whether a configuration file is present.
func (p Paths) Exists() bool {
	return exists(p.Active())
}

// Load reads the configuration. Without any file it returns Default().
func (p Paths) Load() (*Config, error) {
	active := p.Active()
	if !exists(active) {
		return Default(), nil
	}

	doc, err := readDocument(active)
	if err != nil {
		return nil, err
	}
	if active == p.Local && exists(p.User) {
		user, err := readDocument(p.User)
		if err != nil {
			return nil, err
		}
		local := doc
		doc = mergeDocuments(user, local)
		doc["llms"] = unionLLMs(local["llms"], user["llms"])
	}
	return decode(doc, active)
}

// Load reads the configuration from the default paths.
func Load() (*Config, error) {
	return DefaultPaths().Load()
}

// Write merges partial over the current configuration and writes the result
// to the active file.
func (p Paths) Write(partial *Config) error {
	current, err := p.Load()
	if err != nil {
		return err
	}
	base, err := toDocument(current)
	if err != nil {
		return err
	}
	overlay, err := toDocument(partial)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(mergeDocuments(base, overlay), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := p.Active()
	if path == "" {
		path = p.Local
	}
	if path == "" {
		return &hanabi.ConfigurationError{Field: "path", Msg: "no config file location"}
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Remove deletes the active configuration file, if any.
func (p Paths) Remove() error {
	path := p.Active()
	if !exists(path) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove config %s: %w", path, err)
	}
	return nil
}

func exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

type document = map[string]any

func readDocument(path string) (document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return document{}, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	doc := document{}
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, &hanabi.ConfigurationError{Field: path, Msg: err.Error()}
	}
	return doc, nil
}

func toDocument(c *Config) (document, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	doc := document{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return doc, nil
}

func decode(doc document, source string) (*Config, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &hanabi.ConfigurationError{Field: source, Msg: err.Error()}
	}
	return &c, nil
}

// mergeDocuments returns base with overlay merged in. Nested objects merge
// recursively; null overlay values are ignored and any other overlay value
// replaces the base value.
func mergeDocuments(base, overlay document) document {
	out := make(document, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if v == nil {
			continue
		}
		if src, ok := v.(map[string]any); ok {
			if dst, ok := out[k].(map[string]any); ok {
				out[k] = mergeDocuments(dst, src)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// unionLLMs joins two llms lists keeping the first entry per provider.
func unionLLMs(lists ...any) []any {
	seen := make(map[string]bool)
	out := []any{}
	for _, list := range lists {
		items, _ := list.([]any)
		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			provider, _ := entry["provider"].(string)
			if seen[provider] {
				continue
			}
			seen[provider] = true
			out = append(out, entry)
		}
	}
	return out
}
