package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/ampviewer/internal/cacheurl"
)

// Format is a manifest file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var (
	ErrUnsupportedFormat = errors.New("manifest: unsupported format")
	ErrEmpty             = errors.New("manifest: no articles")
)

// Article is one publisher document to serve through the cache.
type Article struct {
	URL   string `yaml:"url" toml:"url" json:"url"`
	Title string `yaml:"title,omitempty" toml:"title,omitempty" json:"title,omitempty"`
}

// Manifest is a batch of articles sharing viewer settings.
type Manifest struct {
	Origin      string              `yaml:"origin,omitempty" toml:"origin,omitempty" json:"origin,omitempty"`
	Mode        string              `yaml:"mode,omitempty" toml:"mode,omitempty" json:"mode,omitempty"`
	CacheDomain string              `yaml:"cacheDomain,omitempty" toml:"cacheDomain,omitempty" json:"cacheDomain,omitempty"`
	JSVersion   string              `yaml:"jsVersion,omitempty" toml:"jsVersion,omitempty" json:"jsVersion,omitempty"`
	Params      cacheurl.InitParams `yaml:"params,omitempty" toml:"params,omitempty" json:"params,omitempty"`
	Articles    []Article           `yaml:"articles" toml:"articles" json:"articles"`
}

// ValidationError reports a problem with one article.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest: article %d: %s: %s", e.Index, e.Field, e.Reason)
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return Parse(data, format)
}

// Parse decodes and validates a manifest.
func Parse(data []byte, format Format) (*Manifest, error) {
	var m Manifest
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("manifest: parse yaml: %w", err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("manifest: parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the mode and every article URL.
func (m *Manifest) Validate() error {
	if _, err := cacheurl.ParseMode(m.Mode); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	if len(m.Articles) == 0 {
		return ErrEmpty
	}
	for i, a := range m.Articles {
		if strings.TrimSpace(a.URL) == "" {
			return &ValidationError{Index: i, Field: "url", Reason: "required"}
		}
		u, err := url.Parse(a.URL)
		if err != nil {
			return &ValidationError{Index: i, Field: "url", Reason: err.Error()}
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return &ValidationError{Index: i, Field: "url", Reason: "scheme must be http or https"}
		}
		if u.Hostname() == "" {
			return &ValidationError{Index: i, Field: "url", Reason: "missing host"}
		}
	}
	for _, p := range m.Params {
		if p.Key == "" {
			return fmt.Errorf("manifest: param with empty key")
		}
	}
	return nil
}

// BuildAll builds a cache URL for every article, in order. The manifest's
// origin, when set, is the first init param.
func (m *Manifest) BuildAll(b *cacheurl.Builder, mode cacheurl.Mode) ([]*cacheurl.CacheURL, error) {
	params := m.InitParams()
	var opts []cacheurl.Option
	if m.CacheDomain != "" {
		opts = append(opts, cacheurl.WithCacheDomain(m.CacheDomain))
	}
	if m.JSVersion != "" {
		opts = append(opts, cacheurl.WithJSVersion(m.JSVersion))
	}

	out := make([]*cacheurl.CacheURL, 0, len(m.Articles))
	for i, a := range m.Articles {
		c, err := b.Build(a.URL, params, mode, opts...)
		if err != nil {
			return nil, fmt.Errorf("manifest: article %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// InitParams returns the fragment params with origin first.
func (m *Manifest) InitParams() cacheurl.InitParams {
	params := make(cacheurl.InitParams, 0, len(m.Params)+1)
	if m.Origin != "" {
		params = params.Set("origin", m.Origin)
	}
	for _, p := range m.Params {
		params = params.Set(p.Key, p.Value)
	}
	return params
}
