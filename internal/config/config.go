// Package config loads and validates the mirror configuration.
//
// The file is YAML. Scalars can be overridden from the environment with the
// CONTENTMIRROR_ prefix (CONTENTMIRROR_DIRECTUS_TOKEN for directus.token).
// The mapping section is read in declaration order, which is the order runs
// process collections in.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	DefaultLockfileLifetime = 120
	DefaultLockDSN          = "file://user/pages/.lock"
	DefaultFilename         = "default"
	EnvPrefix               = "CONTENTMIRROR"
	PreviewState            = "preview"
	DefaultDirectusTimeout  = 30 * time.Second
)

// ConfigError describes a configuration problem found at load time.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid config: " + e.Reason
	}
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

type RunConfig struct {
	HookPrefix       string          `yaml:"hookPrefix"`
	LockfileLifetime int             `yaml:"lockfileLifetime"`
	LockDSN          string          `yaml:"lock"`
	RedirectRoute    string          `yaml:"redirect_route"`
	EnvState         string          `yaml:"envState,omitempty"`
	WebhookSecret    string          `yaml:"webhookSecret,omitempty"`
	Directus         DirectusConfig  `yaml:"directus"`
	Cache            CacheConfig     `yaml:"cache,omitempty"`
	Mappings         []MappingConfig `yaml:"mapping"`
}

type DirectusConfig struct {
	APIURL      string        `yaml:"directusAPIUrl"`
	Token       string        `yaml:"token,omitempty"`
	Email       string        `yaml:"email,omitempty"`
	Password    string        `yaml:"password,omitempty"`
	DisableCors bool          `yaml:"disableCors,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
}

type CacheConfig struct {
	URL string `yaml:"url,omitempty"`
	Dir string `yaml:"dir,omitempty"`
}

// MappingConfig binds one collection to a directory and a document layout.
type MappingConfig struct {
	Collection  string            `yaml:"collection"`
	Path        string            `yaml:"path"`
	Depth       int               `yaml:"depth"`
	Filter      map[string]any    `yaml:"filter"`
	Filename    string            `yaml:"filename"`
	Frontmatter FrontmatterFields `yaml:"frontmatter"`
}

// FrontmatterFields names the record fields the generated document reads.
type FrontmatterFields struct {
	Title    string `yaml:"column_title"`
	Slug     string `yaml:"column_slug"`
	Sort     string `yaml:"column_sort"`
	Date     string `yaml:"column_date"`
	Category string `yaml:"column_category"`
	Flex     bool   `yaml:"flex"`
}

func (c RunConfig) LockTTL() time.Duration {
	if c.LockfileLifetime <= 0 {
		return DefaultLockfileLifetime * time.Second
	}
	return time.Duration(c.LockfileLifetime) * time.Second
}

func (c RunConfig) Preview() bool {
	return c.EnvState == PreviewState
}

// DirectusTimeout is the per-request timeout, DefaultDirectusTimeout when
// the config was built without one.
func (c RunConfig) DirectusTimeout() time.Duration {
	if c.Directus.Timeout <= 0 {
		return DefaultDirectusTimeout
	}
	return c.Directus.Timeout
}

// UpdateRoute is the webhook route, "/<hookPrefix>/update".
func (c RunConfig) UpdateRoute() string {
	return "/" + strings.Trim(c.HookPrefix, "/") + "/update"
}

// Load reads path, applies environment overrides, validates the document
// against the embedded schema and then checks the semantic rules.
func Load(path string) (*RunConfig, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, &ConfigError{Reason: "config path is required"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*RunConfig, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Reason: "malformed yaml: " + err.Error()}
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("lockfileLifetime", DefaultLockfileLifetime)
	v.SetDefault("lock", DefaultLockDSN)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read config %s: %w", filepath.Base(path), err)
	}

	cfg := &RunConfig{
		HookPrefix:       strings.Trim(strings.TrimSpace(v.GetString("hookPrefix")), "/"),
		LockfileLifetime: v.GetInt("lockfileLifetime"),
		LockDSN:          strings.TrimSpace(v.GetString("lock")),
		RedirectRoute:    v.GetString("redirect_route"),
		EnvState:         strings.TrimSpace(v.GetString("env.state")),
		WebhookSecret:    v.GetString("webhookSecret"),
		Directus: DirectusConfig{
			APIURL:      strings.TrimSpace(v.GetString("directus.directusAPIUrl")),
			Token:       strings.TrimSpace(v.GetString("directus.token")),
			Email:       strings.TrimSpace(v.GetString("directus.email")),
			Password:    v.GetString("directus.password"),
			DisableCors: v.GetBool("directus.disableCors"),
		},
		Cache: CacheConfig{
			URL: strings.TrimSpace(v.GetString("cache.url")),
			Dir: strings.TrimSpace(v.GetString("cache.dir")),
		},
	}
	if cfg.HookPrefix == "" {
		cfg.HookPrefix = strings.Trim(strings.TrimSpace(v.GetString("directus.hookPrefix")), "/")
	}
	timeout, err := parseTimeout(v.GetString("directus.timeout"))
	if err != nil {
		return nil, err
	}
	cfg.Directus.Timeout = timeout
	mappings, err := decodeMappings(data)
	if err != nil {
		return nil, err
	}
	cfg.Mappings = mappings
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseTimeout reads directus.timeout. Unset means DefaultDirectusTimeout;
// anything else must be a positive Go duration.
func parseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultDirectusTimeout, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ConfigError{Field: "directus.timeout", Reason: fmt.Sprintf("%q is not a duration", raw)}
	}
	if d <= 0 {
		return 0, &ConfigError{Field: "directus.timeout", Reason: "must be positive"}
	}
	return d, nil
}

// decodeMappings walks the mapping node directly so the declaration order of
// a keyed mapping survives; viper flattens it into an unordered map.
func decodeMappings(data []byte) ([]MappingConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &ConfigError{Reason: "malformed yaml: " + err.Error()}
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, &ConfigError{Reason: "top level must be a mapping"}
	}
	var section *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "mapping" {
			section = doc.Content[i+1]
			break
		}
	}
	if section == nil {
		return nil, nil
	}
	var out []MappingConfig
	switch section.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(section.Content); i += 2 {
			var m MappingConfig
			if err := section.Content[i+1].Decode(&m); err != nil {
				return nil, &ConfigError{Field: "mapping." + section.Content[i].Value, Reason: err.Error()}
			}
			if strings.TrimSpace(m.Collection) == "" {
				m.Collection = section.Content[i].Value
			}
			out = append(out, m)
		}
	case yaml.SequenceNode:
		for i, item := range section.Content {
			var m MappingConfig
			if err := item.Decode(&m); err != nil {
				return nil, &ConfigError{Field: fmt.Sprintf("mapping[%d]", i), Reason: err.Error()}
			}
			out = append(out, m)
		}
	default:
		return nil, &ConfigError{Field: "mapping", Reason: "must be a map or a list"}
	}
	for i := range out {
		out[i].normalize()
	}
	return out, nil
}

func (m *MappingConfig) normalize() {
	m.Collection = strings.TrimSpace(m.Collection)
	m.Path = strings.TrimSpace(m.Path)
	if m.Path != "" {
		m.Path = filepath.Clean(m.Path)
	}
	m.Filename = strings.TrimSpace(m.Filename)
	if m.Filename == "" {
		m.Filename = DefaultFilename
	}
	m.Frontmatter.Title = strings.TrimSpace(m.Frontmatter.Title)
	m.Frontmatter.Slug = strings.TrimSpace(m.Frontmatter.Slug)
	m.Frontmatter.Sort = strings.TrimSpace(m.Frontmatter.Sort)
	m.Frontmatter.Date = strings.TrimSpace(m.Frontmatter.Date)
	m.Frontmatter.Category = strings.TrimSpace(m.Frontmatter.Category)
}

// Validate checks the rules the schema cannot express.
func (c *RunConfig) Validate() error {
	if c.HookPrefix == "" {
		return &ConfigError{Field: "hookPrefix", Reason: "is required"}
	}
	if c.LockfileLifetime < 0 {
		return &ConfigError{Field: "lockfileLifetime", Reason: "must not be negative"}
	}
	if c.LockDSN == "" {
		c.LockDSN = DefaultLockDSN
	}
	if c.Directus.APIURL == "" {
		return &ConfigError{Field: "directus.directusAPIUrl", Reason: "is required"}
	}
	if c.Directus.Email != "" && c.Directus.Password == "" {
		return &ConfigError{Field: "directus.password", Reason: "is required when email is set"}
	}
	if len(c.Mappings) == 0 {
		return &ConfigError{Field: "mapping", Reason: "at least one mapping is required"}
	}
	for i, m := range c.Mappings {
		field := fmt.Sprintf("mapping[%d]", i)
		if m.Collection == "" {
			return &ConfigError{Field: field + ".collection", Reason: "is required"}
		}
		field = "mapping." + m.Collection
		if m.Path == "" {
			return &ConfigError{Field: field + ".path", Reason: "is required"}
		}
		if m.Depth < 0 {
			return &ConfigError{Field: field + ".depth", Reason: "must not be negative"}
		}
		if m.Frontmatter.Title == "" {
			return &ConfigError{Field: field + ".frontmatter.column_title", Reason: "is required"}
		}
		if strings.ContainsAny(m.Filename, `/\`) {
			return &ConfigError{Field: field + ".filename", Reason: "must not contain path separators"}
		}
		for _, prev := range c.Mappings[:i] {
			if reason := pathConflict(m.Path, prev); reason != "" {
				return &ConfigError{Field: field + ".path", Reason: reason}
			}
		}
	}
	return nil
}

// pathConflict rejects a mapping path that equals, contains or lies inside
// prev's path: each sweep removes every directory it did not write, so
// nested trees would delete each other's records.
func pathConflict(path string, prev MappingConfig) string {
	a, b := absPath(path), absPath(prev.Path)
	switch {
	case a == b:
		return fmt.Sprintf("already used by mapping %s", prev.Collection)
	case pathWithin(b, a):
		return fmt.Sprintf("lies inside the path of mapping %s", prev.Collection)
	case pathWithin(a, b):
		return fmt.Sprintf("contains the path of mapping %s", prev.Collection)
	}
	return ""
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func pathWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Collections lists the configured collection names in run order.
func (c *RunConfig) Collections() []string {
	out := make([]string, 0, len(c.Mappings))
	for _, m := range c.Mappings {
		out = append(out, m.Collection)
	}
	return out
}

// Redacted returns a copy safe to log or print.
func (c RunConfig) Redacted() RunConfig {
	out := c
	if out.Directus.Token != "" {
		out.Directus.Token = "***"
	}
	if out.Directus.Password != "" {
		out.Directus.Password = "***"
	}
	if out.WebhookSecret != "" {
		out.WebhookSecret = "***"
	}
	out.Mappings = append([]MappingConfig(nil), c.Mappings...)
	return out
}
