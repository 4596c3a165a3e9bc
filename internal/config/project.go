package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/hochfrequenz/gba/internal/checks"
)

// EnvPrefix prefixes environment overrides, e.g. GBA_REVIEW_MAXITERATIONS
const EnvPrefix = "GBA_"

// ProjectConfig is <repo>/.gba/config.yaml
type ProjectConfig struct {
	Agent        AgentConfig        `koanf:"agent"`
	Prompts      PromptsConfig      `koanf:"prompts"`
	Git          GitConfig          `koanf:"git"`
	Review       ReviewConfig       `koanf:"review"`
	Verification VerificationConfig `koanf:"verification"`
	Hooks        HooksConfig        `koanf:"hooks"`
}

// AgentConfig selects model and permissions for agent sessions
type AgentConfig struct {
	Model     string `koanf:"model"`
	MaxTokens uint32 `koanf:"maxTokens"`
	// PermissionMode is auto, manual or none
	PermissionMode string `koanf:"permissionMode"`
}

// PromptsConfig lists template override directories
type PromptsConfig struct {
	Include []string `koanf:"include"`
}

// GitConfig controls branches and commits
type GitConfig struct {
	AutoCommit    bool   `koanf:"autoCommit"`
	BranchPattern string `koanf:"branchPattern"`
	BaseBranch    string `koanf:"baseBranch"`
}

// ReviewConfig controls the review loop
type ReviewConfig struct {
	Enabled       bool   `koanf:"enabled"`
	MaxIterations uint32 `koanf:"maxIterations"`
}

// VerificationConfig controls the verification loop
type VerificationConfig struct {
	Enabled       bool   `koanf:"enabled"`
	MaxIterations uint32 `koanf:"maxIterations"`
}

// HooksConfig lists the pre-commit checks
type HooksConfig struct {
	PreCommit  []checks.Check `koanf:"preCommit"`
	MaxRetries uint32         `koanf:"maxRetries"`
}

// DefaultProject returns the project defaults
func DefaultProject() ProjectConfig {
	return ProjectConfig{
		Agent: AgentConfig{PermissionMode: "auto"},
		Git: GitConfig{
			AutoCommit:    true,
			BranchPattern: "feat/{id}-{slug}",
			BaseBranch:    "main",
		},
		Review:       ReviewConfig{Enabled: true, MaxIterations: 3},
		Verification: VerificationConfig{Enabled: true, MaxIterations: 3},
		Hooks:        HooksConfig{MaxRetries: 5},
	}
}

// ProjectConfigPath returns <repo>/.gba/config.yaml
func ProjectConfigPath(repoDir string) string {
	return filepath.Join(repoDir, ".gba", "config.yaml")
}

// defaultProjectYAML is written by WriteDefaultProject. Loading it yields
// DefaultProject.
const defaultProjectYAML = `# gba project configuration
# Environment variables override any value, e.g. GBA_REVIEW_MAXITERATIONS=1

agent:
  # model: claude-sonnet-4-20250514
  # maxTokens: 16384
  permissionMode: auto

# prompts:
#   include: [.gba/prompts]

git:
  autoCommit: true
  branchPattern: "feat/{id}-{slug}"
  baseBranch: main

review:
  enabled: true
  maxIterations: 3

verification:
  enabled: true
  maxIterations: 3

hooks:
  # preCommit:
  #   - name: test
  #     command: go test ./...
  maxRetries: 5
`

// WriteDefaultProject writes a commented default config to
// <repo>/.gba/config.yaml. An existing file is left alone.
func WriteDefaultProject(repoDir string) error {
	path := ProjectConfigPath(repoDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create config file %s: %w", path, err)
	}
	if _, err := f.WriteString(defaultProjectYAML); err != nil {
		f.Close()
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return f.Close()
}

// LoadProject reads the project config of repoDir, then applies GBA_*
// environment overrides. A missing file yields the defaults.
//
// Environment variables name a section and a field; underscores inside the
// field are ignored and matching is case-insensitive:
//
//	GBA_REVIEW_MAXITERATIONS=1    -> review.maxIterations
//	GBA_GIT_AUTO_COMMIT=false     -> git.autoCommit
//	GBA_PROMPTS_INCLUDE=my-prompts -> prompts.include
func LoadProject(repoDir string) (ProjectConfig, error) {
	k := koanf.New(".")
	cfg := DefaultProject()

	path := ProjectConfigPath(repoDir)
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err == nil {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	keys := envKeys(reflect.TypeOf(cfg), "")
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		section, field, ok := strings.Cut(strings.TrimPrefix(s, EnvPrefix), "_")
		if !ok {
			return ""
		}
		return keys[normalizeKey(section)+"."+normalizeKey(field)]
	}), nil); err != nil {
		return cfg, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerations and required values
func (c ProjectConfig) Validate() error {
	switch c.Agent.PermissionMode {
	case "auto", "manual", "none":
	default:
		return fmt.Errorf("agent.permissionMode must be auto, manual or none, got %q", c.Agent.PermissionMode)
	}
	if c.Git.BaseBranch == "" {
		return fmt.Errorf("git.baseBranch must not be empty")
	}
	for i, h := range c.Hooks.PreCommit {
		if h.Name == "" || h.Command == "" {
			return fmt.Errorf("hooks.preCommit[%d] needs a name and a command", i)
		}
	}
	return nil
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", ""))
}

// envKeys maps normalized "section.field" names to koanf paths for every
// field an environment variable can express
func envKeys(t reflect.Type, prefix string) map[string]string {
	out := make(map[string]string)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("koanf")
		if tag == "" {
			continue
		}
		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			for k, v := range envKeys(f.Type, path) {
				out[k] = v
			}
		case reflect.Slice:
			if f.Type.Elem().Kind() == reflect.String {
				out[normalizePath(path)] = path
			}
		default:
			out[normalizePath(path)] = path
		}
	}
	return out
}

func normalizePath(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = normalizeKey(p)
	}
	return strings.Join(parts, ".")
}
