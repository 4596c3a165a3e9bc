package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Loader renders agent templates such as "code/task", checking override
// directories before the embedded defaults.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	metaCache    map[string]*AgentMeta
	mu           sync.RWMutex
}

// AgentMeta is the frontmatter of an <agent>/system template. It controls how
// the agent process is configured.
type AgentMeta struct {
	// Preset appends the system prompt to the CLI's default one instead of replacing it
	Preset          bool     `yaml:"preset"`
	Tools           []string `yaml:"tools"`
	DisallowedTools []string `yaml:"disallowedTools"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*AgentMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Project include dirs (relative ones resolved against the repository)
// 2. Project-local: .gba/prompts/
// 3. User config: ~/.config/gba/prompts/
func DefaultLoader(repoDir string, include ...string) *Loader {
	var dirs []string
	for _, dir := range include {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(repoDir, dir)
		}
		dirs = append(dirs, dir)
	}
	if repoDir != "" {
		dirs = append(dirs, filepath.Join(repoDir, ".gba", "prompts"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "gba", "prompts"))
	}
	return NewLoader(dirs...)
}

// fileName maps "code/task" to "code/task.md"
func fileName(name string) string {
	return name + ".md"
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(name string) ([]byte, error) {
	file := fileName(name)
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(file))); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, file)
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*AgentMeta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta AgentMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// LoadTemplate loads and parses a template by name (e.g., "code/task").
func (l *Loader) LoadTemplate(name string) (*template.Template, *AgentMeta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[name]; ok {
		meta := l.metaCache[name]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(name)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", name, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", name, err)
	}

	tmpl, err := template.New(name).Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.metaCache[name] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Render loads and executes a template with the given data.
func (l *Loader) Render(name string, data any) (string, error) {
	tmpl, _, err := l.LoadTemplate(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", name, err)
	}

	return buf.String(), nil
}

// AgentConfig returns the frontmatter of <agent>/system, or defaults when the
// template has none.
func (l *Loader) AgentConfig(agent string) (AgentMeta, error) {
	_, meta, err := l.LoadTemplate(path.Join(agent, "system"))
	if err != nil {
		return AgentMeta{}, err
	}
	if meta == nil {
		return AgentMeta{}, nil
	}
	return *meta, nil
}

// List returns the names of all embedded templates, sorted.
func List() []string {
	var names []string
	fs.WalkDir(embeddedFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(p, ".md") {
			names = append(names, strings.TrimSuffix(p, ".md"))
		}
		return nil
	})
	sort.Strings(names)
	return names
}

// ClearCache clears the template cache (useful for development/testing).
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*AgentMeta)
	l.mu.Unlock()
}
