package planstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/gba/internal/domain"
)

const (
	// StateDir is the per-repository directory holding gba state
	StateDir = ".gba"
	// PlanFile is the plan document inside a feature directory
	PlanFile = "phases.yaml"
	// DesignDoc is the companion design document name
	DesignDoc = "design.md"
)

// Store reads and writes plan documents under <repo>/.gba/features
type Store struct {
	repoDir string
}

// New creates a Store rooted at the repository directory
func New(repoDir string) *Store {
	return &Store{repoDir: repoDir}
}

// Initialized reports whether the repository has a .gba directory
func (s *Store) Initialized() bool {
	info, err := os.Stat(filepath.Join(s.repoDir, StateDir))
	return err == nil && info.IsDir()
}

// FeatureDir returns the directory of a feature slug
func (s *Store) FeatureDir(slug string) string {
	return filepath.Join(s.repoDir, StateDir, "features", slug)
}

// PlanPath returns the plan file path of a feature slug
func (s *Store) PlanPath(slug string) string {
	return filepath.Join(s.FeatureDir(slug), PlanFile)
}

// Exists reports whether a plan file exists for slug
func (s *Store) Exists(slug string) bool {
	_, err := os.Stat(s.PlanPath(slug))
	return err == nil
}

// Load reads and decodes the plan of a feature
func (s *Store) Load(slug string) (*domain.Plan, error) {
	data, err := os.ReadFile(s.PlanPath(slug))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFeatureNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan for %s: %w", slug, err)
	}
	return Decode(data)
}

// Decode parses a plan document. Malformed documents are ErrInvalidSpec.
func Decode(data []byte) (*domain.Plan, error) {
	var plan domain.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSpec, err)
	}
	if plan.Feature == "" {
		return nil, fmt.Errorf("%w: missing feature", domain.ErrInvalidSpec)
	}
	for i, p := range plan.Phases {
		if p.Name == "" {
			return nil, fmt.Errorf("%w: phase %d has no name", domain.ErrInvalidSpec, i+1)
		}
		if p.Result != nil && !p.Result.Status.Valid() {
			return nil, fmt.Errorf("%w: phase %d has unknown status %q", domain.ErrInvalidSpec, i+1, p.Result.Status)
		}
	}
	if plan.Execution != nil && !plan.Execution.Status.Valid() {
		return nil, fmt.Errorf("%w: execution has unknown status %q", domain.ErrInvalidSpec, plan.Execution.Status)
	}
	return &plan, nil
}

// Save writes the whole plan, replacing the previous file atomically
func (s *Store) Save(slug string, plan *domain.Plan) error {
	dir := s.FeatureDir(slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating feature dir: %w", err)
	}

	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".phases-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp plan: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing plan: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing plan: %w", err)
	}
	if err := os.Rename(tmpName, s.PlanPath(slug)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing plan: %w", err)
	}
	return nil
}

// LoadSupportingDocument reads .gba/features/<slug>/specs/<name>
func (s *Store) LoadSupportingDocument(slug, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.FeatureDir(slug), "specs", name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s/specs/%s", domain.ErrFeatureNotFound, slug, name)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

// List returns the slugs of all features that have a plan file, sorted
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.repoDir, StateDir, "features"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing features: %w", err)
	}

	var slugs []string
	for _, e := range entries {
		if e.IsDir() && s.Exists(e.Name()) {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}
