package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestList(t *testing.T) {
	want := []string{
		"code/hook_fix",
		"code/pr",
		"code/resume",
		"code/system",
		"code/task",
		"init/system",
		"init/task",
		"review/fix",
		"review/system",
		"review/task",
		"verify/fix",
		"verify/system",
		"verify/task",
	}
	got := List()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestLoaderRenderInitTask(t *testing.T) {
	loader := NewLoader()
	result, err := loader.Render("init/task", map[string]any{
		"repo_path": "/src/demo",
		"repo_tree": "demo/\n└── main.go\n",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(result, "└── main.go") {
		t.Errorf("repo tree missing from prompt:\n%s", result)
	}

	meta, err := loader.AgentConfig("init")
	if err != nil {
		t.Fatalf("AgentConfig failed: %v", err)
	}
	if !meta.Preset {
		t.Error("init agent should use the preset")
	}
}

func TestLoaderRenderTask(t *testing.T) {
	loader := NewLoader()

	result, err := loader.Render("code/task", map[string]any{
		"feature_slug": "0001_login",
		"phase_index":  2,
		"total_phases": 3,
		"phase": map[string]any{
			"name":        "Wire handlers",
			"description": "Connect the login handler",
			"tasks":       []string{"add route", "add test"},
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"phase 2 of 3", "Wire handlers", "- add route", "- add test"} {
		if !strings.Contains(result, want) {
			t.Errorf("rendered task missing %q:\n%s", want, result)
		}
	}
}

func TestLoaderRenderResume(t *testing.T) {
	loader := NewLoader()

	result, err := loader.Render("code/resume", map[string]any{
		"feature_slug": "0001_login",
		"phase_index":  2,
		"total_phases": 2,
		"phase":        map[string]any{"name": "Second"},
		"completed_phases": []map[string]any{
			{"index": 1, "name": "First", "commit": "abc1234"},
		},
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(result, "Phase 1: First (abc1234)") {
		t.Errorf("completed phases not rendered:\n%s", result)
	}
}

func TestLoaderAgentConfig(t *testing.T) {
	loader := NewLoader()

	code, err := loader.AgentConfig("code")
	if err != nil {
		t.Fatal(err)
	}
	if !code.Preset {
		t.Error("code agent should use the preset system prompt")
	}

	review, err := loader.AgentConfig("review")
	if err != nil {
		t.Fatal(err)
	}
	if review.Preset {
		t.Error("review agent should not use the preset")
	}
	if len(review.DisallowedTools) == 0 {
		t.Error("review agent should disallow editing tools")
	}

	if _, err := loader.AgentConfig("unknown"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestLoaderOverridePrecedence(t *testing.T) {
	projectDir := t.TempDir()
	userDir := t.TempDir()

	for dir, content := range map[string]string{
		projectDir: "PROJECT OVERRIDE: {{.hook_name}}",
		userDir:    "USER OVERRIDE: {{.hook_name}}",
	} {
		if err := os.MkdirAll(filepath.Join(dir, "code"), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "code", "hook_fix.md"), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	loader := NewLoader(projectDir, userDir)
	result, err := loader.Render("code/hook_fix", map[string]any{"hook_name": "lint"})
	if err != nil {
		t.Fatal(err)
	}
	if result != "PROJECT OVERRIDE: lint" {
		t.Errorf("project override should take precedence, got: %s", result)
	}
}

func TestLoaderFallbackToEmbedded(t *testing.T) {
	loader := NewLoader(t.TempDir())

	result, err := loader.Render("code/hook_fix", map[string]any{
		"feature_slug": "x",
		"hook_name":    "fmt",
		"hook_command": "gofmt -l .",
		"hook_output":  "main.go\n",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, "`fmt` failed") || !strings.Contains(result, "gofmt -l .") {
		t.Errorf("should fall back to embedded template, got: %s", result)
	}
}

func TestDefaultLoaderIncludeDirs(t *testing.T) {
	repo := t.TempDir()
	custom := filepath.Join(repo, "prompts-custom", "verify")
	if err := os.MkdirAll(custom, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(custom, "task.md"), []byte("CUSTOM VERIFY"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := DefaultLoader(repo, "prompts-custom")
	result, err := loader.Render("verify/task", map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	if result != "CUSTOM VERIFY" {
		t.Errorf("include dir not used, got: %s", result)
	}
}

func TestParseFrontmatter(t *testing.T) {
	meta, body, err := parseFrontmatter([]byte("---\npreset: false\ntools:\n  - Read\n  - Grep\ndisallowedTools:\n  - Write\n---\nBody"))
	if err != nil {
		t.Fatal(err)
	}
	if meta == nil || meta.Preset || len(meta.Tools) != 2 || meta.DisallowedTools[0] != "Write" {
		t.Errorf("unexpected meta: %+v", meta)
	}
	if body != "Body" {
		t.Errorf("body = %q", body)
	}

	meta, body, err = parseFrontmatter([]byte("no frontmatter"))
	if err != nil || meta != nil || body != "no frontmatter" {
		t.Errorf("plain content mishandled: %v %v %q", meta, err, body)
	}
}

func TestLoaderClearCache(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "code"), 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "code", "pr.md")
	if err := os.WriteFile(file, []byte("v1"), 0644); err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(dir)
	if got, _ := loader.Render("code/pr", nil); got != "v1" {
		t.Fatalf("got %q", got)
	}
	if err := os.WriteFile(file, []byte("v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if got, _ := loader.Render("code/pr", nil); got != "v1" {
		t.Errorf("cached template expected, got %q", got)
	}
	loader.ClearCache()
	if got, _ := loader.Render("code/pr", nil); got != "v2" {
		t.Errorf("after ClearCache got %q", got)
	}
}
