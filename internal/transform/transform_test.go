package transform

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/packsmith/packsmith/internal/builderr"
)

func TestReplaceTokens(t *testing.T) {
	path := writeFixture(t, "main-menu.cfg", "title={{name}} v{{version}}\nother={{unknown}}\n")

	changed, err := ReplaceTokens(path, Tokens{"name": "Pack", "version": "1.2.0"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !changed {
		t.Fatalf("expected the file to change")
	}
	if got := readFile(t, path); got != "title=Pack v1.2.0\nother={{unknown}}\n" {
		t.Fatalf("unexpected content %q", got)
	}

	changed, err = ReplaceTokens(path, Tokens{"name": "Pack"})
	if err != nil || changed {
		t.Fatalf("second pass should be a no-op: %v %v", changed, err)
	}
}

func TestReplaceTokensMissingFile(t *testing.T) {
	_, err := ReplaceTokens(filepath.Join(t.TempDir(), "missing"), Tokens{"a": "b"})
	if !errors.Is(err, builderr.ErrFilesystem) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestSetKeyValue(t *testing.T) {
	path := writeFixture(t, "labs.properties", "# comment\n  version=0.0.0\nname=x\n")

	changed, err := SetKeyValue(path, "version", "1.5.0")
	if err != nil || !changed {
		t.Fatalf("set: %v %v", changed, err)
	}
	if got := readFile(t, path); got != "# comment\n  version=1.5.0\nname=x\n" {
		t.Fatalf("unexpected content %q", got)
	}

	changed, err = SetKeyValue(filepath.Join(t.TempDir(), "missing.properties"), "version", "1")
	if err != nil || changed {
		t.Fatalf("missing file should be skipped: %v %v", changed, err)
	}
}

func TestRewriteQuestBook(t *testing.T) {
	path := writeFixture(t, "DefaultQuests.json",
		`{"format":"2.0.0","quests":[{"id":12345678901234567,"desc":"Welcome to {{name}}   \nline two\t"}],"flag":true}`)

	changed, err := RewriteQuestBook(path, Tokens{"name": "Pack"})
	if err != nil || !changed {
		t.Fatalf("rewrite: %v %v", changed, err)
	}
	raw := readFile(t, path)
	if !strings.Contains(raw, "\n  \"quests\": [") {
		t.Fatalf("expected indented output:\n%s", raw)
	}
	if !strings.Contains(raw, "12345678901234567") {
		t.Fatalf("large integers must survive unchanged:\n%s", raw)
	}

	var doc struct {
		Quests []struct {
			Desc string `json:"desc"`
		} `json:"quests"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Quests[0].Desc != "Welcome to Pack\nline two" {
		t.Fatalf("unexpected desc %q", doc.Quests[0].Desc)
	}

	changed, err = RewriteQuestBook(path, Tokens{"name": "Pack"})
	if err != nil || changed {
		t.Fatalf("second rewrite should be a no-op: %v %v", changed, err)
	}
}

func TestRewriteQuestBookSkipsMissingAndRejectsInvalid(t *testing.T) {
	changed, err := RewriteQuestBook(filepath.Join(t.TempDir(), "none.json"), nil)
	if err != nil || changed {
		t.Fatalf("missing file should be skipped: %v %v", changed, err)
	}
	path := writeFixture(t, "broken.json", "{")
	if _, err := RewriteQuestBook(path, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestWriteChangelog(t *testing.T) {
	dir := t.TempDir()
	source := writeFixture(t, "CHANGELOG.md", "\n- fixed things\n")
	dest := filepath.Join(dir, "out", "CHANGELOG.md")

	err := WriteChangelog(dest, ChangelogInput{
		Name:       "Pack",
		Version:    "1.0.0",
		SourcePath: source,
		Date:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	want := "# Pack 1.0.0\n\n_Built 2026-03-01_\n\n- fixed things\n"
	if got := readFile(t, dest); got != want {
		t.Fatalf("unexpected changelog:\n%q", got)
	}

	if err := WriteChangelog(dest, ChangelogInput{SourcePath: filepath.Join(dir, "none")}); err != nil {
		t.Fatalf("missing source should still produce a changelog: %v", err)
	}
	if got := readFile(t, dest); !strings.HasPrefix(got, "# Changelog\n") || !strings.Contains(got, "No changes recorded.") {
		t.Fatalf("unexpected fallback changelog:\n%s", got)
	}
}

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
