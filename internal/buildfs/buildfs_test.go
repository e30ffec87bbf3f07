package buildfs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/packsmith/packsmith/internal/builderr"
	"github.com/packsmith/packsmith/internal/config"
)

func TestPublishSymlinkIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "cache", "sha1", "ab", "abcd"), "jar-bytes")
	dest := filepath.Join(dir, "build", "mods", "a.jar")

	p := NewPublisher(LinkModeSymlink)
	if err := p.Publish(dest, src); err != nil {
		t.Fatalf("publish: %v", err)
	}
	target, err := os.Readlink(dest)
	if err != nil {
		t.Fatalf("expected symlink: %v", err)
	}
	if target != src {
		t.Fatalf("link should point at %s, got %s", src, target)
	}

	if err := p.Publish(dest, src); err != nil {
		t.Fatalf("second publish should be a no-op: %v", err)
	}
}

func TestPublishConflictLeavesDestUntouched(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, filepath.Join(dir, "cache", "one"), "one")
	second := writeFile(t, filepath.Join(dir, "cache", "two"), "two")
	dest := filepath.Join(dir, "build", "a.jar")

	p := NewPublisher(LinkModeSymlink)
	if err := p.Publish(dest, first); err != nil {
		t.Fatalf("publish: %v", err)
	}

	err := p.Publish(dest, second)
	var conflict *builderr.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.Existing != first || conflict.Requested != second {
		t.Fatalf("unexpected conflict detail: %+v", conflict)
	}
	target, _ := os.Readlink(dest)
	if target != first {
		t.Fatalf("dest must stay untouched, now points at %s", target)
	}
}

func TestPublishCopyMode(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "cache", "blob"), "payload")
	other := writeFile(t, filepath.Join(dir, "cache", "other"), "different")
	dest := filepath.Join(dir, "build", "mods", "a.jar")

	p := NewPublisher(LinkModeCopy)
	if err := p.Publish(dest, src); err != nil {
		t.Fatalf("publish: %v", err)
	}
	info, err := os.Lstat(dest)
	if err != nil {
		t.Fatalf("stat dest: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatalf("copy mode must not create symlinks")
	}
	if got := readFile(t, dest); got != "payload" {
		t.Fatalf("unexpected content %q", got)
	}

	if err := p.Publish(dest, src); err != nil {
		t.Fatalf("same content should be a no-op: %v", err)
	}
	if err := p.Publish(dest, other); !errors.Is(err, builderr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestPublishMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := NewPublisher("").Publish(filepath.Join(dir, "a.jar"), filepath.Join(dir, "missing"))
	if !errors.Is(err, builderr.ErrFilesystem) {
		t.Fatalf("expected filesystem error, got %v", err)
	}
}

func TestCleanRemovesMatchesAndToleratesMissing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "build", "shared", "mods", "a.jar"), "a")
	writeFile(t, filepath.Join(dir, "build", "temp", "x"), "x")
	keep := writeFile(t, filepath.Join(dir, "src", "keep.txt"), "keep")

	if err := Clean(filepath.Join(dir, "build"), "*"); err != nil {
		t.Fatalf("clean: %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "build"))
	if err != nil {
		t.Fatalf("read build: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("build should be empty, got %d entries", len(entries))
	}
	if _, err := os.Stat(keep); err != nil {
		t.Fatalf("unmatched files must survive: %v", err)
	}

	if err := Clean(filepath.Join(dir, "nowhere"), "**"); err != nil {
		t.Fatalf("clean of missing root should succeed: %v", err)
	}
}

func TestCleanTreatsRootLiterally(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out[1]", "out{a,b}", "out*"} {
		root := filepath.Join(dir, name)
		writeFile(t, filepath.Join(root, "stale", "old.jar"), "old")
		writeFile(t, filepath.Join(root, "manifest.json"), "{}")

		if err := Clean(root, "*"); err != nil {
			t.Fatalf("clean %s: %v", name, err)
		}
		entries, err := os.ReadDir(root)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(entries) != 0 {
			t.Fatalf("%s should be emptied, %d entries survived", name, len(entries))
		}
	}
}

func TestLinkModeMatchesConfigValues(t *testing.T) {
	if string(LinkModeSymlink) != string(config.LinkModeSymlink) || string(LinkModeCopy) != string(config.LinkModeCopy) {
		t.Fatalf("publisher modes must accept the configured values")
	}
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b")
	if err := EnsureDir(target); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	marker := writeFile(t, filepath.Join(target, "marker"), "m")
	if err := EnsureDir(target); err != nil {
		t.Fatalf("ensure existing: %v", err)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("existing directory must be untouched: %v", err)
	}
	if err := EnsureDir(marker); !errors.Is(err, builderr.ErrFilesystem) {
		t.Fatalf("expected filesystem error for file path, got %v", err)
	}
}

func TestCopyGlobsPreservesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "overrides")
	writeFile(t, filepath.Join(root, "config", "a.cfg"), "a")
	writeFile(t, filepath.Join(root, "config", "nested", "b.cfg"), "b")
	writeFile(t, filepath.Join(root, "scripts", "c.zs"), "c")
	writeFile(t, filepath.Join(root, "ignored.txt"), "i")
	dest := filepath.Join(dir, "out")

	n, err := CopyGlobs(root, []string{"config/**", "scripts/*.zs", "config/a.cfg"}, dest)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 files, got %d", n)
	}
	if got := readFile(t, filepath.Join(dest, "config", "nested", "b.cfg")); got != "b" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "ignored.txt")); !os.IsNotExist(err) {
		t.Fatalf("unmatched file should not be copied")
	}

	n, err = CopyGlobs(filepath.Join(dir, "missing"), []string{"**"}, dest)
	if err != nil || n != 0 {
		t.Fatalf("missing root should copy nothing: %d %v", n, err)
	}
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
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
