// Package buildfs owns the on-disk side of a build: removing stale outputs,
// creating the working directories, copying static inputs and publishing
// cached artifacts into the build tree.
package buildfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/packsmith/packsmith/internal/builderr"
)

// Clean 删除 root 下匹配 pattern 的全部路径。pattern 相对 root 解析，
// root 本身不参与 glob 匹配。没有任何匹配（包括 root 不存在）视为成功。
func Clean(root, pattern string) error {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return builderr.Filesystem("stat", root, err)
	}

	matches, err := doublestar.Glob(os.DirFS(root), filepath.ToSlash(pattern))
	if err != nil {
		return builderr.Filesystem("glob", pattern, err)
	}
	for _, rel := range matches {
		if rel == "." {
			continue
		}
		match := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.RemoveAll(match); err != nil {
			return builderr.Filesystem("remove", match, err)
		}
	}
	return nil
}

// EnsureDir 在目录缺失时创建它，已存在的目录保持原样。
func EnsureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return builderr.Filesystem("mkdir", path, errors.New("exists and is not a directory"))
	case !errors.Is(err, fs.ErrNotExist):
		return builderr.Filesystem("stat", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return builderr.Filesystem("mkdir", path, err)
	}
	return nil
}

// CopyGlobs 把 root 下匹配 globs 的文件按相对路径复制到 dest，返回复制的文件数。
// 文件始终被复制而不是链接，后续的文本转换可以就地修改输出。
func CopyGlobs(root string, globs []string, dest string) (int, error) {
	paths, err := Match(root, globs)
	if err != nil {
		return 0, err
	}
	for i, src := range paths {
		rel, err := filepath.Rel(root, src)
		if err != nil {
			return i, builderr.Filesystem("rel", src, err)
		}
		if err := copyFile(src, filepath.Join(dest, rel)); err != nil {
			return i, err
		}
	}
	return len(paths), nil
}

// Match 返回 root 下匹配 globs 的文件绝对路径，按 glob 顺序去重。
func Match(root string, globs []string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, builderr.Filesystem("stat", root, err)
	}

	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var paths []string
	for _, pattern := range globs {
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pattern), doublestar.WithFilesOnly())
		if err != nil {
			return nil, builderr.Filesystem("glob", pattern, err)
		}
		for _, rel := range matches {
			if _, ok := seen[rel]; ok {
				continue
			}
			seen[rel] = struct{}{}
			paths = append(paths, filepath.Join(root, filepath.FromSlash(rel)))
		}
	}
	return paths, nil
}
