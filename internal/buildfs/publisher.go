package buildfs

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/packsmith/packsmith/internal/builderr"
)

// LinkMode 决定依赖如何出现在构建目录中。
type LinkMode string

const (
	LinkModeSymlink LinkMode = "symlink"
	LinkModeCopy    LinkMode = "copy"
)

// Publisher 把缓存中的文件发布到构建目录。重复发布同一来源是无操作，
// 目标已被其他内容占用时返回 ConflictError 且不改动目标。
type Publisher struct {
	mode LinkMode
}

// NewPublisher 创建 Publisher，mode 为空时使用符号链接。
func NewPublisher(mode LinkMode) *Publisher {
	if mode == "" {
		mode = LinkModeSymlink
	}
	return &Publisher{mode: mode}
}

// Mode 返回当前发布方式。
func (p *Publisher) Mode() LinkMode {
	return p.mode
}

// Publish 使 dest 解析为 src 的内容。
func (p *Publisher) Publish(dest, src string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return builderr.Filesystem("abs", src, err)
	}
	srcInfo, err := os.Stat(absSrc)
	if err != nil {
		return builderr.Filesystem("stat", absSrc, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return builderr.Filesystem("publish", absSrc, errors.New("source is not a regular file"))
	}

	existing, err := os.Lstat(dest)
	switch {
	case err == nil:
		return checkExisting(dest, existing, absSrc)
	case !errors.Is(err, fs.ErrNotExist):
		return builderr.Filesystem("lstat", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return builderr.Filesystem("mkdir", filepath.Dir(dest), err)
	}

	if p.mode == LinkModeSymlink {
		err := os.Symlink(absSrc, dest)
		if err == nil {
			return nil
		}
		if !symlinkUnsupported(err) {
			return builderr.Filesystem("symlink", dest, err)
		}
	}
	return copyFile(absSrc, dest)
}

// checkExisting 判断已有的 dest 是否已经发布了 src。
func checkExisting(dest string, info fs.FileInfo, absSrc string) error {
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(dest)
		if err != nil {
			return builderr.Filesystem("readlink", dest, err)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(dest), target)
		}
		if filepath.Clean(target) == absSrc {
			return nil
		}
		// 链接路径不同但指向同一文件，例如缓存目录本身经过符号链接
		if resolved, err := os.Stat(dest); err == nil {
			if srcInfo, err := os.Stat(absSrc); err == nil && os.SameFile(resolved, srcInfo) {
				return nil
			}
		}
		return &builderr.ConflictError{Dest: dest, Existing: target, Requested: absSrc}
	}

	if !info.Mode().IsRegular() {
		return &builderr.ConflictError{Dest: dest, Existing: info.Mode().String(), Requested: absSrc}
	}

	same, err := sameContent(dest, absSrc)
	if err != nil {
		return err
	}
	if same {
		return nil
	}
	return &builderr.ConflictError{Dest: dest, Existing: "a copy with different content", Requested: absSrc}
}

func symlinkUnsupported(err error) bool {
	return errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.ENOTSUP) ||
		errors.Is(err, syscall.EOPNOTSUPP) ||
		errors.Is(err, errors.ErrUnsupported)
}

func sameContent(a, b string) (bool, error) {
	aInfo, err := os.Stat(a)
	if err != nil {
		return false, builderr.Filesystem("stat", a, err)
	}
	bInfo, err := os.Stat(b)
	if err != nil {
		return false, builderr.Filesystem("stat", b, err)
	}
	if aInfo.Size() != bInfo.Size() {
		return false, nil
	}
	aSum, err := fileDigest(a)
	if err != nil {
		return false, err
	}
	bSum, err := fileDigest(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(aSum, bSum), nil
}

func fileDigest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, builderr.Filesystem("open", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, builderr.Filesystem("read", path, err)
	}
	return h.Sum(nil), nil
}

// copyFile 通过同目录临时文件 + rename 写入 dst，读者不会看到半截文件。
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return builderr.Filesystem("open", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return builderr.Filesystem("stat", src, err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return builderr.Filesystem("mkdir", dir, err)
	}
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".%s-*", filepath.Base(dst)))
	if err != nil {
		return builderr.Filesystem("create temp file", dir, err)
	}
	tmpName := tmp.Name()

	_, err = io.Copy(tmp, in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err != nil {
		os.Remove(tmpName)
		return builderr.Filesystem("copy", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return builderr.Filesystem("rename", dst, err)
	}
	return nil
}
