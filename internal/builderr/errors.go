// Package builderr 汇总构建流程中会跨包传播的错误类型。
// 每种错误都可以通过 errors.Is 归类到对应的哨兵错误，通过 errors.As 取回细节。
package builderr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNetwork 表示下载过程中的网络错误。
	ErrNetwork = errors.New("network error")
	// ErrHashMismatch 表示下载内容与声明的摘要不符。
	ErrHashMismatch = errors.New("hash mismatch")
	// ErrFilesystem 表示权限、磁盘空间或路径问题。
	ErrFilesystem = errors.New("filesystem error")
	// ErrManifestShape 表示 manifest 字段缺失或格式不正确。
	ErrManifestShape = errors.New("malformed manifest")
	// ErrConflict 表示发布目标已存在且指向其它来源。
	ErrConflict = errors.New("publish conflict")
)

// NetworkError 描述一次失败的下载尝试。Temporary 为 true 时允许重试。
type NetworkError struct {
	URL        string
	StatusCode int
	Temporary  bool
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNetwork}
	}
	return []error{ErrNetwork, e.Err}
}

// HashMismatchError 记录期望值与实际摘要，便于定位被篡改或过期的依赖。
type HashMismatchError struct {
	URL       string
	Algorithm string
	Expected  []string
	Got       string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("verify %s: %s digest %s matches none of [%s]",
		e.URL, e.Algorithm, e.Got, strings.Join(e.Expected, ", "))
}

func (e *HashMismatchError) Unwrap() error { return ErrHashMismatch }

// FilesystemError 包装底层 I/O 错误，不参与重试。
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() []error { return []error{ErrFilesystem, e.Err} }

// Filesystem 在 err 非空时构造 FilesystemError；已经是 FilesystemError 的错误原样返回。
func Filesystem(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var fsErr *FilesystemError
	if errors.As(err, &fsErr) {
		return err
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// ManifestShapeError 指出具体的字段路径与原因。
type ManifestShapeError struct {
	Field  string
	Reason string
}

func (e *ManifestShapeError) Error() string {
	return fmt.Sprintf("manifest %s: %s", e.Field, e.Reason)
}

func (e *ManifestShapeError) Unwrap() error { return ErrManifestShape }

// ConflictError 表示 Dest 已经解析到 Existing，而调用方请求发布 Requested。
type ConflictError struct {
	Dest      string
	Existing  string
	Requested string
}

func (e *ConflictError) Error() string {
	existing := e.Existing
	if existing == "" {
		existing = "an unmanaged file"
	}
	return fmt.Sprintf("publish %s: already resolves to %s, refusing to replace with %s",
		e.Dest, existing, e.Requested)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
