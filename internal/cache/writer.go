package cache

import (
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/packsmith/packsmith/internal/builderr"
)

// pendingEntry 把下载内容写入临时文件，同时按所有声明的算法计算摘要。
// 校验通过前，临时文件不会出现在任何内容地址下。
type pendingEntry struct {
	file    *os.File
	hashers digestSet
	writer  io.Writer
	written int64
	closed  bool
}

func newPendingEntry(tempDir string, def FileDef) (*pendingEntry, error) {
	file, err := os.CreateTemp(tempDir, ".fetch-*")
	if err != nil {
		return nil, builderr.Filesystem("create temp file", tempDir, err)
	}

	hashers := newDigestSet(def)
	return &pendingEntry{
		file:    file,
		hashers: hashers,
		writer:  io.MultiWriter(append([]io.Writer{file}, hashers.writers()...)...),
	}, nil
}

// Write 实现 io.Writer；写入错误一律视为文件系统错误，不参与重试。
func (p *pendingEntry) Write(b []byte) (int, error) {
	n, err := p.writer.Write(b)
	p.written += int64(n)
	if err != nil {
		return n, builderr.Filesystem("write", p.file.Name(), err)
	}
	return n, nil
}

// verify 要求每个摘要约束都至少匹配一个可接受值，返回主摘要。
func (p *pendingEntry) verify(def FileDef, source string) (string, error) {
	return p.hashers.verify(def, source)
}

func (p *pendingEntry) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return p.file.Close()
}

// commit 关闭临时文件并 rename 到 target；失败时清理临时文件。
func (p *pendingEntry) commit(target string) error {
	if err := p.close(); err != nil {
		p.discard()
		return builderr.Filesystem("close", p.file.Name(), err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		p.discard()
		return builderr.Filesystem("mkdir", filepath.Dir(target), err)
	}
	if err := os.Rename(p.file.Name(), target); err != nil {
		p.discard()
		return builderr.Filesystem("rename", target, err)
	}
	return nil
}

// discard 删除临时文件，多次调用安全。
func (p *pendingEntry) discard() {
	_ = p.close()
	_ = os.Remove(p.file.Name())
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

// digestSet 为 FileDef 声明的每个算法维护一个 hash.Hash。
type digestSet map[string]hash.Hash

func newDigestSet(def FileDef) digestSet {
	set := make(digestSet, len(def.Hashes))
	for _, constraint := range def.Hashes {
		set[constraint.ID] = algorithms[constraint.ID].newHash()
	}
	return set
}

func (s digestSet) writers() []io.Writer {
	out := make([]io.Writer, 0, len(s))
	for _, h := range s {
		out = append(out, h)
	}
	return out
}

// verify 要求每个摘要约束都至少匹配一个可接受值，返回主摘要。
func (s digestSet) verify(def FileDef, source string) (string, error) {
	digests := make(map[string]string, len(s))
	for algo, h := range s {
		digests[algo] = hex.EncodeToString(h.Sum(nil))
	}
	for _, constraint := range def.Hashes {
		got := digests[constraint.ID]
		if !contains(constraint.Hashes, got) {
			return "", &builderr.HashMismatchError{
				URL:       source,
				Algorithm: constraint.ID,
				Expected:  append([]string(nil), constraint.Hashes...),
				Got:       got,
			}
		}
	}
	return digests[def.Hashes[0].ID], nil
}

// verifyFile 重新计算 path 的全部声明摘要，用于校验已缓存的条目。
func verifyFile(path string, def FileDef) error {
	f, err := os.Open(path)
	if err != nil {
		return builderr.Filesystem("open", path, err)
	}
	defer f.Close()

	set := newDigestSet(def)
	if _, err := io.Copy(io.MultiWriter(set.writers()...), f); err != nil {
		return builderr.Filesystem("read", path, err)
	}
	_, err = set.verify(def, def.URL)
	return err
}
