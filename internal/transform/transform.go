// Package transform holds the text rewrites applied to the build tree after
// static files have been copied: token substitution, key=value updates, quest
// book normalisation and the changelog.
package transform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/packsmith/packsmith/internal/builderr"
)

// Tokens 映射占位符名称到替换值，文件中以 {{name}} 形式出现。
type Tokens map[string]string

// Apply 替换 s 中所有已知占位符，未知占位符保持原样。
func (t Tokens) Apply(s string) string {
	if len(t) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	keys := make([]string, 0, len(t))
	for key := range t {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "{{"+key+"}}", t[key])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// ReplaceTokens 就地替换文件中的占位符，返回文件是否被改写。
func ReplaceTokens(path string, tokens Tokens) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, builderr.Filesystem("read", path, err)
	}
	updated := tokens.Apply(string(data))
	if updated == string(data) {
		return false, nil
	}
	if err := writeFile(path, []byte(updated)); err != nil {
		return false, err
	}
	return true, nil
}

// SetKeyValue 把 path 中所有 key=... 行改为 key=value。文件不存在时跳过并返回 false。
func SetKeyValue(path, key, value string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, builderr.Filesystem("read", path, err)
	}

	var out bytes.Buffer
	changed := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if name, _, ok := strings.Cut(trimmed, "="); ok && strings.TrimSpace(name) == key {
			indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			replacement := indent + key + "=" + value
			if replacement != line {
				changed = true
			}
			line = replacement
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return false, builderr.Filesystem("scan", path, err)
	}
	if !changed {
		return false, nil
	}
	if err := writeFile(path, out.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}

// RewriteQuestBook 解析任务书 JSON，对所有字符串值替换占位符并去掉行尾空白，
// 然后以两空格缩进写回。文件不存在时跳过并返回 false。
func RewriteQuestBook(path string, tokens Tokens) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, builderr.Filesystem("read", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return false, fmt.Errorf("parse quest book %s: %w", path, err)
	}
	doc = rewriteStrings(doc, tokens)

	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return false, fmt.Errorf("encode quest book %s: %w", path, err)
	}
	if bytes.Equal(out.Bytes(), data) {
		return false, nil
	}
	if err := writeFile(path, out.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}

func rewriteStrings(value interface{}, tokens Tokens) interface{} {
	switch v := value.(type) {
	case string:
		return trimLines(tokens.Apply(v))
	case []interface{}:
		for i := range v {
			v[i] = rewriteStrings(v[i], tokens)
		}
		return v
	case map[string]interface{}:
		for key, item := range v {
			v[key] = rewriteStrings(item, tokens)
		}
		return v
	default:
		return value
	}
}

func trimLines(s string) string {
	if !strings.ContainsAny(s, " \t\r") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}

// ChangelogInput 描述生成 CHANGELOG.md 所需的信息。
type ChangelogInput struct {
	Name       string
	Version    string
	SourcePath string
	Date       time.Time
}

// WriteChangelog 写入带版本标题的 changelog；存在 SourcePath 时附加其正文。
func WriteChangelog(dest string, in ChangelogInput) error {
	var body []byte
	if in.SourcePath != "" {
		data, err := os.ReadFile(in.SourcePath)
		switch {
		case err == nil:
			body = bytes.TrimSpace(data)
		case !errors.Is(err, fs.ErrNotExist):
			return builderr.Filesystem("read", in.SourcePath, err)
		}
	}

	date := in.Date
	if date.IsZero() {
		date = time.Now()
	}
	title := strings.TrimSpace(in.Name + " " + in.Version)
	if title == "" {
		title = "Changelog"
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "# %s\n\n_Built %s_\n", title, date.UTC().Format("2006-01-02"))
	if len(body) > 0 {
		out.WriteByte('\n')
		out.Write(body)
		out.WriteByte('\n')
	} else {
		out.WriteString("\nNo changes recorded.\n")
	}
	return writeFile(dest, out.Bytes())
}

func writeFile(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return builderr.Filesystem("mkdir", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return builderr.Filesystem("write", path, err)
	}
	return nil
}
