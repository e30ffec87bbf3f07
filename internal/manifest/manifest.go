// Package manifest models the modpack descriptor and the resolver that turns
// its transient externalDependencies field into cache fetch descriptors.
//
// Manifest is a value: every mutator returns a new Manifest and never touches
// the receiver, so a stage can hand the result to the next stage without any
// earlier holder observing the change.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/packsmith/packsmith/internal/builderr"
)

// DependenciesField 是一次性消费的依赖列表字段。
const DependenciesField = "externalDependencies"

// Dependency 是 manifest 中声明的一个外部依赖。
type Dependency struct {
	URL string `json:"url"`
	SHA string `json:"sha"`
}

// Manifest 保留原始 JSON 字段，未识别的字段原样写回。
type Manifest struct {
	fields map[string]json.RawMessage
}

// Parse 从 JSON 字节构造 Manifest，顶层必须是对象。
func Parse(data []byte) (Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Manifest{}, &builderr.ManifestShapeError{Field: "$", Reason: err.Error()}
	}
	if fields == nil {
		return Manifest{}, &builderr.ManifestShapeError{Field: "$", Reason: "must be a JSON object"}
	}
	return Manifest{fields: fields}, nil
}

// Load 读取并解析 manifest 文件。
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, builderr.Filesystem("read manifest", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save 以缩进 JSON 写回 manifest，写入过程使用临时文件 + rename。
func Save(path string, m Manifest) error {
	data, err := m.MarshalIndent()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return builderr.Filesystem("mkdir", filepath.Dir(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*")
	if err != nil {
		return builderr.Filesystem("create temp file", filepath.Dir(path), err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return builderr.Filesystem("write", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return builderr.Filesystem("rename", path, err)
	}
	return nil
}

// MarshalJSON 实现 json.Marshaler，字段按键名排序输出。
func (m Manifest) MarshalJSON() ([]byte, error) {
	if m.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.fields)
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (m *Manifest) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalIndent 返回两空格缩进、以换行结尾的 JSON。
func (m Manifest) MarshalIndent() ([]byte, error) {
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Has 判断顶层字段是否存在。
func (m Manifest) Has(field string) bool {
	_, ok := m.fields[field]
	return ok
}

// Name 返回 name 字段，缺失或类型不符时为空。
func (m Manifest) Name() string {
	return m.stringField("name")
}

// Version 返回 version 字段，缺失或类型不符时为空。
func (m Manifest) Version() string {
	return m.stringField("version")
}

// WithVersion 返回 version 字段被替换后的副本。
func (m Manifest) WithVersion(version string) Manifest {
	raw, _ := json.Marshal(version)
	return m.with("version", raw)
}

// Dependencies 返回依赖列表；字段缺失时 present 为 false 且不是错误。
func (m Manifest) Dependencies() (deps []Dependency, present bool, err error) {
	raw, ok := m.fields[DependenciesField]
	if !ok {
		return nil, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, true, &builderr.ManifestShapeError{Field: DependenciesField, Reason: "must be an array"}
	}

	deps = make([]Dependency, 0, len(items))
	for i, item := range items {
		var dep Dependency
		if err := json.Unmarshal(item, &dep); err != nil {
			return nil, true, &builderr.ManifestShapeError{
				Field:  fmt.Sprintf("%s[%d]", DependenciesField, i),
				Reason: "must be an object with string url and sha",
			}
		}
		deps = append(deps, dep)
	}
	return deps, true, nil
}

// WithoutDependencies 返回删除了依赖字段的副本。
func (m Manifest) WithoutDependencies() Manifest {
	if !m.Has(DependenciesField) {
		return m
	}
	out := m.clone()
	delete(out.fields, DependenciesField)
	return out
}

func (m Manifest) stringField(name string) string {
	raw, ok := m.fields[name]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

func (m Manifest) with(field string, raw json.RawMessage) Manifest {
	out := m.clone()
	out.fields[field] = raw
	return out
}

func (m Manifest) clone() Manifest {
	fields := make(map[string]json.RawMessage, len(m.fields)+1)
	for key, value := range m.fields {
		fields[key] = value
	}
	return Manifest{fields: fields}
}
