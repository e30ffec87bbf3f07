package manifest

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/packsmith/packsmith/internal/builderr"
	"github.com/packsmith/packsmith/internal/cache"
)

// DefaultDependencyHash 是 manifest 中 sha 字段对应的摘要算法。
const DefaultDependencyHash = "sha1"

// Resolver 把 manifest 依赖映射为缓存下载描述。
type Resolver struct {
	algorithm string
}

// NewResolver 创建 Resolver，algo 为空时使用 sha1。
func NewResolver(algo string) Resolver {
	if strings.TrimSpace(algo) == "" {
		algo = DefaultDependencyHash
	}
	return Resolver{algorithm: algo}
}

// Resolve 为每个依赖生成一个 FileDef，并返回删除了依赖字段的 manifest。
// 字段缺失时返回空列表与原 manifest；对返回的 manifest 再次调用不会产生任何工作。
// 传入的 manifest 不会被修改。
func (r Resolver) Resolve(m Manifest) ([]cache.FileDef, Manifest, error) {
	deps, present, err := m.Dependencies()
	if err != nil {
		return nil, m, err
	}
	if !present {
		return []cache.FileDef{}, m, nil
	}

	defs := make([]cache.FileDef, 0, len(deps))
	for i, dep := range deps {
		if err := validateDependency(i, dep); err != nil {
			return nil, m, err
		}
		defs = append(defs, cache.FileDef{
			URL: dep.URL,
			Hashes: []cache.HashDef{{
				ID:     r.algorithm,
				Hashes: []string{dep.SHA},
			}},
		})
	}
	return defs, m.WithoutDependencies(), nil
}

func validateDependency(index int, dep Dependency) error {
	field := fmt.Sprintf("%s[%d]", DependenciesField, index)
	if strings.TrimSpace(dep.URL) == "" {
		return &builderr.ManifestShapeError{Field: field + ".url", Reason: "required"}
	}
	if strings.TrimSpace(dep.SHA) == "" {
		return &builderr.ManifestShapeError{Field: field + ".sha", Reason: "required"}
	}
	parsed, err := url.Parse(dep.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return &builderr.ManifestShapeError{Field: field + ".url", Reason: "must be an absolute http(s) URL"}
	}
	// 长度由缓存按算法校验
	if _, err := hex.DecodeString(strings.TrimSpace(dep.SHA)); err != nil {
		return &builderr.ManifestShapeError{Field: field + ".sha", Reason: "must be a hex digest"}
	}
	return nil
}
