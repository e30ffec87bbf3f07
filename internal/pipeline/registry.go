package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry 按名称保存可执行的流水线，名称不区分大小写。
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]Pipeline
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]Pipeline)}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register 加入流水线，重复名称或空阶段列表会返回错误。
func (r *Registry) Register(p Pipeline) error {
	name := normalizeName(p.Name)
	if name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", name)
	}
	seen := make(map[string]struct{}, len(p.Stages))
	for i, stage := range p.Stages {
		if stage == nil || stage.Name() == "" {
			return fmt.Errorf("pipeline %s: stage %d has no name", name, i)
		}
		if _, dup := seen[stage.Name()]; dup {
			return fmt.Errorf("pipeline %s: stage %s listed twice", name, stage.Name())
		}
		seen[stage.Name()] = struct{}{}
	}
	p.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pipelines[name]; exists {
		return fmt.Errorf("pipeline %s already registered", name)
	}
	r.pipelines[name] = p
	return nil
}

// MustRegister 在注册失败时 panic，适合启动装配阶段调用。
func (r *Registry) MustRegister(p Pipeline) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Resolve 返回指定名称的流水线。
func (r *Registry) Resolve(name string) (Pipeline, bool) {
	if name == "" {
		return Pipeline{}, false
	}
	normalized := normalizeName(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pipelines[normalized]
	return p, ok
}

// List 返回按名称排序的流水线列表。
func (r *Registry) List() []Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.pipelines) == 0 {
		return nil
	}

	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]Pipeline, 0, len(names))
	for _, name := range names {
		result = append(result, r.pipelines[name])
	}
	return result
}

// Names 返回所有已注册流水线的名称，供 -list 与诊断使用。
func (r *Registry) Names() []string {
	items := r.List()
	result := make([]string, len(items))
	for i, p := range items {
		result[i] = p.Name
	}
	return result
}
