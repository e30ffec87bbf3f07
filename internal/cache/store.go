package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Store 描述内容寻址缓存对外暴露的能力。磁盘布局遵循：
//
//	<CacheDir>/<algo>/<digest[0:2]>/<digest>    # 已校验的正文
//	<CacheDir>/tmp/.fetch-*                      # 下载中的临时文件
//
// 同一个摘要下永远只会存在一份内容。
type Store interface {
	// Resolve 返回 FileDef 对应的本地路径；未命中时下载并校验。
	Resolve(ctx context.Context, def FileDef) (*Entry, error)

	// Lookup 只查询本地，不存在时返回 ErrNotFound。
	Lookup(algo, digest string) (*Entry, error)

	// Open 返回可流式读取的缓存条目，供镜像服务使用。
	Open(ctx context.Context, algo, digest string) (*ReadResult, error)
}

// HashDef 声明某个摘要算法下可接受的摘要值。
type HashDef struct {
	ID     string   `json:"id"`
	Hashes []string `json:"hashes"`
}

// FileDef 是一次下载请求：来源 URL + 有序的摘要约束，第一个约束为主摘要。
type FileDef struct {
	URL    string    `json:"url"`
	Hashes []HashDef `json:"hashes"`
}

// Entry 表示缓存中的一个已校验条目。
type Entry struct {
	Algorithm string    `json:"algorithm"`
	Digest    string    `json:"digest"`
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
	// Fetched 为 true 表示该条目由本次 Resolve 触发的下载写入。
	Fetched bool `json:"fetched"`
	// Source 记录实际下载的地址（原始 URL 或镜像地址），命中缓存时为空。
	Source string `json:"source,omitempty"`
}

// ReadResult 组合 Entry 与正文 Reader。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// Options 控制下载重试、镜像与日志。
type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
	Mirrors        []string
	Logger         *logrus.Logger
}

var (
	// ErrNotFound 表示缓存中不存在该摘要。
	ErrNotFound = errors.New("cache entry not found")
	// ErrNoHashConstraint 表示 FileDef 没有任何摘要约束，无法信任下载结果。
	ErrNoHashConstraint = errors.New("file def declares no hash constraint")
	// ErrUnsupportedHash 表示摘要算法不受支持。
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
	// ErrInvalidDigest 表示摘要值不是合法的十六进制字符串。
	ErrInvalidDigest = errors.New("invalid digest")
)
