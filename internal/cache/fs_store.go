package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/packsmith/packsmith/internal/builderr"
	"github.com/packsmith/packsmith/internal/logging"
)

const tempDirName = "tmp"

// ContentCache 是 Store 的磁盘实现，整个构建进程复用一份实例。
type ContentCache struct {
	basePath string
	tempDir  string
	fetcher  Fetcher
	opts     Options
	logger   *logrus.Logger

	flights singleflight.Group
}

var _ Store = (*ContentCache)(nil)

// NewContentCache 以 basePath 为根目录构建内容寻址缓存。
func NewContentCache(basePath string, fetcher Fetcher, opts Options) (*ContentCache, error) {
	if basePath == "" {
		return nil, errors.New("cache path required")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}

	tempDir := filepath.Join(abs, tempDirName)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, builderr.Filesystem("create cache path", tempDir, err)
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ContentCache{
		basePath: abs,
		tempDir:  tempDir,
		fetcher:  fetcher,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Dir 返回缓存根目录的绝对路径。
func (c *ContentCache) Dir() string {
	return c.basePath
}

// Resolve 命中时直接返回本地路径；否则下载、校验并移动到内容地址。
// 相同主摘要的并发调用只会触发一次下载，所有调用方得到相同的 Path。
// 共享下载不随单个调用方取消，但保留第一个调用方的截止时间。
func (c *ContentCache) Resolve(ctx context.Context, def FileDef) (*Entry, error) {
	normalized, err := def.normalize()
	if err != nil {
		return nil, err
	}

	if entry, err := c.lookupVerified(normalized); err == nil {
		c.logger.WithFields(logging.FetchFields(normalized.URL, entry.Algorithm, entry.Digest, true)).
			Debug("cache hit")
		return entry, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	ch := c.flights.DoChan(normalized.flightKey(), func() (interface{}, error) {
		// 上一轮 flight 可能刚刚写入
		entry, err := c.lookupVerified(normalized)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		flightCtx, cancel := detachedContext(ctx)
		defer cancel()
		return c.download(flightCtx, normalized)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entry := *res.Val.(*Entry)
		return &entry, nil
	}
}

// Lookup 根据算法与摘要查询本地条目。
func (c *ContentCache) Lookup(algo, digest string) (*Entry, error) {
	normalizedAlgo, err := normalizeAlgorithm(algo)
	if err != nil {
		return nil, err
	}
	normalizedDigest, err := normalizeDigest(normalizedAlgo, digest)
	if err != nil {
		return nil, err
	}

	filePath := c.entryPath(normalizedAlgo, normalizedDigest)
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, builderr.Filesystem("stat", filePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, ErrNotFound
	}

	return &Entry{
		Algorithm: normalizedAlgo,
		Digest:    normalizedDigest,
		Path:      filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

// Open 返回条目及其正文 Reader，调用方负责关闭。
func (c *ContentCache) Open(ctx context.Context, algo, digest string) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry, err := c.Lookup(algo, digest)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, builderr.Filesystem("open", entry.Path, err)
	}

	return &ReadResult{Entry: *entry, Reader: f}, nil
}

// lookupVerified 按主摘要查找条目。声明了多个算法时，命中的文件还要通过其余约束的校验。
func (c *ContentCache) lookupVerified(def FileDef) (*Entry, error) {
	primary := def.Hashes[0]
	for _, digest := range primary.Hashes {
		entry, err := c.Lookup(primary.ID, digest)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(def.Hashes) > 1 {
			if err := verifyFile(entry.Path, def); err != nil {
				return nil, err
			}
		}
		return entry, nil
	}
	return nil, ErrNotFound
}

// detachedContext 去掉 ctx 的取消信号，仅保留截止时间。
func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

// download 依次尝试镜像与原始 URL。镜像失败（包括校验失败）会回退到下一个来源，
// 文件系统错误与 ctx 取消立即返回。
func (c *ContentCache) download(ctx context.Context, def FileDef) (*Entry, error) {
	sources := c.sources(def)

	var lastErr error
	for i, source := range sources {
		entry, err := c.fetchVerified(ctx, def, source)
		if err == nil {
			return entry, nil
		}
		lastErr = err
		if errors.Is(err, builderr.ErrFilesystem) || ctx.Err() != nil || i == len(sources)-1 {
			break
		}
		c.logger.WithFields(logging.FetchFields(source, def.Hashes[0].ID, "", false)).
			WithError(err).
			Warn("mirror fetch failed, falling back")
	}
	return nil, lastErr
}

func (c *ContentCache) sources(def FileDef) []string {
	primary := def.Hashes[0]
	sources := make([]string, 0, len(c.opts.Mirrors)+1)
	for _, mirror := range c.opts.Mirrors {
		base := strings.TrimRight(strings.TrimSpace(mirror), "/")
		if base == "" {
			continue
		}
		for _, digest := range primary.Hashes {
			sources = append(sources, fmt.Sprintf("%s/cas/%s/%s", base, primary.ID, digest))
		}
	}
	return append(sources, def.URL)
}

func (c *ContentCache) fetchVerified(ctx context.Context, def FileDef, source string) (*Entry, error) {
	var entry *Entry
	err := retryWithBackoff(ctx, c.opts.MaxRetries+1, c.opts.InitialBackoff, func(attempt int) (bool, error) {
		fields := logging.FetchFields(source, def.Hashes[0].ID, "", false)
		fields["attempt"] = attempt + 1

		pending, err := newPendingEntry(c.tempDir, def)
		if err != nil {
			return false, err
		}

		written, err := c.fetcher.Fetch(ctx, source, pending)
		if err != nil {
			pending.discard()
			retry := isTemporary(err)
			c.logger.WithFields(fields).WithError(err).Warn("fetch failed")
			return retry, err
		}

		digest, err := pending.verify(def, source)
		if err != nil {
			pending.discard()
			c.logger.WithFields(fields).WithError(err).Error("verification failed, temp file discarded")
			return false, err
		}

		target := c.entryPath(def.Hashes[0].ID, digest)
		if err := pending.commit(target); err != nil {
			return false, err
		}

		now := time.Now()
		entry = &Entry{
			Algorithm: def.Hashes[0].ID,
			Digest:    digest,
			Path:      target,
			SizeBytes: written,
			ModTime:   now,
			Fetched:   true,
			Source:    source,
		}
		fields["digest"] = digest
		fields["size_bytes"] = written
		c.logger.WithFields(fields).Info("artifact cached")
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *ContentCache) entryPath(algo, digest string) string {
	return filepath.Join(c.basePath, algo, digest[:2], digest)
}
