package cache

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/packsmith/packsmith/internal/builderr"
)

// Fetcher 把 url 对应的内容写入 dst，返回写入的字节数。
// 网络错误需返回 *builderr.NetworkError，dst 的写入错误原样返回。
type Fetcher interface {
	Fetch(ctx context.Context, url string, dst io.Writer) (int64, error)
}

// HTTPFetcher 基于共享 http.Client 下载，单次下载超时由 client.Timeout 控制。
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher 使用给定 client 构造下载器，client 为空时使用 http.DefaultClient。
func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, &builderr.NetworkError{URL: url, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, &builderr.NetworkError{URL: url, Err: err, Temporary: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &builderr.NetworkError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Temporary:  isRetryableStatus(resp.StatusCode),
		}
	}

	written, err := copyWithContext(ctx, dst, resp.Body)
	if err != nil {
		if errors.Is(err, builderr.ErrFilesystem) {
			return written, err
		}
		return written, &builderr.NetworkError{URL: url, Err: err, Temporary: ctx.Err() == nil}
	}
	return written, nil
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
