package server

import (
	"net"
	"net/http"
	"time"

	"github.com/packsmith/packsmith/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

const defaultDownloadTimeout = 60 * time.Second

// NewDownloadClient 返回依赖下载共用的 http.Client，单次下载受 DownloadTimeout 限制。
func NewDownloadClient(cfg config.GlobalConfig) *http.Client {
	timeout := defaultDownloadTimeout
	if cfg.DownloadTimeout.DurationValue() > 0 {
		timeout = cfg.DownloadTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}
