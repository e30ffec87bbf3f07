package server

import (
	"testing"
	"time"

	"github.com/packsmith/packsmith/internal/config"
)

func TestNewDownloadClientUsesConfigTimeout(t *testing.T) {
	client := NewDownloadClient(config.GlobalConfig{DownloadTimeout: config.Duration(45 * time.Second)})
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewDownloadClientDefaultsTimeout(t *testing.T) {
	client := NewDownloadClient(config.GlobalConfig{})
	if client.Timeout != defaultDownloadTimeout {
		t.Fatalf("expected default timeout, got %s", client.Timeout)
	}
	if client.Transport == defaultTransport {
		t.Fatalf("each client should get its own transport clone")
	}
}
