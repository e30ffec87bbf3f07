package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv("SKIP_CHANGELOG", "")
	t.Setenv("BUILD_VERSION", "")
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	g := cfg.Global
	if !filepath.IsAbs(g.RootDir) || !filepath.IsAbs(g.DestDir) || !filepath.IsAbs(g.CacheDir) {
		t.Fatalf("目录应解析为绝对路径: %+v", g)
	}
	if g.DestDir != filepath.Join(g.RootDir, "build", "shared") {
		t.Fatalf("DestDir 应相对 RootDir 解析，得到 %s", g.DestDir)
	}
	if g.InitialBackoff.DurationValue() != 500*time.Millisecond {
		t.Fatalf("InitialBackoff 解析错误: %s", g.InitialBackoff.DurationValue())
	}
	if g.DownloadTimeout.DurationValue() != 45*time.Second {
		t.Fatalf("整数秒应被解析: %s", g.DownloadTimeout.DurationValue())
	}
	if g.PipelineTimeout.DurationValue() != 30*time.Minute {
		t.Fatalf("PipelineTimeout 应使用默认值")
	}
	if g.LinkMode != LinkModeSymlink {
		t.Fatalf("LinkMode 默认应为 symlink")
	}
	if len(g.CopyOverrideGlobs) != 2 || g.OverridesFolder != "overrides" {
		t.Fatalf("glob 与 overrides 目录解析错误: %+v", g)
	}
	if g.SkipChangelog {
		t.Fatalf("未设置 SKIP_CHANGELOG 时不应跳过")
	}
}

func TestLoadReadsEnvToggles(t *testing.T) {
	t.Setenv("SKIP_CHANGELOG", "Yes")
	t.Setenv("BUILD_VERSION", "2.1.0")

	cfg, err := Load(testConfigPath(t, "valid.toml"))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if !cfg.Global.SkipChangelog {
		t.Fatalf("SKIP_CHANGELOG=Yes 应生效")
	}
	if cfg.Global.Version != "2.1.0" {
		t.Fatalf("BUILD_VERSION 应覆盖版本，得到 %q", cfg.Global.Version)
	}
}

func TestValidateRejectsDestOverRoot(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("DestDir 与 RootDir 相同应返回错误")
	}

	cfg := validConfig()
	cfg.Global.CacheDir = filepath.Join(cfg.Global.DestDir, "cache")
	var fieldErr FieldError
	if err := cfg.Validate(); !errors.As(err, &fieldErr) || fieldErr.Field != "Global.DestDir" {
		t.Fatalf("缓存位于 DestDir 内应报错，得到 %v", err)
	}
}

func TestValidateFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*GlobalConfig)
	}{
		{"bad link mode", func(g *GlobalConfig) { g.LinkMode = "hardlink" }},
		{"negative retries", func(g *GlobalConfig) { g.MaxRetries = -1 }},
		{"too many retries", func(g *GlobalConfig) { g.MaxRetries = 64 }},
		{"zero concurrency", func(g *GlobalConfig) { g.FetchConcurrency = 0 }},
		{"bad glob", func(g *GlobalConfig) { g.CopyOverrideGlobs = []string{"config/[**"} }},
		{"escaping overrides", func(g *GlobalConfig) { g.OverridesFolder = "../outside" }},
		{"bad mirror", func(g *GlobalConfig) { g.Mirrors = []string{"ftp://mirror.local"} }},
		{"bad port", func(g *GlobalConfig) { g.ListenPort = 70000 }},
		{"absolute quest book", func(g *GlobalConfig) { g.QuestBookPath = "/etc/quests.json" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg.Global)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	path := writeTempConfig(t, `
LogLevel = "info"
InitialBackoff = "boom"
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestIsTruthy(t *testing.T) {
	for _, raw := range []string{"1", "true", "TRUE", " yes ", "on"} {
		if !IsTruthy(raw) {
			t.Fatalf("%q should be truthy", raw)
		}
	}
	for _, raw := range []string{"", "0", "false", "no", "off", "maybe"} {
		if IsTruthy(raw) {
			t.Fatalf("%q should be falsy", raw)
		}
	}
}

func validConfig() *Config {
	root := filepath.Join(string(filepath.Separator), "work", "pack")
	return &Config{
		Global: GlobalConfig{
			RootDir:          root,
			DestDir:          filepath.Join(root, "build", "shared"),
			TempDir:          filepath.Join(root, "build", "temp"),
			CacheDir:         filepath.Join(root, ".cache"),
			ManifestPath:     filepath.Join(root, "manifest.json"),
			OverridesFolder:  "overrides",
			LinkMode:         LinkModeSymlink,
			MaxRetries:       1,
			InitialBackoff:   Duration(time.Second),
			DownloadTimeout:  Duration(time.Second),
			PipelineTimeout:  Duration(time.Minute),
			FetchConcurrency: 4,
			ListenPort:       5000,
		},
	}
}
