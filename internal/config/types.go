package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// LinkMode 决定依赖如何出现在构建目录中。
type LinkMode string

const (
	LinkModeSymlink LinkMode = "symlink"
	LinkModeCopy    LinkMode = "copy"
)

// GlobalConfig 描述一次构建所需的全部参数。
type GlobalConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	RootDir      string `mapstructure:"RootDir"`
	DestDir      string `mapstructure:"DestDir"`
	TempDir      string `mapstructure:"TempDir"`
	CacheDir     string `mapstructure:"CacheDir"`
	ManifestPath string `mapstructure:"ManifestPath"`

	OverridesFolder       string   `mapstructure:"OverridesFolder"`
	CopyOverrideGlobs     []string `mapstructure:"CopyOverrideGlobs"`
	PackModeSwitcherGlobs []string `mapstructure:"PackModeSwitcherGlobs"`
	BuildFileGlobs        []string `mapstructure:"BuildFileGlobs"`
	LabsVersionFile       string   `mapstructure:"LabsVersionFile"`
	LabsVersionKey        string   `mapstructure:"LabsVersionKey"`
	QuestBookPath         string   `mapstructure:"QuestBookPath"`
	ChangelogPath         string   `mapstructure:"ChangelogPath"`

	Version       string `mapstructure:"Version"`
	SkipChangelog bool   `mapstructure:"-"`

	LinkMode         LinkMode `mapstructure:"LinkMode"`
	MaxRetries       int      `mapstructure:"MaxRetries"`
	InitialBackoff   Duration `mapstructure:"InitialBackoff"`
	DownloadTimeout  Duration `mapstructure:"DownloadTimeout"`
	PipelineTimeout  Duration `mapstructure:"PipelineTimeout"`
	FetchConcurrency int      `mapstructure:"FetchConcurrency"`
	Mirrors          []string `mapstructure:"Mirrors"`

	ListenPort int `mapstructure:"ListenPort"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// IsTruthy 判断环境变量风格的布尔值：1/true/yes/on（不区分大小写）为真。
func IsTruthy(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
