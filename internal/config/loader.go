package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPath 是未指定 -config 且未设置 PACKSMITH_CONFIG 时使用的配置文件。
const DefaultPath = "packsmith.toml"

// Load 读取并解析 TOML 配置文件，注入默认值、环境变量开关与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Global.SkipChangelog = IsTruthy(v.GetString("SkipChangelog"))

	applyGlobalDefaults(&cfg.Global)

	configDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("无法解析配置目录: %w", err)
	}
	resolvePaths(&cfg.Global, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("RootDir", ".")
	v.SetDefault("DestDir", "build/shared")
	v.SetDefault("TempDir", "build/temp")
	v.SetDefault("CacheDir", ".cache/packsmith")
	v.SetDefault("ManifestPath", "manifest.json")
	v.SetDefault("OverridesFolder", "overrides")
	v.SetDefault("CopyOverrideGlobs", []string{"config/**", "scripts/**", "resources/**"})
	v.SetDefault("PackModeSwitcherGlobs", []string{"pack-mode-switcher.*"})
	v.SetDefault("BuildFileGlobs", []string{})
	v.SetDefault("LabsVersionKey", "version")
	v.SetDefault("QuestBookPath", "config/betterquesting/DefaultQuests.json")
	v.SetDefault("ChangelogPath", "CHANGELOG.md")
	v.SetDefault("LinkMode", string(LinkModeSymlink))
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "1s")
	v.SetDefault("DownloadTimeout", "60s")
	v.SetDefault("PipelineTimeout", "30m")
	v.SetDefault("FetchConcurrency", 8)
	v.SetDefault("ListenPort", 5000)
}

// bindEnv 绑定构建脚本传统上使用的环境变量。
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"SkipChangelog": "SKIP_CHANGELOG",
		"Version":       "BUILD_VERSION",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.LinkMode == "" {
		g.LinkMode = LinkModeSymlink
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(time.Second)
	}
	if g.DownloadTimeout.DurationValue() == 0 {
		g.DownloadTimeout = Duration(60 * time.Second)
	}
	if g.PipelineTimeout.DurationValue() == 0 {
		g.PipelineTimeout = Duration(30 * time.Minute)
	}
	if g.FetchConcurrency == 0 {
		g.FetchConcurrency = 8
	}
}

// resolvePaths 将 RootDir 解析为相对配置文件目录的绝对路径，其它目录相对 RootDir。
func resolvePaths(g *GlobalConfig, configDir string) {
	g.RootDir = absUnder(configDir, g.RootDir)
	g.DestDir = absUnder(g.RootDir, g.DestDir)
	g.TempDir = absUnder(g.RootDir, g.TempDir)
	g.CacheDir = absUnder(g.RootDir, g.CacheDir)
	g.ManifestPath = absUnder(g.RootDir, g.ManifestPath)
	if g.ChangelogPath != "" {
		g.ChangelogPath = absUnder(g.RootDir, g.ChangelogPath)
	}
	if g.LogFilePath != "" {
		g.LogFilePath = absUnder(g.RootDir, g.LogFilePath)
	}
}

func absUnder(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
