package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// maxRetriesLimit 限制单个来源的额外重试次数。
const maxRetriesLimit = 10

// Validate 针对语义级别做进一步校验，防止非法配置清空源目录或缓存。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	required := map[string]string{
		"RootDir":      g.RootDir,
		"DestDir":      g.DestDir,
		"TempDir":      g.TempDir,
		"CacheDir":     g.CacheDir,
		"ManifestPath": g.ManifestPath,
	}
	for _, field := range []string{"RootDir", "DestDir", "TempDir", "CacheDir", "ManifestPath"} {
		if strings.TrimSpace(required[field]) == "" {
			return newFieldError("Global."+field, "不能为空")
		}
	}

	// clean-up 会删除 DestDir/* 与 TempDir/*，二者不能覆盖源目录或缓存目录
	for _, field := range []string{"DestDir", "TempDir"} {
		dir := required[field]
		if isWithin(dir, g.RootDir) {
			return newFieldError("Global."+field, "不能等于或包含 RootDir")
		}
		if isWithin(dir, g.CacheDir) {
			return newFieldError("Global."+field, "不能等于或包含 CacheDir")
		}
	}

	if err := validateRelative(g.OverridesFolder); err != nil {
		return fmt.Errorf("Global.OverridesFolder: %w", err)
	}
	if g.LabsVersionFile != "" {
		if err := validateRelative(g.LabsVersionFile); err != nil {
			return fmt.Errorf("Global.LabsVersionFile: %w", err)
		}
	}
	if g.QuestBookPath != "" {
		if err := validateRelative(g.QuestBookPath); err != nil {
			return fmt.Errorf("Global.QuestBookPath: %w", err)
		}
	}

	globSets := map[string][]string{
		"CopyOverrideGlobs":     g.CopyOverrideGlobs,
		"PackModeSwitcherGlobs": g.PackModeSwitcherGlobs,
		"BuildFileGlobs":        g.BuildFileGlobs,
	}
	for _, field := range []string{"CopyOverrideGlobs", "PackModeSwitcherGlobs", "BuildFileGlobs"} {
		for i, pattern := range globSets[field] {
			if !doublestar.ValidatePattern(pattern) {
				return newFieldError(fmt.Sprintf("Global.%s[%d]", field, i), "非法的 glob: "+pattern)
			}
		}
	}

	switch g.LinkMode {
	case LinkModeSymlink, LinkModeCopy:
	default:
		return newFieldError("Global.LinkMode", "仅支持 symlink/copy")
	}
	if g.MaxRetries < 0 || g.MaxRetries > maxRetriesLimit {
		return newFieldError("Global.MaxRetries", fmt.Sprintf("必须在 0-%d", maxRetriesLimit))
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.DownloadTimeout.DurationValue() <= 0 {
		return newFieldError("Global.DownloadTimeout", "必须大于 0")
	}
	if g.PipelineTimeout.DurationValue() <= 0 {
		return newFieldError("Global.PipelineTimeout", "必须大于 0")
	}
	if g.FetchConcurrency < 1 || g.FetchConcurrency > 64 {
		return newFieldError("Global.FetchConcurrency", "必须在 1-64")
	}
	for i, mirror := range g.Mirrors {
		if err := validateMirror(mirror); err != nil {
			return fmt.Errorf("Global.Mirrors[%d]: %w", i, err)
		}
	}
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}

	return nil
}

// isWithin 判断 dir 是否等于 target 或是 target 的祖先目录。
func isWithin(dir, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func validateRelative(p string) error {
	if strings.TrimSpace(p) == "" {
		return errors.New("不能为空")
	}
	if filepath.IsAbs(p) {
		return errors.New("必须是相对路径")
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return errors.New("不能跳出输出目录")
	}
	return nil
}

func validateMirror(raw string) error {
	if raw == "" {
		return errors.New("缺少镜像地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，镜像: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("镜像缺少 Host: %s", raw)
	}
	return nil
}
