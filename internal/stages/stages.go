// Package stages defines the concrete build stages and registers the named
// pipelines built from them.
package stages

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/packsmith/packsmith/internal/buildfs"
	"github.com/packsmith/packsmith/internal/cache"
	"github.com/packsmith/packsmith/internal/config"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/pipeline"
)

// 阶段名称。
const (
	StageCleanUp               = "clean-up"
	StageCreateDirs            = "create-dirs"
	StageCopyOverrides         = "copy-overrides"
	StageCopyPackModeSwitchers = "copy-pack-mode-switchers"
	StageFetchDependencies     = "fetch-dependencies"
	StageUpdateBuildFiles      = "update-build-files"
	StageUpdateLabsVersion     = "update-labs-version"
	StageTransformVersion      = "transform-version"
	StageTransformQuestBook    = "transform-quest-book"
	StageChangelog             = "changelog"
)

// 流水线名称。
const (
	PipelineBuild = "build"
	PipelineTypo  = "typo"
)

const (
	modsDirName         = "mods"
	outputManifestName  = "manifest.json"
	outputChangelogName = "CHANGELOG.md"
	defaultVersion      = "dev"
)

// Deps 汇集阶段运行所需的协作者，进程内只构建一次。
type Deps struct {
	Config    config.GlobalConfig
	Logger    *logrus.Logger
	Cache     cache.Store
	Publisher *buildfs.Publisher
	Resolver  manifest.Resolver
}

func (d Deps) logger() *logrus.Logger {
	if d.Logger == nil {
		return logging.NewNopLogger()
	}
	return d.Logger
}

func (d Deps) resolver() manifest.Resolver {
	if d.Resolver == (manifest.Resolver{}) {
		return manifest.NewResolver("")
	}
	return d.Resolver
}

func (d Deps) overridesDir() string {
	return filepath.Join(d.Config.DestDir, d.Config.OverridesFolder)
}

// Register 把 build 与 typo 两条流水线注册到 reg，两者共享同一组阶段实例。
func Register(reg *pipeline.Registry, deps Deps) error {
	if reg == nil {
		return errors.New("registry required")
	}
	if deps.Cache == nil || deps.Publisher == nil {
		return errors.New("cache and publisher required")
	}

	cleanUp := cleanUpStage(deps)
	createDirs := createDirsStage(deps)
	copyOverrides := copyOverridesStage(deps)
	questBook := transformQuestBookStage(deps)

	build := pipeline.Pipeline{
		Name:   PipelineBuild,
		Logger: deps.Logger,
		Stages: []pipeline.Stage{
			cleanUp,
			createDirs,
			copyOverrides,
			copyPackModeSwitchersStage(deps),
			fetchDependenciesStage(deps),
			updateBuildFilesStage(deps),
			updateLabsVersionStage(deps),
			transformVersionStage(deps),
			questBook,
			changelogStage(deps),
		},
	}
	typo := pipeline.Pipeline{
		Name:   PipelineTypo,
		Logger: deps.Logger,
		Stages: []pipeline.Stage{cleanUp, createDirs, copyOverrides, questBook},
	}

	for _, p := range []pipeline.Pipeline{build, typo} {
		if err := reg.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// NewBuildContext 读取源 manifest 并确定版本号：配置/BUILD_VERSION 优先，
// 其次 manifest 自带的 version，最后为 dev。
func NewBuildContext(cfg config.GlobalConfig) (pipeline.BuildContext, error) {
	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		return pipeline.BuildContext{}, fmt.Errorf("load manifest: %w", err)
	}

	version := cfg.Version
	if version == "" {
		version = m.Version()
	}
	if version == "" {
		version = defaultVersion
	}

	return pipeline.BuildContext{
		RunID:    uuid.NewString(),
		Manifest: m,
		Version:  version,
	}, nil
}
