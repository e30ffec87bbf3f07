package stages

import (
	"context"
	"path/filepath"

	"github.com/packsmith/packsmith/internal/buildfs"
	"github.com/packsmith/packsmith/internal/pipeline"
)

func cleanUpStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageCleanUp, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		for _, dir := range []string{deps.Config.DestDir, deps.Config.TempDir} {
			if err := buildfs.Clean(dir, "*"); err != nil {
				return bc, err
			}
		}
		return bc, nil
	}}
}

func createDirsStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageCreateDirs, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		dirs := []string{
			deps.Config.DestDir,
			deps.Config.TempDir,
			filepath.Join(deps.Config.DestDir, modsDirName),
			deps.overridesDir(),
		}
		for _, dir := range dirs {
			if err := buildfs.EnsureDir(dir); err != nil {
				return bc, err
			}
		}
		return bc, nil
	}}
}

func copyOverridesStage(deps Deps) pipeline.Stage {
	return copyStage(deps, StageCopyOverrides, deps.Config.CopyOverrideGlobs)
}

func copyPackModeSwitchersStage(deps Deps) pipeline.Stage {
	return copyStage(deps, StageCopyPackModeSwitchers, deps.Config.PackModeSwitcherGlobs)
}

func copyStage(deps Deps, name string, globs []string) pipeline.Stage {
	return pipeline.StageFunc{StageName: name, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		copied, err := buildfs.CopyGlobs(deps.Config.RootDir, globs, deps.overridesDir())
		if err != nil {
			return bc, err
		}
		deps.logger().WithField("stage", name).WithField("run_id", bc.RunID).
			WithField("files", copied).Debug("static files copied")
		return bc, nil
	}}
}
