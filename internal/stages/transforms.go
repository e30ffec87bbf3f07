package stages

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/packsmith/packsmith/internal/builderr"
	"github.com/packsmith/packsmith/internal/buildfs"
	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/pipeline"
	"github.com/packsmith/packsmith/internal/transform"
)

func tokensFor(bc pipeline.BuildContext) transform.Tokens {
	return transform.Tokens{
		"version": bc.Version,
		"name":    bc.Manifest.Name(),
	}
}

func updateBuildFilesStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageUpdateBuildFiles, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		files, err := buildfs.Match(deps.overridesDir(), deps.Config.BuildFileGlobs)
		if err != nil {
			return bc, err
		}
		tokens := tokensFor(bc)
		updated := 0
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return bc, err
			}
			changed, err := transform.ReplaceTokens(file, tokens)
			if err != nil {
				return bc, err
			}
			if changed {
				updated++
			}
		}
		deps.logger().WithField("stage", StageUpdateBuildFiles).WithField("run_id", bc.RunID).
			WithField("files", updated).Debug("build files updated")
		return bc, nil
	}}
}

func updateLabsVersionStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageUpdateLabsVersion, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		if deps.Config.LabsVersionFile == "" {
			return bc, nil
		}
		path := filepath.Join(deps.overridesDir(), deps.Config.LabsVersionFile)
		changed, err := transform.SetKeyValue(path, deps.Config.LabsVersionKey, bc.Version)
		if err != nil {
			return bc, err
		}
		if !changed {
			deps.logger().WithField("stage", StageUpdateLabsVersion).WithField("path", path).
				Debug("labs version file unchanged or missing")
		}
		return bc, nil
	}}
}

// transformVersionStage 写出带版本号的 manifest。依赖字段必须已被 fetch-dependencies 消费。
func transformVersionStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageTransformVersion, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		if bc.Manifest.Has(manifest.DependenciesField) {
			return bc, &builderr.ManifestShapeError{
				Field:  manifest.DependenciesField,
				Reason: fmt.Sprintf("must be consumed by %s before the manifest is written", StageFetchDependencies),
			}
		}
		bc.Manifest = bc.Manifest.WithVersion(bc.Version)
		if err := manifest.Save(filepath.Join(deps.Config.DestDir, outputManifestName), bc.Manifest); err != nil {
			return bc, err
		}
		return bc, nil
	}}
}

func transformQuestBookStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageTransformQuestBook, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		if deps.Config.QuestBookPath == "" {
			return bc, nil
		}
		path := filepath.Join(deps.overridesDir(), deps.Config.QuestBookPath)
		if _, err := transform.RewriteQuestBook(path, tokensFor(bc)); err != nil {
			return bc, err
		}
		return bc, nil
	}}
}

func changelogStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageChangelog, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		if deps.Config.SkipChangelog {
			deps.logger().WithField("stage", StageChangelog).WithField("run_id", bc.RunID).
				Info("changelog skipped")
			return bc, nil
		}
		err := transform.WriteChangelog(filepath.Join(deps.Config.DestDir, outputChangelogName), transform.ChangelogInput{
			Name:       bc.Manifest.Name(),
			Version:    bc.Version,
			SourcePath: deps.Config.ChangelogPath,
		})
		return bc, err
	}}
}
