package stages

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/packsmith/packsmith/internal/builderr"
	"github.com/packsmith/packsmith/internal/cache"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/pipeline"
)

// fetchDependenciesStage 消费 manifest 中的依赖字段：并发下载（受 FetchConcurrency 限制），
// 校验后发布到 mods 目录。任一依赖失败会取消其余下载。
func fetchDependenciesStage(deps Deps) pipeline.Stage {
	return pipeline.StageFunc{StageName: StageFetchDependencies, Fn: func(ctx context.Context, bc pipeline.BuildContext) (pipeline.BuildContext, error) {
		defs, next, err := deps.resolver().Resolve(bc.Manifest)
		if err != nil {
			return bc, err
		}

		modsDir := filepath.Join(deps.Config.DestDir, modsDirName)
		targets, err := publishTargets(modsDir, defs)
		if err != nil {
			return bc, err
		}

		limit := deps.Config.FetchConcurrency
		if limit <= 0 {
			limit = 1
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)

		published := make([]string, 0, len(defs))
		results := make([]string, len(defs))
		for i, def := range defs {
			if targets[i] == "" {
				continue
			}
			g.Go(func() error {
				entry, err := deps.Cache.Resolve(gctx, def)
				if err != nil {
					return err
				}
				if err := deps.Publisher.Publish(targets[i], entry.Path); err != nil {
					return err
				}
				results[i] = targets[i]

				fields := logging.FetchFields(def.URL, entry.Algorithm, entry.Digest, !entry.Fetched)
				fields["run_id"] = bc.RunID
				fields["dest"] = targets[i]
				deps.logger().WithFields(fields).Info("dependency published")
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return bc, err
		}

		for _, dest := range results {
			if dest != "" {
				published = append(published, dest)
			}
		}
		bc = bc.WithPublished(published...)
		bc.Manifest = next
		return bc, nil
	}}
}

// publishTargets 为每个依赖计算 mods 目录下的目标路径。
// 两个不同 URL 映射到同一文件名时直接报冲突，避免并发发布互相覆盖；
// 重复声明的同一 URL 只发布一次，重复项的目标为空。
func publishTargets(modsDir string, defs []cache.FileDef) ([]string, error) {
	targets := make([]string, len(defs))
	owners := make(map[string]string, len(defs))
	for i, def := range defs {
		dest := filepath.Join(modsDir, artifactName(def.URL))
		if owner, ok := owners[dest]; ok && owner != def.URL {
			return nil, &builderr.ConflictError{Dest: dest, Existing: owner, Requested: def.URL}
		}
		if _, ok := owners[dest]; ok {
			continue
		}
		owners[dest] = def.URL
		targets[i] = dest
	}
	return targets, nil
}

// artifactName 取 URL 路径的最后一段作为文件名。
func artifactName(raw string) string {
	name := ""
	if parsed, err := url.Parse(raw); err == nil {
		name = path.Base(parsed.Path)
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
	}
	name = strings.TrimSpace(filepath.Base(filepath.FromSlash(name)))
	if name == "" || name == "." || name == "/" || name == ".." {
		return "artifact"
	}
	return name
}
