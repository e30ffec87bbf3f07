// Package pipeline runs named, ordered sequences of build stages.
//
// Stages receive the BuildContext by value and return the context for the next
// stage, so the only state shared between stages is what they hand on
// explicitly. A pipeline stops at the first failing stage and reports it as a
// StageError naming that stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/manifest"
)

// BuildContext 在阶段之间按值传递。
type BuildContext struct {
	RunID    string
	Manifest manifest.Manifest
	Version  string
	// Published 记录已发布到构建目录的依赖路径。
	Published []string
}

// WithPublished 返回追加了 paths 的副本，不与调用方共享底层数组。
func (bc BuildContext) WithPublished(paths ...string) BuildContext {
	next := slices.Clip(slices.Clone(bc.Published))
	bc.Published = append(next, paths...)
	return bc
}

// Stage 是流水线中的一个步骤。
type Stage interface {
	Name() string
	Run(ctx context.Context, bc BuildContext) (BuildContext, error)
}

// StageFunc 把普通函数适配为 Stage。
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context, bc BuildContext) (BuildContext, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context, bc BuildContext) (BuildContext, error) {
	return s.Fn(ctx, bc)
}

// Pipeline 是具名、有序的阶段列表。
type Pipeline struct {
	Name   string
	Stages []Stage
	Logger *logrus.Logger
}

// StageNames 返回按执行顺序排列的阶段名称。
func (p Pipeline) StageNames() []string {
	names := make([]string, len(p.Stages))
	for i, stage := range p.Stages {
		names[i] = stage.Name()
	}
	return names
}

// Run 依次执行各阶段，遇到第一个失败立即停止，后续阶段不会启动。
// 阶段开始前 ctx 已取消时，该阶段以 ctx 错误失败。
func (p Pipeline) Run(ctx context.Context, bc BuildContext) (BuildContext, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	started := time.Now()
	for i, stage := range p.Stages {
		fields := logging.StageFields(p.Name, stage.Name(), bc.RunID)
		fields["index"] = i

		if err := ctx.Err(); err != nil {
			return bc, p.fail(logger, fields, i, stage, err)
		}

		stageStart := time.Now()
		next, err := stage.Run(ctx, bc)
		fields["elapsed_ms"] = time.Since(stageStart).Milliseconds()
		if err != nil {
			return bc, p.fail(logger, fields, i, stage, err)
		}
		bc = next
		logger.WithFields(fields).Info("stage finished")
	}

	logger.WithFields(logging.StageFields(p.Name, "", bc.RunID)).
		WithField("elapsed_ms", time.Since(started).Milliseconds()).
		Info("pipeline finished")
	return bc, nil
}

func (p Pipeline) fail(logger *logrus.Logger, fields logrus.Fields, index int, stage Stage, cause error) error {
	logger.WithFields(fields).WithError(cause).Error("stage failed")
	return &StageError{Pipeline: p.Name, Stage: stage.Name(), Index: index, Cause: cause}
}

// StageError 标识失败的阶段，Unwrap 返回原始错误。
type StageError struct {
	Pipeline string
	Stage    string
	Index    int
	Cause    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline %q: stage %q failed: %v", e.Pipeline, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// FailedStage 返回 err 链中失败阶段的名称。
func FailedStage(err error) (string, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}
