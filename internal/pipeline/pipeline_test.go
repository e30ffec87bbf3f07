package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/packsmith/packsmith/internal/builderr"
)

func recordingStage(name string, calls *[]string, err error) Stage {
	return StageFunc{StageName: name, Fn: func(ctx context.Context, bc BuildContext) (BuildContext, error) {
		*calls = append(*calls, name)
		if err != nil {
			return bc, err
		}
		return bc.WithPublished(name), nil
	}}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	var calls []string
	cause := &builderr.HashMismatchError{URL: "https://x/a.jar", Algorithm: "sha1", Expected: []string{"aa"}, Got: "bb"}
	p := Pipeline{Name: "build", Stages: []Stage{
		recordingStage("A", &calls, nil),
		recordingStage("B", &calls, cause),
		recordingStage("C", &calls, nil),
	}}

	_, err := p.Run(context.Background(), BuildContext{RunID: "r"})
	if !reflect.DeepEqual(calls, []string{"A", "B"}) {
		t.Fatalf("unexpected call order: %v", calls)
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %v", err)
	}
	if stageErr.Stage != "B" || stageErr.Index != 1 || stageErr.Pipeline != "build" {
		t.Fatalf("unexpected stage error: %+v", stageErr)
	}
	if !errors.Is(err, builderr.ErrHashMismatch) {
		t.Fatalf("cause should stay reachable through the stage error")
	}
	if name, ok := FailedStage(err); !ok || name != "B" {
		t.Fatalf("FailedStage = %q %v", name, ok)
	}
	if !strings.Contains(err.Error(), `stage "B"`) {
		t.Fatalf("message should name the stage: %v", err)
	}
}

func TestRunThreadsContextByValue(t *testing.T) {
	var calls []string
	p := Pipeline{Name: "typo", Stages: []Stage{
		recordingStage("one", &calls, nil),
		recordingStage("two", &calls, nil),
	}}

	input := BuildContext{RunID: "r", Published: []string{"seed"}}
	out, err := p.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(out.Published, []string{"seed", "one", "two"}) {
		t.Fatalf("unexpected published list: %v", out.Published)
	}
	if !reflect.DeepEqual(input.Published, []string{"seed"}) {
		t.Fatalf("caller's context must not change: %v", input.Published)
	}
}

func TestRunReportsCancellationAsStageError(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	p := Pipeline{Name: "build", Stages: []Stage{
		StageFunc{StageName: "first", Fn: func(ctx context.Context, bc BuildContext) (BuildContext, error) {
			calls = append(calls, "first")
			cancel()
			return bc, nil
		}},
		recordingStage("second", &calls, nil),
	}}

	_, err := p.Run(ctx, BuildContext{})
	if name, _ := FailedStage(err); name != "second" {
		t.Fatalf("cancellation should be attributed to the next stage, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"first"}) {
		t.Fatalf("second stage must not run: %v", calls)
	}
}

func TestRunLogsStageFields(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(buf)

	var calls []string
	p := Pipeline{Name: "build", Logger: logger, Stages: []Stage{recordingStage("clean-up", &calls, nil)}}
	if _, err := p.Run(context.Background(), BuildContext{RunID: "run-7"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	first := bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0]
	var record map[string]interface{}
	if err := json.Unmarshal(first, &record); err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if record["stage"] != "clean-up" || record["run_id"] != "run-7" || record["action"] != "stage" {
		t.Fatalf("unexpected log record: %v", record)
	}
	if _, ok := record["elapsed_ms"]; !ok {
		t.Fatalf("missing elapsed_ms: %v", record)
	}
}

func TestRegistryRegisterResolveAndList(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	reg.MustRegister(Pipeline{Name: "typo", Stages: []Stage{recordingStage("a", &calls, nil)}})
	reg.MustRegister(Pipeline{Name: "Build", Stages: []Stage{recordingStage("a", &calls, nil), recordingStage("b", &calls, nil)}})

	if _, ok := reg.Resolve("BUILD"); !ok {
		t.Fatalf("resolve should be case-insensitive")
	}
	if _, ok := reg.Resolve("missing"); ok {
		t.Fatalf("unknown pipeline should not resolve")
	}
	if got := reg.Names(); !reflect.DeepEqual(got, []string{"build", "typo"}) {
		t.Fatalf("unexpected names: %v", got)
	}
	p, _ := reg.Resolve("build")
	if got := p.StageNames(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("unexpected stages: %v", got)
	}
}

func TestRegistryRejectsInvalidPipelines(t *testing.T) {
	var calls []string
	reg := NewRegistry()
	if err := reg.Register(Pipeline{Name: "build", Stages: []Stage{recordingStage("a", &calls, nil)}}); err != nil {
		t.Fatalf("first registration should succeed: %v", err)
	}

	testCases := []struct {
		name string
		p    Pipeline
	}{
		{"duplicate", Pipeline{Name: "build", Stages: []Stage{recordingStage("a", &calls, nil)}}},
		{"empty name", Pipeline{Name: " ", Stages: []Stage{recordingStage("a", &calls, nil)}}},
		{"no stages", Pipeline{Name: "empty"}},
		{"repeated stage", Pipeline{Name: "twice", Stages: []Stage{recordingStage("a", &calls, nil), recordingStage("a", &calls, nil)}}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := reg.Register(tc.p); err == nil {
				t.Fatalf("expected registration to fail")
			}
		})
	}
}
