package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/model"
)

type fakeStage struct {
	name string
	run  func(ctx context.Context, state *model.PipelineState) error
}

func (s *fakeStage) Name() string { return s.name }

func (s *fakeStage) Run(ctx context.Context, state *model.PipelineState) error {
	return s.run(ctx, state)
}

func TestExecuteRecordsTimings(t *testing.T) {
	state := model.NewPipelineState(1, map[string]any{"name": "Acme"})
	stage := &fakeStage{name: "probe", run: func(_ context.Context, _ *model.PipelineState) error {
		return nil
	}}

	Execute(context.Background(), stage, state)

	assert.Contains(t, state.Metadata, "probe_start_time")
	assert.Contains(t, state.Metadata, "probe_end_time")
	assert.Empty(t, state.Errors)
}

func TestExecuteCapturesError(t *testing.T) {
	state := model.NewPipelineState(1, nil)
	stage := &fakeStage{name: "probe", run: func(_ context.Context, _ *model.PipelineState) error {
		return assert.AnError
	}}

	Execute(context.Background(), stage, state)

	require.Len(t, state.Errors, 1)
	assert.Equal(t, "probe: "+assert.AnError.Error(), state.Errors[0])
	// End time is still recorded on failure.
	assert.Contains(t, state.Metadata, "probe_end_time")
}

func TestExecuteRecoversPanic(t *testing.T) {
	state := model.NewPipelineState(1, nil)
	stage := &fakeStage{name: "probe", run: func(_ context.Context, _ *model.PipelineState) error {
		panic("boom")
	}}

	require.NotPanics(t, func() {
		Execute(context.Background(), stage, state)
	})
	require.Len(t, state.Errors, 1)
	assert.Contains(t, state.Errors[0], "probe: panic: boom")
}

func TestExecuteAllContinuesAfterFailure(t *testing.T) {
	state := model.NewPipelineState(1, nil)
	var secondRan bool

	stages := []Stage{
		&fakeStage{name: "first", run: func(_ context.Context, _ *model.PipelineState) error {
			return assert.AnError
		}},
		&fakeStage{name: "second", run: func(_ context.Context, _ *model.PipelineState) error {
			secondRan = true
			return nil
		}},
	}

	ExecuteAll(context.Background(), stages, state)

	assert.True(t, secondRan)
	require.Len(t, state.Errors, 1)
}
