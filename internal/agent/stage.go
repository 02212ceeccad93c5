// Package agent implements the pipeline stages that turn crawled events into
// qualified leads: enrichment, scoring, proposal generation, and URL
// discovery. Stages share one lifecycle contract: they mutate the pipeline
// state in place, record failures on it, and never abort the run.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Stage is a single step of the lead qualification pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *model.PipelineState) error
}

// Execute runs one stage with the shared lifecycle: start and end timestamps
// in the state metadata, structured observations, and failure capture. A
// returned error or a panic is recorded on the state as "<stage>: <message>";
// it never propagates, so a broken stage cannot take down the run.
func Execute(ctx context.Context, stage Stage, state *model.PipelineState) *model.PipelineState {
	log := zap.L().With(
		zap.String("execution_id", state.ExecutionID),
		zap.String("stage", stage.Name()),
		zap.Int64("company_id", state.CompanyID),
	)

	start := time.Now().UTC()
	state.Metadata[stage.Name()+"_start_time"] = start.Format(time.RFC3339Nano)
	log.Info("agent: stage starting")

	if err := runRecovered(ctx, stage, state); err != nil {
		state.RecordError(fmt.Sprintf("%s: %s", stage.Name(), err.Error()))
		log.Error("agent: stage failed", zap.Error(err))
	}

	end := time.Now().UTC()
	state.Metadata[stage.Name()+"_end_time"] = end.Format(time.RFC3339Nano)
	log.Info("agent: stage completed",
		zap.Int64("duration_ms", end.Sub(start).Milliseconds()),
		zap.Int("error_count", len(state.Errors)),
		zap.Int("warning_count", len(state.Warnings)),
	)
	return state
}

// ExecuteAll runs stages sequentially through Execute. Later stages still run
// when an earlier one fails; they see whatever the failed stage left behind.
func ExecuteAll(ctx context.Context, stages []Stage, state *model.PipelineState) *model.PipelineState {
	for _, stage := range stages {
		state = Execute(ctx, stage, state)
	}
	return state
}

func runRecovered(ctx context.Context, stage Stage, state *model.PipelineState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.New(fmt.Sprintf("panic: %v", r))
		}
	}()
	return stage.Run(ctx, state)
}
