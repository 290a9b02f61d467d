package runtime

import (
	"context"
	"fmt"
	"log/slog"
)

// step is one post-processing side effect. Steps run in order and a failing
// step never stops the ones after it.
type step struct {
	name string
	run  func(ctx context.Context) error
}

func runSteps(ctx context.Context, log *slog.Logger, steps []step) {
	for _, s := range steps {
		runStep(ctx, log, s)
	}
}

func runStep(ctx context.Context, log *slog.Logger, s step) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("task_step_panic", "step", s.name, "panic", fmt.Sprint(r))
		}
	}()
	if s.run == nil {
		return
	}
	if err := s.run(ctx); err != nil {
		log.Debug("task_step_failed", "step", s.name, "error", err.Error())
	}
}
