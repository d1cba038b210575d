package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
)

type competitorResult struct {
	analysis *model.CompetitorAnalysis
	err      error
}

// launchCompetitor runs the Competitor stage off the critical path. The
// channel is buffered so a result nobody waits for never blocks the
// goroutine.
func (p *Pipeline) launchCompetitor(ctx context.Context, sessionID string, profile *model.Profile) <-chan competitorResult {
	ch := make(chan competitorResult, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("pipeline: competitor panic",
					zap.String("session_id", sessionID),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				ch <- competitorResult{err: eris.Errorf("pipeline: competitor panic: %v", r)}
			}
		}()
		a, err := p.stages.Competitors(ctx, sessionID, profile)
		ch <- competitorResult{analysis: a, err: err}
	}()
	return ch
}

// joinCompetitor waits for the background Competitor within the grace
// window. It returns false when the result is discarded.
func (p *Pipeline) joinCompetitor(sessionID string, ch <-chan competitorResult, dl *Deadline) (competitorResult, bool) {
	log := zap.L().With(zap.String("session_id", sessionID))

	if res, ok := pollCompetitor(ch); ok {
		return res, true
	}

	grace := min(p.cfg.GracePeriod, dl.Remaining()-p.cfg.ComposerReserve)
	if grace <= 0 {
		log.Info("pipeline: no grace window left, proceeding without competitors")
		return competitorResult{}, false
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case res := <-ch:
		log.Info("pipeline: competitors joined within grace window")
		return res, true
	case <-timer.C:
		log.Info("pipeline: competitors still running, proceeding without them",
			zap.Duration("grace", grace),
		)
		return competitorResult{}, false
	}
}

// pollCompetitor takes the Competitor result if it is ready. A nil channel
// is never ready.
func pollCompetitor(ch <-chan competitorResult) (competitorResult, bool) {
	select {
	case res := <-ch:
		return res, true
	default:
		return competitorResult{}, false
	}
}
