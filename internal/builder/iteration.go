package builder

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/skymodel/internal/alignment"
	"github.com/signalsfoundry/skymodel/internal/equipment"
	"github.com/signalsfoundry/skymodel/internal/logging"
	"github.com/signalsfoundry/skymodel/model"
)

// minCommitPoints is the smallest number of added points worth committing.
const minCommitPoints = 3

var errInsufficientPoints = errors.New("not enough points added to commit a model")

// execute drives the retry loop.
func (r *run) execute() (*model.BuildResult, error) {
	maxAttempts := r.opts.NumRetries + 1
	res := &model.BuildResult{}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.attempt.Store(int64(attempt))
		r.b.metrics.IterationStarted(attempt)
		ctx, span := r.b.tracer.Start(r.ctx, "modelbuilder.Iteration", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("reversed", r.reversed),
		))

		failed, err := r.iterate(ctx)
		span.SetAttributes(attribute.Int("failed_points", failed))
		span.End()

		res.Attempts = attempt
		res.FailedPoints = failed
		r.b.metrics.SetFailedPoints(failed)

		if cerr := r.ctx.Err(); cerr != nil {
			r.log.Warn(r.ctx, "model build cancelled", logging.Int("attempt", attempt))
			return nil, cerr
		}
		if err != nil {
			return nil, err
		}

		committed, cerr := r.commit(ctx)
		if cerr != nil {
			r.log.Error(ctx, "model commit failed", logging.Int("attempt", attempt), logging.Err(cerr))
		}
		res.Model = committed

		if r.stopRequested() {
			r.log.Info(ctx, "model build stopped", logging.Int("attempt", attempt))
			res.Stopped = true
			break
		}
		if !r.retry(ctx, attempt, maxAttempts, failed) {
			break
		}
	}

	res.Points = r.state.snapshot()
	return res, nil
}

// iterate runs a single pass: re-arm, re-register, process, drain. It
// returns the number of points that failed during the pass.
func (r *run) iterate(ctx context.Context) (int, error) {
	rearmed := r.state.beginIteration()
	r.domeCache.Reset()

	r.log.Info(ctx, "starting build iteration",
		logging.Int("attempt", int(r.attempt.Load())),
		logging.Int("rearmed", len(rearmed)),
	)

	if err := r.resubmit(ctx); err != nil {
		return r.state.failedCount(), err
	}

	loopCtx, cancel := r.loopContext()
	err := r.processPoints(loopCtx)
	cancel()

	r.pending.Wait()
	if n := r.state.resolveInFlight(); n > 0 {
		r.log.Warn(ctx, "points left in flight were failed", logging.Int("count", n))
	}
	if errors.Is(err, context.Canceled) && r.ctx.Err() == nil {
		// soft stop
		err = nil
	}
	return r.state.failedCount(), err
}

// resubmit restarts the alignment spec and registers every point added in
// earlier iterations so it holds the cumulative model.
func (r *run) resubmit(ctx context.Context) error {
	spec := r.eq.Alignment
	if err := spec.Delete(ctx); err != nil {
		r.log.Warn(ctx, "failed to clear alignment spec", logging.Err(err))
	}
	if err := spec.Start(ctx); err != nil {
		return fmt.Errorf("start alignment spec: %w", err)
	}
	added := r.state.added()
	for _, h := range added {
		r.register(ctx, h)
	}
	if len(added) > 0 {
		r.log.Info(ctx, "re-registered points from previous iteration", logging.Int("count", len(added)))
	}
	return nil
}

// commit hands the points added this far to the artifact writer, or to the
// mount for sidereal paths.
func (r *run) commit(ctx context.Context) (*model.AlignmentModel, error) {
	points := r.state.snapshot()
	var added []model.SkyPoint
	for _, p := range points {
		if p.State == model.PointAddedToModel {
			added = append(added, p)
		}
	}
	if len(added) < minCommitPoints {
		return nil, fmt.Errorf("%w: %d added", errInsufficientPoints, len(added))
	}

	m := &model.AlignmentModel{
		PointCount: len(added),
		RMSError:   alignment.RMS(added),
	}

	if r.opts.GenerationType == model.GenerationSiderealPath {
		if sender, ok := r.eq.Telescope.(equipment.PathModelSender); ok {
			payload, err := alignment.PathPayload(points)
			if err != nil {
				return nil, fmt.Errorf("encode sidereal path: %w", err)
			}
			if !sender.SendPathModel(context.WithoutCancel(ctx), payload) {
				return nil, errors.New("mount rejected sidereal path model")
			}
			r.log.Info(ctx, "sidereal path model sent", logging.Int("points", len(added)))
			return m, nil
		}
	}

	if w := r.eq.Artifacts; w != nil {
		path, n, err := w.WriteArtifact(context.WithoutCancel(ctx), points)
		if err != nil {
			return nil, err
		}
		m.ArtifactPath = path
		m.PointCount = n
	}
	r.log.Info(ctx, "model committed",
		logging.Int("points", m.PointCount),
		logging.Float("rms_arcsec", m.RMSError),
		logging.String("artifact", m.ArtifactPath),
	)
	return m, nil
}

// retry applies the retry policy and reports whether another attempt runs.
func (r *run) retry(ctx context.Context, attempt, maxAttempts, failed int) bool {
	remaining := attempt < maxAttempts
	if failed == 0 {
		return false
	}
	overBudget := r.opts.MaxFailedPoints > 0 && failed > r.opts.MaxFailedPoints

	switch {
	case overBudget && remaining:
		r.log.Warn(ctx, "failure budget exceeded; restarting with all points",
			logging.Int("failed", failed),
			logging.Int("budget", r.opts.MaxFailedPoints),
		)
		r.state.resetAll()
		r.flipDirection()
		return true
	case overBudget:
		r.log.Warn(ctx, "failure budget exceeded with no retries left; keeping partial model",
			logging.Int("failed", failed))
		return false
	case remaining:
		r.log.Info(ctx, "retrying failed points", logging.Int("failed", failed))
		r.flipDirection()
		return true
	default:
		r.log.Info(ctx, "no retries left; keeping partial model", logging.Int("failed", failed))
		return false
	}
}

func (r *run) flipDirection() {
	if r.opts.AlternateDirectionsBetweenIterations {
		r.reversed = !r.reversed
	}
}
