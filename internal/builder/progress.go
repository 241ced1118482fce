package builder

import (
	"time"

	"github.com/signalsfoundry/skymodel/model"
)

// startProgress emits a Progress snapshot every progressInterval until
// stopProgress is called. It never blocks the build.
func (r *run) startProgress() {
	if r.b.onProgress == nil {
		return
	}
	r.progressDone = make(chan struct{})
	r.progressWG.Add(1)
	go func() {
		defer r.progressWG.Done()
		for {
			select {
			case <-r.progressDone:
				return
			case <-r.b.clock.After(r.b.progressInterval):
				r.b.onProgress(r.progress())
			}
		}
	}()
}

func (r *run) stopProgress() {
	if r.progressDone == nil {
		return
	}
	close(r.progressDone)
	r.progressWG.Wait()
	r.progressDone = nil
	p := r.progress()
	p.Done = true
	p.Remaining = 0
	r.b.onProgress(p)
}

// progress estimates the remaining time from the mean time per finished
// point so far.
func (r *run) progress() Progress {
	processed := r.state.processedCount()
	total := processed + r.state.count(model.PointGenerated) + r.inFlightCount()
	elapsed := r.b.clock.Now().Sub(r.started)
	var remaining time.Duration
	if processed > 0 && total > processed {
		remaining = time.Duration(float64(elapsed) / float64(processed) * float64(total-processed))
	}
	return Progress{
		Attempt:     int(r.attempt.Load()),
		MaxAttempts: r.opts.NumRetries + 1,
		Processed:   processed,
		Total:       total,
		Elapsed:     elapsed,
		Remaining:   remaining,
	}
}

func (r *run) inFlightCount() int {
	return r.state.count(model.PointUpNext) + r.state.count(model.PointExposing) + r.state.count(model.PointProcessing)
}
