package worker

import (
	"time"

	"github.com/voicegrid/transched/internal/pkg/metrics"
	"github.com/voicegrid/transched/internal/pkg/progress"
	"github.com/prometheus/client_golang/prometheus"
)

// measuredReporter forwards progress updates and records how long each
// pipeline stage took. One worker processes one job at a time, so tracking the
// previous stage is enough
type measuredReporter struct {
	next     ProgressReporter
	stageDur *prometheus.HistogramVec

	lastStage string
	lastAt    time.Time
}

func newMeasuredReporter(next ProgressReporter) (*measuredReporter, error) {
	res := measuredReporter{next: next}
	res.stageDur = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transched_stage_duration_seconds",
		Help:    "Duration of pipeline stages",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	}, []string{"stage"})
	if err := metrics.Register(res.stageDur); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *measuredReporter) UpdateProgress(id string, percent int32, stage, message string) {
	now := time.Now()
	if stage == progress.Downloading && r.lastStage != stage {
		// new job, drop the tail of the previous one together with idle time
		r.lastStage, r.lastAt = stage, now
	} else if stage != r.lastStage {
		if r.lastStage != "" {
			r.stageDur.WithLabelValues(r.lastStage).Observe(now.Sub(r.lastAt).Seconds())
		}
		r.lastStage, r.lastAt = stage, now
	}
	r.next.UpdateProgress(id, percent, stage, message)
}
