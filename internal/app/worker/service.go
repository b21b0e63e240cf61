package worker

import (
	"context"
	"time"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/metrics"
	"github.com/voicegrid/transched/internal/pkg/persistence"
	"github.com/voicegrid/transched/internal/pkg/utils"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Queue is the job queue operations the worker invokes
type Queue interface {
	ClaimNext() (*persistence.Job, error)
	UpdateHeartbeat(id string)
	MarkCompleted(id string, result *persistence.Result, artifacts map[string]string) error
	MarkFailed(id string, message, errorCode string) error
}

// JobProcessor runs the media pipeline for one claimed job
type JobProcessor interface {
	Process(ctx context.Context, job *persistence.Job) (*persistence.Result, map[string]string, error)
}

// CodeExtractor derives an error code from an error message
type CodeExtractor interface {
	Get(msg string) string
}

// ServiceData keeps data required for the worker loop
type ServiceData struct {
	Queue             Queue
	Processor         JobProcessor
	CodeExtractor     CodeExtractor
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	QuitChannel       *utils.MultiCloseChannel

	started   prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
}

// StartWorkerService starts the job polling loop.
// Returns a channel to track the finish event
func StartWorkerService(data *ServiceData) (<-chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	if err := initMetrics(data); err != nil {
		return nil, err
	}
	cmdapp.Log.Infof("Starting worker loop, poll every %v", data.PollInterval)
	fc := make(chan struct{})
	go serviceLoop(data, fc)
	return fc, nil
}

func validate(data *ServiceData) error {
	if data.Queue == nil {
		return errors.New("No queue provided")
	}
	if data.Processor == nil {
		return errors.New("No job processor provided")
	}
	if data.CodeExtractor == nil {
		return errors.New("No error code extractor provided")
	}
	if data.PollInterval <= 0 {
		return errors.New("Wrong or no worker.pollInterval")
	}
	if data.HeartbeatInterval <= 0 {
		return errors.New("Wrong or no worker.heartbeatInterval")
	}
	if data.QuitChannel == nil {
		return errors.New("No quit channel provided")
	}
	return nil
}

func initMetrics(data *ServiceData) error {
	data.started = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transched_jobs_started_total",
		Help: "Total count of claimed jobs",
	})
	data.completed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transched_jobs_completed_total",
		Help: "Total count of completed jobs",
	})
	data.failed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transched_jobs_failed_total",
		Help: "Total count of failed jobs",
	})
	for _, c := range []prometheus.Counter{data.started, data.completed, data.failed} {
		if err := metrics.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func serviceLoop(data *ServiceData, fc chan<- struct{}) {
	ticker := time.NewTicker(data.PollInterval)
	defer ticker.Stop()
	// drain the backlog on startup
	processAvailable(data)
mainloop:
	for {
		select {
		case <-ticker.C:
			processAvailable(data)
		case <-data.QuitChannel.C:
			break mainloop
		}
	}
	cmdapp.Log.Infof("Stopped worker loop")
	close(fc)
}

// processAvailable claims and runs jobs one at a time until the queue is empty
func processAvailable(data *ServiceData) {
	for {
		job, err := data.Queue.ClaimNext()
		if err != nil {
			cmdapp.Log.Error(err)
			return
		}
		if job == nil {
			return
		}
		processJob(data, job)
	}
}

func processJob(data *ServiceData, job *persistence.Job) {
	cmdapp.Log.Infof("Processing job %s (%s)", job.ID, job.OriginalName)
	data.started.Inc()
	stop := startHeartbeat(data.Queue, job.ID, data.HeartbeatInterval)
	defer stop()

	result, artifacts, err := data.Processor.Process(context.Background(), job)
	if err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Job %s failed", job.ID))
		data.failed.Inc()
		cmdapp.LogIf(data.Queue.MarkFailed(job.ID, err.Error(), data.CodeExtractor.Get(err.Error())))
		return
	}
	stop() // no heartbeats past the terminal write
	if err := data.Queue.MarkCompleted(job.ID, result, artifacts); err != nil {
		cmdapp.Log.Error(errors.Wrapf(err, "Can't complete job %s", job.ID))
		data.failed.Inc()
		return
	}
	data.completed.Inc()
	cmdapp.Log.Infof("Completed job %s", job.ID)
}
