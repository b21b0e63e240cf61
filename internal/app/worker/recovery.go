package worker

import (
	"os"
	"path/filepath"
	"time"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

// StaleRecoverer returns silently abandoned jobs back to the queue
type StaleRecoverer interface {
	RecoverStale() (string, error)
}

type recoveryData struct {
	recoverer StaleRecoverer
	workDir   string
	keepFor   time.Duration
	recovered prometheus.Counter
}

// startRecoveryService schedules periodic stale job recovery and removal of
// abandoned working directories
func startRecoveryService(recoverer StaleRecoverer, workDir string) (*cron.Cron, error) {
	if recoverer == nil {
		return nil, errors.New("No stale recoverer provided")
	}
	cmdapp.Config.SetDefault("recovery.schedule", "@every 1m")
	cmdapp.Config.SetDefault("recovery.keepWorkDirFor", "24h")
	data := &recoveryData{recoverer: recoverer, workDir: workDir,
		keepFor: cmdapp.Config.GetDuration("recovery.keepWorkDirFor")}
	data.recovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "transched_jobs_recovered_total",
		Help: "Total count of stale jobs returned to the queue",
	})
	if err := metrics.Register(data.recovered); err != nil {
		return nil, err
	}
	c := cron.New()
	schedule := cmdapp.Config.GetString("recovery.schedule")
	if _, err := c.AddFunc(schedule, func() { doRecover(data) }); err != nil {
		return nil, errors.Wrap(err, "Can't schedule '"+schedule+"'")
	}
	cmdapp.Log.Infof("Starting recovery service, schedule %s", schedule)
	c.Start()
	return c, nil
}

// doRecover resets at most one stale job per run, matching the single worker's
// capacity to pick it up again
func doRecover(data *recoveryData) {
	id, err := data.recoverer.RecoverStale()
	if err != nil {
		cmdapp.Log.Error(err)
	} else if id != "" {
		data.recovered.Inc()
	}
	sweepWorkDirs(data.workDir, data.keepFor)
}

// sweepWorkDirs drops working directories not touched for the keep period.
// Live jobs never reach that age, their dirs are removed by the pipeline
func sweepWorkDirs(workDir string, keepFor time.Duration) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		if !os.IsNotExist(err) {
			cmdapp.Log.Error(err)
		}
		return
	}
	deadline := time.Now().Add(-keepFor)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(deadline) {
			dir := filepath.Join(workDir, e.Name())
			cmdapp.Log.Infof("Removing abandoned working dir %s", dir)
			cmdapp.LogIf(os.RemoveAll(dir))
		}
	}
}
