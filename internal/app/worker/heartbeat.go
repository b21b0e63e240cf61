package worker

import (
	"sync"
	"time"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
)

// HeartbeatSink receives periodic liveness updates for a processing job
type HeartbeatSink interface {
	UpdateHeartbeat(id string)
}

// startHeartbeat emits liveness updates for the job until the returned stop
// function is called. Stop waits for the loop to exit and is safe to call twice
func startHeartbeat(sink HeartbeatSink, id string, interval time.Duration) func() {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sink.UpdateHeartbeat(id)
			case <-quit:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(quit)
			<-done
			cmdapp.Log.Debugf("Stopped heartbeat for %s", id)
		})
	}
}
