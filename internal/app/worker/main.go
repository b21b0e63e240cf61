package worker

import (
	"sync"
	"time"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/diarizer"
	"github.com/voicegrid/transched/internal/pkg/errc"
	"github.com/voicegrid/transched/internal/pkg/jobqueue"
	"github.com/voicegrid/transched/internal/pkg/media"
	"github.com/voicegrid/transched/internal/pkg/mongo"
	"github.com/voicegrid/transched/internal/pkg/speaker"
	"github.com/voicegrid/transched/internal/pkg/subtitle"
	"github.com/voicegrid/transched/internal/pkg/tasks"
	"github.com/voicegrid/transched/internal/pkg/transcriber"
	"github.com/voicegrid/transched/internal/pkg/translator"
	"github.com/voicegrid/transched/internal/pkg/utils"

	"github.com/heptiolabs/healthcheck"
	"github.com/spf13/cobra"
)

var appName = "TranSched Worker Service"

var rootCmd = &cobra.Command{
	Use:   "workerService",
	Short: appName,
	Long:  `Worker service claims transcription jobs from the queue and runs the media pipeline`,
	Run:   run,
}

func init() {
	cmdapp.InitApplication(rootCmd)
	rootCmd.PersistentFlags().Int32P("port", "", 8000, "Default service port")
	cmdapp.Config.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	cmdapp.Config.SetDefault("port", 8080)
	cmdapp.Config.SetDefault("worker.pollInterval", "3s")
	cmdapp.Config.SetDefault("worker.heartbeatInterval", "30s")
}

// Execute starts the server
func Execute() {
	cmdapp.Execute(rootCmd)
}

func run(cmd *cobra.Command, args []string) {
	cmdapp.Log.Info("Starting " + appName)
	health := healthcheck.NewHandler()

	mongoSessionProvider, err := mongo.NewSessionProvider()
	cmdapp.CheckOrPanic(err, "Can't init mongo")
	defer mongoSessionProvider.Close()
	health.AddLivenessCheck("mongo", healthcheck.Async(mongoSessionProvider.Healthy, 10*time.Second))

	jobs, err := mongo.NewJobs(mongoSessionProvider)
	cmdapp.CheckOrPanic(err, "Can't init job table")
	queue, err := jobqueue.NewService(jobs)
	cmdapp.CheckOrPanic(err, "Can't init job queue")

	reapLock := &sync.RWMutex{}
	reapChildren(reapLock)

	loader, err := media.NewLoader()
	cmdapp.CheckOrPanic(err, "Can't init media loader")
	chunker, err := media.NewChunker(tasks.NewRunner(reapLock))
	cmdapp.CheckOrPanic(err, "Can't init audio chunker")

	trans, err := transcriber.NewClient()
	cmdapp.CheckOrPanic(err, "Can't init transcriber")
	turnClient, err := diarizer.NewTurnClient()
	cmdapp.CheckOrPanic(err, "Can't init turn detection client")
	embedClient, err := diarizer.NewEmbedClient()
	cmdapp.CheckOrPanic(err, "Can't init embedding client")
	resolver, err := speaker.NewResolver(turnClient, embedClient)
	cmdapp.CheckOrPanic(err, "Can't init speaker resolver")

	var transl Translator
	if cmdapp.Config.GetString("translator.url") != "" {
		tc, err := translator.NewClient()
		cmdapp.CheckOrPanic(err, "Can't init translator")
		transl = tc
	} else {
		cmdapp.Log.Info("No translator configured")
	}

	reporter, err := newMeasuredReporter(queue)
	cmdapp.CheckOrPanic(err, "Can't init progress reporter")
	pipeline, err := NewPipeline(loader, chunker, trans, resolver, transl,
		subtitle.NewRenderer(), reporter)
	cmdapp.CheckOrPanic(err, "Can't init pipeline")

	recovery, err := startRecoveryService(queue, cmdapp.Config.GetString("worker.workDir"))
	cmdapp.CheckOrPanic(err, "Can't init recovery service")
	defer recovery.Stop()

	data := ServiceData{Queue: queue, Processor: pipeline, CodeExtractor: errc.CodeExtractor{},
		PollInterval:      cmdapp.Config.GetDuration("worker.pollInterval"),
		HeartbeatInterval: cmdapp.Config.GetDuration("worker.heartbeatInterval"),
		QuitChannel:       utils.NewSignalChannel()}
	fc, err := StartWorkerService(&data)
	cmdapp.CheckOrPanic(err, "Can't start worker")

	go func() {
		cmdapp.LogIf(StartWebServer(cmdapp.Config.GetInt("port"), health))
	}()

	<-fc
	cmdapp.Log.Infof("Exiting service")
}
