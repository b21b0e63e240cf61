package media

import (
	"context"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/speaker"
	"github.com/voicegrid/transched/internal/pkg/tasks"
	"github.com/pkg/errors"
)

const (
	defaultExtractCmd = "ffmpeg -hide_banner -nostdin -i {INPUT} -vn -ac 1 -ar 16000" +
		" -f segment -segment_time {DURATION} {DIR}/chunk_%04d.wav"
	defaultProbeCmd = "ffprobe -v error -show_entries format=duration" +
		" -of default=noprint_wrappers=1:nokey=1 {FILE}"
)

type runner interface {
	Run(ctx context.Context, command, workingDir string, envs []string) (string, error)
}

// Chunker extracts mono audio from media and splits it into contiguous chunks
type Chunker struct {
	runner     runner
	extractCmd string
	probeCmd   string
	chunkDur   int
}

// NewChunker creates an ffmpeg based audio chunker
func NewChunker(r *tasks.Runner) (*Chunker, error) {
	cmdapp.Config.SetDefault("media.extractCommand", defaultExtractCmd)
	cmdapp.Config.SetDefault("media.probeCommand", defaultProbeCmd)
	cmdapp.Config.SetDefault("media.chunkDuration", 300)
	return newChunker(r, cmdapp.Config.GetString("media.extractCommand"),
		cmdapp.Config.GetString("media.probeCommand"),
		cmdapp.Config.GetInt("media.chunkDuration"))
}

func newChunker(r runner, extractCmd, probeCmd string, chunkDur int) (*Chunker, error) {
	if r == nil {
		return nil, errors.New("No command runner provided")
	}
	if extractCmd == "" {
		return nil, errors.New("No media.extractCommand configured")
	}
	if probeCmd == "" {
		return nil, errors.New("No media.probeCommand configured")
	}
	if chunkDur < 1 {
		return nil, errors.New("Wrong or no media.chunkDuration")
	}
	return &Chunker{runner: r, extractCmd: extractCmd, probeCmd: probeCmd,
		chunkDur: chunkDur}, nil
}

// Extract converts input into ordered audio chunk files under dir
func (c *Chunker) Extract(ctx context.Context, input, dir string) ([]speaker.File, error) {
	cmd := strings.NewReplacer("{INPUT}", input, "{DIR}", dir,
		"{DURATION}", strconv.Itoa(c.chunkDur)).Replace(c.extractCmd)
	if _, err := c.runner.Run(ctx, cmd, dir, nil); err != nil {
		return nil, errors.Wrap(err, "Can't extract audio")
	}

	paths, err := filepath.Glob(filepath.Join(dir, "chunk_*.wav"))
	if err != nil {
		return nil, errors.Wrap(err, "Can't list chunks")
	}
	if len(paths) == 0 {
		return nil, errors.New("audio extraction produced no chunks")
	}
	sort.Strings(paths)

	res := make([]speaker.File, len(paths))
	for i, p := range paths {
		d, err := c.probe(ctx, p)
		if err != nil {
			return nil, err
		}
		res[i] = speaker.File{Path: p, Duration: d}
	}
	cmdapp.Log.Infof("Extracted %d audio chunk(s)", len(res))
	return res, nil
}

func (c *Chunker) probe(ctx context.Context, file string) (float64, error) {
	out, err := c.runner.Run(ctx, strings.Replace(c.probeCmd, "{FILE}", file, -1), "", nil)
	if err != nil {
		return 0, errors.Wrap(err, "Can't probe chunk duration")
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, errors.Wrapf(err, "Can't parse chunk duration '%s'", strings.TrimSpace(out))
	}
	return d, nil
}
