package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/persistence"
	"github.com/voicegrid/transched/internal/pkg/progress"
	"github.com/voicegrid/transched/internal/pkg/speaker"
	"github.com/voicegrid/transched/internal/pkg/transcriber"
	"github.com/pkg/errors"
)

// MediaLoader stages source media locally
type MediaLoader interface {
	Fetch(ctx context.Context, source, dir string) (string, error)
}

// AudioChunker converts media into audio chunks
type AudioChunker interface {
	Extract(ctx context.Context, input, dir string) ([]speaker.File, error)
}

// Transcriber is the transcription model client
type Transcriber interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
	Transcribe(ctx context.Context, file, language string) (*transcriber.Result, error)
}

// SpeakerResolver assigns global speaker ids to the whole timeline
type SpeakerResolver interface {
	Resolve(ctx context.Context, files []speaker.File) ([]speaker.Turn, error)
}

// Translator translates transcript text. Failures do not fail the job
type Translator interface {
	Translate(ctx context.Context, text, sourceLang string) (string, error)
}

// SubtitleRenderer produces downloadable artifacts from the final segments
type SubtitleRenderer interface {
	Render(segments []persistence.Segment) map[string]string
}

// ProgressReporter is the best-effort progress sink
type ProgressReporter interface {
	UpdateProgress(id string, percent int32, stage, message string)
}

// Pipeline runs one job from source media to final transcript
type Pipeline struct {
	loader      MediaLoader
	chunker     AudioChunker
	transcriber Transcriber
	resolver    SpeakerResolver
	translator  Translator
	renderer    SubtitleRenderer
	reporter    ProgressReporter
	workDir     string
}

// NewPipeline creates the processing pipeline
func NewPipeline(loader MediaLoader, chunker AudioChunker, tr Transcriber,
	resolver SpeakerResolver, translator Translator, renderer SubtitleRenderer,
	reporter ProgressReporter) (*Pipeline, error) {
	cmdapp.Config.SetDefault("worker.workDir", filepath.Join(os.TempDir(), "transched"))
	res := Pipeline{loader: loader, chunker: chunker, transcriber: tr, resolver: resolver,
		translator: translator, renderer: renderer, reporter: reporter,
		workDir: cmdapp.Config.GetString("worker.workDir")}
	if res.loader == nil {
		return nil, errors.New("No media loader provided")
	}
	if res.chunker == nil {
		return nil, errors.New("No audio chunker provided")
	}
	if res.transcriber == nil {
		return nil, errors.New("No transcriber provided")
	}
	if res.resolver == nil {
		return nil, errors.New("No speaker resolver provided")
	}
	if res.renderer == nil {
		return nil, errors.New("No subtitle renderer provided")
	}
	if res.reporter == nil {
		return nil, errors.New("No progress reporter provided")
	}
	if res.workDir == "" {
		return nil, errors.New("No worker.workDir configured")
	}
	return &res, nil
}

// Process runs the full pipeline for one claimed job.
// The job's working directory is always removed before returning
func (p *Pipeline) Process(ctx context.Context, job *persistence.Job) (*persistence.Result, map[string]string, error) {
	dir := filepath.Join(p.workDir, job.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, nil, errors.Wrap(err, "Can't create working dir "+dir)
	}
	defer func() {
		cmdapp.LogIf(os.RemoveAll(dir))
	}()

	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Downloading), progress.Downloading, "Downloading source")
	input, err := p.loader.Fetch(ctx, job.Source, dir)
	if err != nil {
		return nil, nil, err
	}

	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Extracting), progress.Extracting, "Extracting audio")
	files, err := p.chunker.Extract(ctx, input, dir)
	if err != nil {
		return nil, nil, err
	}

	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Transcribing), progress.Transcribing, "Transcribing")
	segments, language, err := p.transcribe(ctx, job, files)
	if err != nil {
		return nil, nil, err
	}

	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Diarizing), progress.Diarizing, "Detecting speakers")
	turns, err := p.resolver.Resolve(ctx, files)
	if err != nil {
		return nil, nil, err
	}

	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Augmenting), progress.Augmenting, "Attributing speakers")
	attribute(segments, turns)

	note := p.translate(ctx, job, segments, language)

	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Finalizing), progress.Finalizing, "Finalizing")
	res := &persistence.Result{Text: joinText(segments), Language: language,
		Segments: segments, TranslationNote: note}
	return res, p.renderer.Render(segments), nil
}

// transcribe runs the model over every chunk in timeline order, the first
// chunk decides the language unless the job forces one
func (p *Pipeline) transcribe(ctx context.Context, job *persistence.Job, files []speaker.File) ([]persistence.Segment, string, error) {
	if err := p.transcriber.Load(ctx); err != nil {
		return nil, "", errors.Wrap(err, "can't load transcription model")
	}
	segments, language, terr := p.transcribeChunks(ctx, job, files)
	uerr := p.transcriber.Unload(ctx)
	if terr != nil {
		return nil, "", terr
	}
	if uerr != nil {
		return nil, "", errors.Wrap(uerr, "can't unload transcription model")
	}
	return segments, language, nil
}

func (p *Pipeline) transcribeChunks(ctx context.Context, job *persistence.Job, files []speaker.File) ([]persistence.Segment, string, error) {
	language := ""
	if job.Params.LanguageOverride && job.Params.Language != "" {
		language = job.Params.Language
	}
	var res []persistence.Segment
	var offset float64
	for i, f := range files {
		tr, err := p.transcriber.Transcribe(ctx, f.Path, language)
		if err != nil {
			return nil, "", errors.Wrapf(err, "can't transcribe chunk %d", i)
		}
		if language == "" {
			language = tr.Language
		}
		for _, s := range tr.Segments {
			res = append(res, persistence.Segment{Start: offset + s.Start, End: offset + s.End, Text: s.Text})
		}
		offset += f.Duration
		p.reporter.UpdateProgress(job.ID, progress.In(progress.Transcribing, float64(i+1)/float64(len(files))),
			progress.Transcribing, fmt.Sprintf("Transcribed %d/%d", i+1, len(files)))
	}
	return res, language, nil
}

// translate fills segment translations. Any failure degrades the job to an
// untranslated result instead of failing it
func (p *Pipeline) translate(ctx context.Context, job *persistence.Job, segments []persistence.Segment, language string) string {
	if p.translator == nil {
		return ""
	}
	p.reporter.UpdateProgress(job.ID, progress.Start(progress.Translating), progress.Translating, "Translating")
	for i := range segments {
		tr, err := p.translator.Translate(ctx, segments[i].Text, language)
		if err != nil {
			cmdapp.Log.Warnf("Translation failed for job %s: %v", job.ID, err)
			for j := range segments {
				segments[j].Translation = ""
			}
			return "translation unavailable"
		}
		segments[i].Translation = tr
	}
	return ""
}

// attribute assigns to every segment the speaker of the turn it overlaps most
func attribute(segments []persistence.Segment, turns []speaker.Turn) {
	for i := range segments {
		best := 0.0
		for _, t := range turns {
			o := overlap(segments[i].Start, segments[i].End, t.Start, t.End)
			if o > best {
				best = o
				segments[i].Speaker = t.Speaker
			}
		}
	}
}

func overlap(s1, e1, s2, e2 float64) float64 {
	s := s1
	if s2 > s {
		s = s2
	}
	e := e1
	if e2 < e {
		e = e2
	}
	return e - s
}

func joinText(segments []persistence.Segment) string {
	res := strings.Builder{}
	for i, s := range segments {
		if i > 0 {
			res.WriteString(" ")
		}
		res.WriteString(s.Text)
	}
	return res.String()
}
