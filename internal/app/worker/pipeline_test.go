package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/voicegrid/transched/internal/pkg/persistence"
	"github.com/voicegrid/transched/internal/pkg/progress"
	"github.com/voicegrid/transched/internal/pkg/speaker"
	"github.com/voicegrid/transched/internal/pkg/transcriber"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	failFetch bool
	dir       string
}

func (f *fakeLoader) Fetch(ctx context.Context, source, dir string) (string, error) {
	f.dir = dir
	if f.failFetch {
		return "", errors.New("can't download source")
	}
	return filepath.Join(dir, "input.mp4"), nil
}

type fakeChunker struct {
	files []speaker.File
	fail  bool
}

func (f *fakeChunker) Extract(ctx context.Context, input, dir string) ([]speaker.File, error) {
	if f.fail {
		return nil, errors.New("ffmpeg exited with 1")
	}
	return f.files, nil
}

type fakeTranscriber struct {
	events *[]string
	langs  []string
	byFile map[string]*transcriber.Result
	fail   bool
}

func (f *fakeTranscriber) Load(ctx context.Context) error {
	*f.events = append(*f.events, "tr.load")
	return nil
}

func (f *fakeTranscriber) Unload(ctx context.Context) error {
	*f.events = append(*f.events, "tr.unload")
	return nil
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, file, language string) (*transcriber.Result, error) {
	*f.events = append(*f.events, "tr.transcribe")
	f.langs = append(f.langs, language)
	if f.fail {
		return nil, errors.New("transcription model failed")
	}
	if r, found := f.byFile[file]; found {
		return r, nil
	}
	return &transcriber.Result{Language: "lt"}, nil
}

type fakeResolver struct {
	events *[]string
	turns  []speaker.Turn
	fail   bool
}

func (f *fakeResolver) Resolve(ctx context.Context, files []speaker.File) ([]speaker.Turn, error) {
	*f.events = append(*f.events, "resolve")
	if f.fail {
		return nil, errors.New("turn detection failed")
	}
	return f.turns, nil
}

type fakeTranslator struct {
	fail bool
}

func (f *fakeTranslator) Translate(ctx context.Context, text, sourceLang string) (string, error) {
	if f.fail {
		return "", errors.New("olia")
	}
	return "en:" + text, nil
}

type fakeRenderer struct {
}

func (f *fakeRenderer) Render(segments []persistence.Segment) map[string]string {
	return map[string]string{"srt": "olia"}
}

type progressCall struct {
	percent int32
	stage   string
}

type fakeReporter struct {
	calls []progressCall
}

func (f *fakeReporter) UpdateProgress(id string, percent int32, stage, message string) {
	f.calls = append(f.calls, progressCall{percent: percent, stage: stage})
}

type pipelineFakes struct {
	events     []string
	loader     *fakeLoader
	chunker    *fakeChunker
	trans      *fakeTranscriber
	resolver   *fakeResolver
	translator *fakeTranslator
	renderer   *fakeRenderer
	reporter   *fakeReporter
}

func initPipeline(t *testing.T) (*Pipeline, *pipelineFakes) {
	f := pipelineFakes{}
	f.loader = &fakeLoader{}
	f.chunker = &fakeChunker{files: []speaker.File{{Path: "c0.wav", Duration: 300},
		{Path: "c1.wav", Duration: 200}}}
	f.trans = &fakeTranscriber{events: &f.events, byFile: map[string]*transcriber.Result{
		"c0.wav": {Language: "lt", Segments: []transcriber.Segment{{Start: 0, End: 5, Text: "labas"}}},
		"c1.wav": {Language: "lt", Segments: []transcriber.Segment{{Start: 1, End: 4, Text: "rytas"}}},
	}}
	f.resolver = &fakeResolver{events: &f.events, turns: []speaker.Turn{
		{Start: 0, End: 10, Speaker: "S1"}, {Start: 300, End: 310, Speaker: "S2"}}}
	f.translator = &fakeTranslator{}
	f.renderer = &fakeRenderer{}
	f.reporter = &fakeReporter{}
	cmdapp.Config.Set("worker.workDir", t.TempDir())
	p, err := NewPipeline(f.loader, f.chunker, f.trans, f.resolver, f.translator,
		f.renderer, f.reporter)
	require.Nil(t, err)
	return p, &f
}

func testJob() *persistence.Job {
	return &persistence.Job{ID: "j1", Source: "in.mp4"}
}

func TestNewPipeline_Fails(t *testing.T) {
	_, f := initPipeline(t)
	_, err := NewPipeline(nil, f.chunker, f.trans, f.resolver, f.translator, f.renderer, f.reporter)
	assert.NotNil(t, err)
	_, err = NewPipeline(f.loader, f.chunker, nil, f.resolver, f.translator, f.renderer, f.reporter)
	assert.NotNil(t, err)
	_, err = NewPipeline(f.loader, f.chunker, f.trans, f.resolver, f.translator, f.renderer, nil)
	assert.NotNil(t, err)
}

func TestProcess(t *testing.T) {
	p, _ := initPipeline(t)
	res, artifacts, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, "lt", res.Language)
	assert.Equal(t, "labas rytas", res.Text)
	assert.Equal(t, "olia", artifacts["srt"])
	require.Equal(t, 2, len(res.Segments))
	// second chunk segment is shifted by the first chunk's duration
	assert.InDelta(t, 301.0, res.Segments[1].Start, 0.0001)
}

func TestProcess_AttributesSpeakers(t *testing.T) {
	p, _ := initPipeline(t)
	res, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, "S1", res.Segments[0].Speaker)
	assert.Equal(t, "S2", res.Segments[1].Speaker)
}

func TestProcess_Translates(t *testing.T) {
	p, _ := initPipeline(t)
	res, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, "en:labas", res.Segments[0].Translation)
	assert.Equal(t, "", res.TranslationNote)
}

func TestProcess_TranslationFailureDegrades(t *testing.T) {
	p, f := initPipeline(t)
	f.translator.fail = true
	res, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, "translation unavailable", res.TranslationNote)
	assert.Equal(t, "", res.Segments[0].Translation)
}

func TestProcess_NoTranslator(t *testing.T) {
	p, f := initPipeline(t)
	p.translator = nil
	res, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, "", res.TranslationNote)
	for _, c := range f.reporter.calls {
		assert.NotEqual(t, progress.Translating, c.stage)
	}
}

func TestProcess_UnloadsModelBeforeResolving(t *testing.T) {
	p, f := initPipeline(t)
	_, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, []string{"tr.load", "tr.transcribe", "tr.transcribe", "tr.unload", "resolve"}, f.events)
}

func TestProcess_UnloadsModelOnFailure(t *testing.T) {
	p, f := initPipeline(t)
	f.trans.fail = true
	_, _, err := p.Process(context.Background(), testJob())
	require.NotNil(t, err)
	assert.Equal(t, []string{"tr.load", "tr.transcribe", "tr.unload"}, f.events)
}

func TestProcess_LanguageDetectedOnFirstChunk(t *testing.T) {
	p, f := initPipeline(t)
	_, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	assert.Equal(t, []string{"", "lt"}, f.trans.langs)
}

func TestProcess_LanguageOverride(t *testing.T) {
	p, f := initPipeline(t)
	job := testJob()
	job.Params = persistence.Params{Language: "en", LanguageOverride: true}
	res, _, err := p.Process(context.Background(), job)
	require.Nil(t, err)
	assert.Equal(t, []string{"en", "en"}, f.trans.langs)
	assert.Equal(t, "en", res.Language)
}

func TestProcess_ProgressAdvances(t *testing.T) {
	p, f := initPipeline(t)
	_, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	require.True(t, len(f.reporter.calls) > 4)
	assert.Equal(t, progress.Downloading, f.reporter.calls[0].stage)
	assert.Equal(t, progress.Finalizing, f.reporter.calls[len(f.reporter.calls)-1].stage)
	for i := 1; i < len(f.reporter.calls); i++ {
		assert.True(t, f.reporter.calls[i].percent >= f.reporter.calls[i-1].percent,
			"progress went back at call %d: %v", i, f.reporter.calls)
	}
}

func TestProcess_CleansWorkDir(t *testing.T) {
	p, f := initPipeline(t)
	_, _, err := p.Process(context.Background(), testJob())
	require.Nil(t, err)
	_, err = os.Stat(f.loader.dir)
	assert.True(t, os.IsNotExist(err))
}

func TestProcess_CleansWorkDirOnFailure(t *testing.T) {
	p, f := initPipeline(t)
	f.chunker.fail = true
	_, _, err := p.Process(context.Background(), testJob())
	require.NotNil(t, err)
	_, err = os.Stat(f.loader.dir)
	assert.True(t, os.IsNotExist(err))
}

func TestProcess_FetchFailure(t *testing.T) {
	p, f := initPipeline(t)
	f.loader.failFetch = true
	_, _, err := p.Process(context.Background(), testJob())
	assert.NotNil(t, err)
}

func TestProcess_ResolveFailure(t *testing.T) {
	p, f := initPipeline(t)
	f.resolver.fail = true
	_, _, err := p.Process(context.Background(), testJob())
	assert.NotNil(t, err)
}
