package speaker

import (
	"context"
	"sort"

	"github.com/voicegrid/transched/internal/pkg/cmdapp"
	"github.com/pkg/errors"
)

// File is one contiguous audio chunk of the input timeline
type File struct {
	Path     string
	Duration float64
}

// Turn is one speaker turn. Within a group the speaker label is local,
// after resolution it is a global id
type Turn struct {
	Start   float64
	End     float64
	Speaker string
}

// TurnDetector is the diarization turn model. Load/Unload are first-class
// transitions, the model must not stay resident outside its phase
type TurnDetector interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
	// Detect returns turns over the concatenation of the files,
	// time-stamped and labeled locally to this call
	Detect(ctx context.Context, paths []string) ([]Turn, error)
}

// Embedder is the speaker embedding model
type Embedder interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
	// Embed returns a fixed-length vector for a span of one file
	Embed(ctx context.Context, path string, start, end float64) ([]float32, error)
}

// Resolver unifies per-group local speaker labels into global ids without
// ever holding more than one group's audio spans in flight
type Resolver struct {
	detector TurnDetector
	embedder Embedder

	groupDur        float64
	minTurnDur      float64
	turnsPerSpeaker int
	threshold       float64
}

// NewResolver creates the resolver configured from the app config
func NewResolver(detector TurnDetector, embedder Embedder) (*Resolver, error) {
	cmdapp.Config.SetDefault("speaker.groupDuration", 900.0)
	cmdapp.Config.SetDefault("speaker.minTurnDuration", 0.5)
	cmdapp.Config.SetDefault("speaker.turnsPerSpeaker", 5)
	cmdapp.Config.SetDefault("speaker.matchThreshold", 0.7)
	return newResolver(detector, embedder,
		cmdapp.Config.GetFloat64("speaker.groupDuration"),
		cmdapp.Config.GetFloat64("speaker.minTurnDuration"),
		cmdapp.Config.GetInt("speaker.turnsPerSpeaker"),
		cmdapp.Config.GetFloat64("speaker.matchThreshold"))
}

func newResolver(detector TurnDetector, embedder Embedder, groupDur, minTurnDur float64,
	turnsPerSpeaker int, threshold float64) (*Resolver, error) {
	if detector == nil {
		return nil, errors.New("No turn detector provided")
	}
	if embedder == nil {
		return nil, errors.New("No embedder provided")
	}
	if groupDur <= 0 {
		return nil, errors.New("Wrong or no speaker.groupDuration")
	}
	if minTurnDur <= 0 {
		return nil, errors.New("Wrong or no speaker.minTurnDuration")
	}
	if turnsPerSpeaker < 1 {
		return nil, errors.New("Wrong or no speaker.turnsPerSpeaker")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, errors.New("Wrong or no speaker.matchThreshold")
	}
	return &Resolver{detector: detector, embedder: embedder, groupDur: groupDur,
		minTurnDur: minTurnDur, turnsPerSpeaker: turnsPerSpeaker, threshold: threshold}, nil
}

type group struct {
	offset float64 // seconds into the global timeline
	files  []File
	starts []float64 // group-local start of each file
	turns  []Turn    // group-local times and labels
	labels []string  // local labels in deterministic order
	reps   map[string][]float32
}

// Resolve runs turn detection over every group, extracts one representative
// embedding per local speaker per group and matches them into a global
// registry. The two models are never resident at the same time
func (r *Resolver) Resolve(ctx context.Context, files []File) ([]Turn, error) {
	if len(files) == 0 {
		return nil, nil
	}
	groups := partition(files, r.groupDur)
	cmdapp.Log.Infof("Resolving speakers over %d group(s)", len(groups))

	if err := r.detector.Load(ctx); err != nil {
		return nil, errors.Wrap(err, "can't load turn detection model")
	}
	derr := r.detectAll(ctx, groups)
	uerr := r.detector.Unload(ctx)
	if derr != nil {
		return nil, errors.Wrap(derr, "turn detection failed")
	}
	if uerr != nil {
		return nil, errors.Wrap(uerr, "can't unload turn detection model")
	}

	if err := r.embedder.Load(ctx); err != nil {
		return nil, errors.Wrap(err, "can't load embedding model")
	}
	eerr := r.embedAll(ctx, groups)
	uerr = r.embedder.Unload(ctx)
	if eerr != nil {
		return nil, errors.Wrap(eerr, "embedding failed")
	}
	if uerr != nil {
		return nil, errors.Wrap(uerr, "can't unload embedding model")
	}

	// matching is purely numeric, no model involved
	return resolveGroups(groups, r.threshold), nil
}

func partition(files []File, groupDur float64) []group {
	var res []group
	var cur group
	var globalAt, groupAt float64
	cur.offset = 0
	for _, f := range files {
		if groupAt >= groupDur {
			res = append(res, cur)
			cur = group{offset: globalAt}
			groupAt = 0
		}
		cur.files = append(cur.files, f)
		cur.starts = append(cur.starts, groupAt)
		groupAt += f.Duration
		globalAt += f.Duration
	}
	if len(cur.files) > 0 {
		res = append(res, cur)
	}
	return res
}

func (r *Resolver) detectAll(ctx context.Context, groups []group) error {
	for gi := range groups {
		paths := make([]string, len(groups[gi].files))
		for i, f := range groups[gi].files {
			paths[i] = f.Path
		}
		turns, err := r.detector.Detect(ctx, paths)
		if err != nil {
			return errors.Wrapf(err, "group %d", gi)
		}
		groups[gi].turns = turns
	}
	return nil
}

func (r *Resolver) embedAll(ctx context.Context, groups []group) error {
	for gi := range groups {
		if err := r.embedGroup(ctx, &groups[gi]); err != nil {
			return errors.Wrapf(err, "group %d", gi)
		}
	}
	return nil
}

func (r *Resolver) embedGroup(ctx context.Context, g *group) error {
	bySpeaker := map[string][]Turn{}
	for _, t := range g.turns {
		bySpeaker[t.Speaker] = append(bySpeaker[t.Speaker], t)
	}
	g.reps = map[string][]float32{}
	g.labels = sortedKeys(bySpeaker)
	for _, label := range g.labels {
		selected := selectTurns(bySpeaker[label], r.minTurnDur, r.turnsPerSpeaker)
		var embeddings [][]float32
		for _, t := range selected {
			path, fStart, fEnd := g.locate(t)
			e, err := r.embedder.Embed(ctx, path, fStart, fEnd)
			if err != nil {
				return errors.Wrapf(err, "speaker %s", label)
			}
			embeddings = append(embeddings, e)
		}
		g.reps[label] = average(embeddings)
	}
	return nil
}

// selectTurns picks the speaker's best segments: the longest turns of at
// least the minimum duration, falling back to the single longest turn when
// none qualify
func selectTurns(turns []Turn, minDur float64, max int) []Turn {
	sorted := make([]Turn, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := sorted[i].End-sorted[i].Start, sorted[j].End-sorted[j].Start
		if di != dj {
			return di > dj
		}
		return sorted[i].Start < sorted[j].Start
	})
	var res []Turn
	for _, t := range sorted {
		if t.End-t.Start >= minDur {
			res = append(res, t)
			if len(res) == max {
				break
			}
		}
	}
	if len(res) == 0 && len(sorted) > 0 {
		res = sorted[:1]
	}
	return res
}

// locate maps a group-local turn to its containing file and file-local span.
// A turn crossing a file boundary is clamped to the file it starts in
func (g *group) locate(t Turn) (string, float64, float64) {
	for i := len(g.files) - 1; i >= 0; i-- {
		if t.Start >= g.starts[i] {
			start := t.Start - g.starts[i]
			end := t.End - g.starts[i]
			if end > g.files[i].Duration {
				end = g.files[i].Duration
			}
			return g.files[i].Path, start, end
		}
	}
	return g.files[0].Path, t.Start, t.End
}

// resolveGroups is the pure matching phase: groups are walked in timeline
// order, every local speaker is matched against the registry and every turn
// is rewritten to its global id and global timestamps
func resolveGroups(groups []group, threshold float64) []Turn {
	reg := newRegistry(threshold)
	var res []Turn
	for _, g := range groups {
		mapping := map[string]string{}
		for _, label := range g.labels {
			mapping[label] = reg.assign(g.reps[label])
		}
		for _, t := range g.turns {
			gid, found := mapping[t.Speaker]
			if !found {
				gid = t.Speaker
			}
			res = append(res, Turn{Start: g.offset + t.Start, End: g.offset + t.End, Speaker: gid})
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].Start != res[j].Start {
			return res[i].Start < res[j].Start
		}
		return res[i].End < res[j].End
	})
	return res
}

func sortedKeys(m map[string][]Turn) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}
