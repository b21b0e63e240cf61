package speaker

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	events *[]string
	turns  map[string][]Turn // keyed by the first path of the call
	err    error
}

func (f *fakeDetector) Load(ctx context.Context) error {
	*f.events = append(*f.events, "det.load")
	return nil
}

func (f *fakeDetector) Unload(ctx context.Context) error {
	*f.events = append(*f.events, "det.unload")
	return nil
}

func (f *fakeDetector) Detect(ctx context.Context, paths []string) ([]Turn, error) {
	*f.events = append(*f.events, "det.detect")
	if f.err != nil {
		return nil, f.err
	}
	return f.turns[paths[0]], nil
}

type fakeEmbedder struct {
	events *[]string
	vecs   map[string][]float32 // keyed by "path:start"
	err    error
}

func (f *fakeEmbedder) Load(ctx context.Context) error {
	*f.events = append(*f.events, "emb.load")
	return nil
}

func (f *fakeEmbedder) Unload(ctx context.Context) error {
	*f.events = append(*f.events, "emb.unload")
	return nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, path string, start, end float64) ([]float32, error) {
	*f.events = append(*f.events, "emb.embed")
	if f.err != nil {
		return nil, f.err
	}
	v, found := f.vecs[fmt.Sprintf("%s:%.0f", path, start)]
	if !found {
		return nil, errors.Errorf("no fake vector for %s:%.0f", path, start)
	}
	return v, nil
}

func initResolver(t *testing.T, det *fakeDetector, emb *fakeEmbedder) *Resolver {
	t.Helper()
	r, err := newResolver(det, emb, 900, 0.5, 5, 0.7)
	require.Nil(t, err)
	return r
}

func newFakes() (*fakeDetector, *fakeEmbedder, *[]string) {
	events := &[]string{}
	return &fakeDetector{events: events, turns: map[string][]Turn{}},
		&fakeEmbedder{events: events, vecs: map[string][]float32{}}, events
}

func TestNewResolver_Fails(t *testing.T) {
	det, emb, _ := newFakes()
	_, err := newResolver(nil, emb, 900, 0.5, 5, 0.7)
	assert.NotNil(t, err)
	_, err = newResolver(det, nil, 900, 0.5, 5, 0.7)
	assert.NotNil(t, err)
	_, err = newResolver(det, emb, 0, 0.5, 5, 0.7)
	assert.NotNil(t, err)
	_, err = newResolver(det, emb, 900, 0, 5, 0.7)
	assert.NotNil(t, err)
	_, err = newResolver(det, emb, 900, 0.5, 0, 0.7)
	assert.NotNil(t, err)
	_, err = newResolver(det, emb, 900, 0.5, 5, 0)
	assert.NotNil(t, err)
	_, err = newResolver(det, emb, 900, 0.5, 5, 1.5)
	assert.NotNil(t, err)
}

func TestResolve_Empty(t *testing.T) {
	det, emb, _ := newFakes()
	r := initResolver(t, det, emb)
	turns, err := r.Resolve(context.Background(), nil)
	assert.Nil(t, err)
	assert.Nil(t, turns)
}

func TestPartition(t *testing.T) {
	files := []File{{"a", 300}, {"b", 300}, {"c", 300}, {"d", 300}}
	groups := partition(files, 900)
	require.Equal(t, 2, len(groups))
	assert.Equal(t, 3, len(groups[0].files))
	assert.Equal(t, 0.0, groups[0].offset)
	assert.Equal(t, []float64{0, 300, 600}, groups[0].starts)
	assert.Equal(t, 1, len(groups[1].files))
	assert.Equal(t, 900.0, groups[1].offset)
}

func TestPartition_SingleLongFile(t *testing.T) {
	groups := partition([]File{{"a", 1800}}, 900)
	require.Equal(t, 1, len(groups))
}

func TestSelectTurns(t *testing.T) {
	turns := []Turn{
		{0, 1, "A"}, {2, 4, "A"}, {5, 5.2, "A"}, {6, 9, "A"},
		{10, 11, "A"}, {12, 14, "A"}, {15, 20, "A"},
	}
	res := selectTurns(turns, 0.5, 5)
	require.Equal(t, 5, len(res))
	// longest first
	assert.Equal(t, Turn{15, 20, "A"}, res[0])
	assert.Equal(t, Turn{6, 9, "A"}, res[1])
	// the 0.2s turn is never selected
	for _, tr := range res {
		assert.True(t, tr.End-tr.Start >= 0.5)
	}
}

func TestSelectTurns_FallbackToLongest(t *testing.T) {
	turns := []Turn{{0, 0.2, "A"}, {1, 1.4, "A"}, {2, 2.1, "A"}}
	res := selectTurns(turns, 0.5, 5)
	require.Equal(t, 1, len(res))
	assert.Equal(t, Turn{1, 1.4, "A"}, res[0])
}

func TestLocate(t *testing.T) {
	g := group{files: []File{{"a", 300}, {"b", 300}}, starts: []float64{0, 300}}
	path, start, end := g.locate(Turn{Start: 310, End: 320})
	assert.Equal(t, "b", path)
	assert.Equal(t, 10.0, start)
	assert.Equal(t, 20.0, end)
	// a turn crossing the file end is clamped
	path, _, end = g.locate(Turn{Start: 290, End: 310})
	assert.Equal(t, "a", path)
	assert.Equal(t, 300.0, end)
}

// the end-to-end scenario: two groups, speakers A,B in the first and X,Y in
// the second, X close to A, Y new - expect 3 global speakers and group 2
// timestamps offset by 900s
func TestResolve_CrossGroupIdentity(t *testing.T) {
	det, emb, _ := newFakes()
	det.turns["g1"] = []Turn{
		{0, 10, "A"}, {20, 30, "A"}, {40, 50, "B"},
	}
	det.turns["g2"] = []Turn{
		{5, 15, "X"}, {30, 40, "Y"},
	}
	emb.vecs["g1:0"] = []float32{1, 0, 0}
	emb.vecs["g1:20"] = []float32{1, 0, 0}
	emb.vecs["g1:40"] = []float32{0, 1, 0}
	emb.vecs["g2:5"] = []float32{0.9, 0.1, 0} // cos to A ~ 0.99
	emb.vecs["g2:30"] = []float32{0, 0, 1}

	r := initResolver(t, det, emb)
	turns, err := r.Resolve(context.Background(), []File{{"g1", 900}, {"g2", 900}})
	require.Nil(t, err)
	require.Equal(t, 5, len(turns))

	// sorted by global start
	assert.Equal(t, Turn{0, 10, "S1"}, turns[0])
	assert.Equal(t, Turn{20, 30, "S1"}, turns[1])
	assert.Equal(t, Turn{40, 50, "S2"}, turns[2])
	// X resolved to A's id, offset into the global timeline
	assert.Equal(t, Turn{905, 915, "S1"}, turns[3])
	// Y got a fresh id
	assert.Equal(t, Turn{930, 940, "S3"}, turns[4])
}

func TestResolve_Deterministic(t *testing.T) {
	run := func() []Turn {
		det, emb, _ := newFakes()
		det.turns["g1"] = []Turn{{0, 10, "A"}, {15, 25, "B"}, {30, 42, "C"}}
		emb.vecs["g1:0"] = []float32{1, 0, 0}
		emb.vecs["g1:15"] = []float32{0, 1, 0}
		emb.vecs["g1:30"] = []float32{0.5, 0.5, 0.1}
		r := initResolver(t, det, emb)
		turns, err := r.Resolve(context.Background(), []File{{"g1", 900}})
		require.Nil(t, err)
		return turns
	}
	first := run()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, run())
	}
}

func TestResolve_ModelPhaseOrdering(t *testing.T) {
	det, emb, events := newFakes()
	det.turns["g1"] = []Turn{{0, 10, "A"}}
	det.turns["g2"] = []Turn{{0, 10, "A"}}
	emb.vecs["g1:0"] = []float32{1, 0}
	emb.vecs["g2:0"] = []float32{1, 0}

	r := initResolver(t, det, emb)
	_, err := r.Resolve(context.Background(), []File{{"g1", 900}, {"g2", 900}})
	require.Nil(t, err)

	assert.Equal(t, []string{"det.load", "det.detect", "det.detect", "det.unload",
		"emb.load", "emb.embed", "emb.embed", "emb.unload"}, *events)
}

func TestResolve_UnloadsOnDetectError(t *testing.T) {
	det, emb, events := newFakes()
	det.err = errors.New("olia")

	r := initResolver(t, det, emb)
	_, err := r.Resolve(context.Background(), []File{{"g1", 900}})
	assert.NotNil(t, err)
	assert.Equal(t, []string{"det.load", "det.detect", "det.unload"}, *events)
}

func TestResolve_UnloadsOnEmbedError(t *testing.T) {
	det, emb, events := newFakes()
	det.turns["g1"] = []Turn{{0, 10, "A"}}
	emb.err = errors.New("olia")

	r := initResolver(t, det, emb)
	_, err := r.Resolve(context.Background(), []File{{"g1", 900}})
	assert.NotNil(t, err)
	assert.Equal(t, []string{"det.load", "det.detect", "det.unload",
		"emb.load", "emb.embed", "emb.unload"}, *events)
}
