package speaker

import (
	"fmt"
	"math"
)

// globalSpeaker is one registry entry: a running centroid over every
// local speaker matched to it so far
type globalSpeaker struct {
	id       string
	centroid []float32
	count    int
}

// registry grows global speaker identities one group at a time
type registry struct {
	threshold float64
	speakers  []*globalSpeaker
}

func newRegistry(threshold float64) *registry {
	return &registry{threshold: threshold}
}

// assign matches an embedding against every known centroid and returns the
// global id. The single best match at or above the threshold wins, exact ties
// resolve to the earliest-created id. Without a match a new id is minted
func (r *registry) assign(embedding []float32) string {
	bestSim := -1.0
	bestIdx := -1
	for i, gs := range r.speakers {
		sim := cosine(gs.centroid, embedding)
		if sim >= r.threshold && sim > bestSim {
			bestSim = sim
			bestIdx = i
		}
	}
	if bestIdx >= 0 {
		gs := r.speakers[bestIdx]
		gs.centroid = meld(gs.centroid, gs.count, embedding)
		gs.count++
		return gs.id
	}
	gs := &globalSpeaker{id: fmt.Sprintf("S%d", len(r.speakers)+1),
		centroid: normalize(embedding), count: 1}
	r.speakers = append(r.speakers, gs)
	return gs.id
}

// meld folds one more embedding into a running centroid:
// normalize(centroid * count + embedding)
func meld(centroid []float32, count int, embedding []float32) []float32 {
	res := make([]float32, len(centroid))
	for i := range centroid {
		res[i] = centroid[i]*float32(count) + embedding[i]
	}
	return normalize(res)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	res := make([]float32, len(v))
	if norm == 0 {
		copy(res, v)
		return res
	}
	for i, x := range v {
		res[i] = float32(float64(x) / norm)
	}
	return res
}

// average returns the unit-normalized mean of several embeddings
func average(embeddings [][]float32) []float32 {
	if len(embeddings) == 0 {
		return nil
	}
	res := make([]float32, len(embeddings[0]))
	for _, e := range embeddings {
		for i := range e {
			res[i] += e[i]
		}
	}
	for i := range res {
		res[i] /= float32(len(embeddings))
	}
	return normalize(res)
}
