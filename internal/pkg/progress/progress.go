package progress

// Stage names reported by the worker pipeline
const (
	Downloading  = "downloading"
	Extracting   = "extracting"
	Transcribing = "transcribing"
	Diarizing    = "diarizing"
	Augmenting   = "augmenting"
	Translating  = "translating"
	Finalizing   = "finalizing"
)

type stageRange struct {
	from, to int32
}

// augmenting overlaps the tail of diarizing on purpose
var stageRanges = map[string]stageRange{
	Downloading:  {0, 10},
	Extracting:   {10, 30},
	Transcribing: {30, 50},
	Diarizing:    {50, 80},
	Augmenting:   {75, 80},
	Translating:  {80, 90},
	Finalizing:   {90, 100},
}

// Start returns the percent value reported on entering a stage
func Start(stage string) int32 {
	r, found := stageRanges[stage]
	if found {
		return r.from
	}
	return 0
}

// In converts a stage-local fraction [0, 1] into a global percent value
// within the stage's sub-range
func In(stage string, frac float64) int32 {
	r, found := stageRanges[stage]
	if !found {
		return 0
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return r.from + int32(frac*float64(r.to-r.from))
}
