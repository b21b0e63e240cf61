package errc

import "strings"

// Coarse user-facing error codes
const (
	// FileNotFound - the source media could not be located
	FileNotFound = "FILE_NOT_FOUND"
	// AudioExtraction - audio conversion/chunking failed
	AudioExtraction = "AUDIO_EXTRACTION_ERROR"
	// Transcription - transcription model failed
	Transcription = "TRANSCRIPTION_ERROR"
	// Diarization - turn detection, embedding or identity resolution failed
	Diarization = "DIARIZATION_ERROR"
	// Storage - datastore or object storage failed
	Storage = "STORAGE_ERROR"
	// Processing is the default catch-all code
	Processing = "PROCESSING_ERROR"
)

type category struct {
	code     string
	keywords []string
}

// match order matters: first category with a hit wins
var categories = []category{
	{FileNotFound, []string{"no such file", "not found", "does not exist", "404", "download"}},
	{AudioExtraction, []string{"extract", "ffmpeg", "ffprobe", "audio convert", "chunk"}},
	{Transcription, []string{"transcri"}},
	{Diarization, []string{"diariz", "turn detect", "embed", "speaker"}},
	{Storage, []string{"mongo", "datastore", "storage", "upload"}},
}

// CodeExtractor derives a coarse error code from error message text.
// It is a best-effort keyword heuristic, imprecision is accepted.
type CodeExtractor struct {
}

// Get returns the error code for a message
func (ce CodeExtractor) Get(msg string) string {
	lmsg := strings.ToLower(msg)
	for _, c := range categories {
		for _, k := range c.keywords {
			if strings.Contains(lmsg, k) {
				return c.code
			}
		}
	}
	return Processing
}
