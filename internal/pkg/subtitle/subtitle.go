package subtitle

import (
	"fmt"
	"strings"
	"time"

	"github.com/voicegrid/transched/internal/pkg/persistence"
)

// Renderer turns transcript segments into subtitle artifacts
type Renderer struct {
}

// NewRenderer creates a subtitle renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render produces subtitle files keyed by format name
func (r *Renderer) Render(segments []persistence.Segment) map[string]string {
	return map[string]string{
		"srt": RenderSRT(segments),
		"vtt": RenderVTT(segments),
	}
}

// RenderSRT writes segments as SubRip subtitles
func RenderSRT(segments []persistence.Segment) string {
	res := strings.Builder{}
	for i, s := range segments {
		if i > 0 {
			res.WriteString("\n")
		}
		res.WriteString(fmt.Sprintf("%d\n", i+1))
		res.WriteString(writeTime(s.Start, ",") + " --> " + writeTime(s.End, ",") + "\n")
		res.WriteString(segmentText(s) + "\n")
	}
	return res.String()
}

// RenderVTT writes segments as WebVTT subtitles
func RenderVTT(segments []persistence.Segment) string {
	res := strings.Builder{}
	res.WriteString("WEBVTT\n")
	for _, s := range segments {
		res.WriteString("\n")
		res.WriteString(writeTime(s.Start, ".") + " --> " + writeTime(s.End, ".") + "\n")
		res.WriteString(segmentText(s) + "\n")
	}
	return res.String()
}

func segmentText(s persistence.Segment) string {
	text := s.Translation
	if text == "" {
		text = s.Text
	}
	if s.Speaker != "" {
		return s.Speaker + ": " + text
	}
	return text
}

func writeTime(sec float64, millisSep string) string {
	d := time.Duration(sec * float64(time.Second))
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	ms := (d % time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, millisSep, ms)
}
