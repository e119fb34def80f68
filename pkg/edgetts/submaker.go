package edgetts

import (
	"fmt"
	"math"
	"strings"
)

// SubMaker turns word-boundary results into a WebVTT subtitle document.
// Words are accumulated in arrival order with CreateSub and grouped into
// cues by GenerateSubs.
type SubMaker struct {
	cues []subCue
}

type subCue struct {
	start float64
	end   float64
	text  string
}

// NewSubMaker returns an empty SubMaker.
func NewSubMaker() *SubMaker {
	return &SubMaker{}
}

// CreateSub records one word with its offset and duration in ticks. The
// text is expected in the escaped form the service delivers it in.
func (s *SubMaker) CreateSub(offset, duration int, text string) {
	s.cues = append(s.cues, subCue{
		start: float64(offset),
		end:   float64(offset + duration),
		text:  text,
	})
}

// FeedBoundary records a BoundaryResult, so a SubMaker can be used directly
// as a Stream sink target.
func (s *SubMaker) FeedBoundary(b BoundaryResult) {
	s.CreateSub(b.Offset, b.Duration, b.Text)
}

// GenerateSubs renders the WebVTT document. Consecutive words are grouped
// into cues of wordsInCue words (the last cue may be shorter); a cue spans
// from its first word's start to its last word's end.
func (s *SubMaker) GenerateSubs(wordsInCue int) (string, error) {
	if wordsInCue <= 0 {
		return "", fmt.Errorf("%w: wordsInCue must be greater than 0", ErrInvalidArgument)
	}

	var b strings.Builder
	b.WriteString("WEBVTT\r\n\r\n")

	count := 0
	start := -1.0
	joined := ""

	for i, cue := range s.cues {
		// Word boundaries are guaranteed not to contain whitespace.
		if joined != "" {
			joined += " "
		}
		joined += unescape(cue.text)

		if start == -1.0 {
			start = cue.start
		}
		count++

		if count == wordsInCue || i == len(s.cues)-1 {
			b.WriteString(formatCue(start, cue.end, wrapCueText(joined)))
			count = 0
			start = -1.0
			joined = ""
		}
	}
	return b.String(), nil
}

// wrapCueText breaks cue text into 79-character lines. A line cut at a space
// just drops the space; a line cut mid-word gets a trailing hyphen to signal
// continuation.
func wrapCueText(text string) string {
	var lines []string
	for i := 0; i < len(text); i += 79 {
		end := i + 79
		if end > len(text) {
			end = len(text)
		}
		lines = append(lines, text[i:end])
	}
	for i := 0; i < len(lines)-1; i++ {
		line := lines[i]
		splitAtWord := true
		if strings.HasSuffix(line, " ") {
			lines[i] = line[:len(line)-1]
			splitAtWord = false
		}
		if strings.HasPrefix(line, " ") {
			lines[i] = line[1:]
			splitAtWord = false
		}
		if splitAtWord {
			lines[i] += "-"
		}
	}
	return strings.Join(lines, "\r\n")
}

// formatCue renders one cue block with its timecode line.
func formatCue(start, end float64, text string) string {
	return fmt.Sprintf("%s --> %s\r\n%s\r\n\r\n",
		makeTimestamp(start), makeTimestamp(end), escape(text))
}

// makeTimestamp renders ticks as a 00:00:00.000 timecode.
func makeTimestamp(ticks float64) string {
	hours := math.Floor(ticks / TicksPerSecond / 3600)
	minutes := math.Floor(math.Mod(ticks/TicksPerSecond/60, 60))
	seconds := math.Mod(ticks/TicksPerSecond, 60)
	return fmt.Sprintf("%02.0f:%02.0f:%06.3f", hours, minutes, seconds)
}
