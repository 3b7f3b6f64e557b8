package directive

import (
	"regexp"
	"strings"
)

// SegmentType classifies a slice of assistant text for display.
type SegmentType string

const (
	SegmentText    SegmentType = "text"
	SegmentCommand SegmentType = "command"
	SegmentFile    SegmentType = "file"
)

// Segment is one displayable part of an assistant reply.
type Segment struct {
	Type    SegmentType `json:"type"`
	Content string      `json:"content"`
	Path    string      `json:"path,omitempty"`
}

var segmentPattern = regexp.MustCompile(`<run>([\s\S]*?)</run>|<write_file\s+path="([^"]+)">([\s\S]*?)</write_file>`)

// Split breaks assistant text into text, command and file segments, in
// order. Unlike Parse it reports every tag, since a reader wants to see all
// of them even though only the first one runs. Whitespace-only text between
// tags is dropped.
func Split(text string) []Segment {
	var segs []Segment
	last := 0
	for _, loc := range segmentPattern.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > last {
			segs = appendText(segs, text[last:loc[0]])
		}
		if loc[2] >= 0 {
			segs = append(segs, Segment{
				Type:    SegmentCommand,
				Content: strings.TrimSpace(text[loc[2]:loc[3]]),
			})
		} else {
			segs = append(segs, Segment{
				Type:    SegmentFile,
				Path:    text[loc[4]:loc[5]],
				Content: strings.TrimSpace(text[loc[6]:loc[7]]),
			})
		}
		last = loc[1]
	}
	if last < len(text) {
		segs = appendText(segs, text[last:])
	}
	return segs
}

func appendText(segs []Segment, s string) []Segment {
	if strings.TrimSpace(s) == "" {
		return segs
	}
	return append(segs, Segment{Type: SegmentText, Content: s})
}
