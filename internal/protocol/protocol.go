// Package protocol turns raw model output into exactly one reply outcome.
//
// The grammar is line based:
//
//	[BUSY:5] in a meeting      whole output: unavailable for 5 minutes
//	[NO_REPLY:saw it, ignoring] whole output: read without replying
//	[EMOJI:wave]               one sticker from the catalog
//	[VOICE] (laughs) see you   a voice message with optional sound note
//	anything else              a text bubble
package protocol

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	MinBusyMinutes = 1
	MaxBusyMinutes = 10

	// maxDirectiveNote bounds the free text allowed next to a BUSY or NO_REPLY
	// directive before the output is treated as dialogue.
	maxDirectiveNote = 40

	fallbackSplitMin = 40
	essayLength      = 200
)

// Instructions describes the grammar to the model. It is appended to the
// persona system prompt.
const Instructions = `Reply like a real person texting on a phone.
Put every chat bubble on its own line. Keep bubbles short.
To send a sticker, put [EMOJI:key] alone on a line. Use stickers rarely.
To send a voice message, start the line with [VOICE], optionally followed by a sound in parentheses, e.g. [VOICE] (laughs) no way.
If you are busy and cannot reply, answer with only [BUSY:n] where n is the minutes (1-10) until you are free, optionally followed by a few words.
If you read the messages but choose not to reply, answer with only [NO_REPLY:short reason].`

// Outcome is one of Busy, NoReply or Normal.
type Outcome interface {
	outcome()
}

// Busy means the character is unavailable for Minutes.
type Busy struct {
	Minutes int
	Note    string
}

// NoReply means the character read the messages and chose not to answer.
type NoReply struct {
	Reason string
}

// Normal carries at least one segment. Ambiguous is set when the output
// contained busy/no-reply directives mixed with dialogue; those lines are kept
// as literal text.
type Normal struct {
	Segments  []Segment
	Ambiguous bool
}

func (Busy) outcome()    {}
func (NoReply) outcome() {}
func (Normal) outcome()  {}

// SegmentKind classifies a parsed line.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentVoice
	SegmentEmoji
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentVoice:
		return "voice"
	case SegmentEmoji:
		return "emoji"
	default:
		return "text"
	}
}

// Segment is one candidate bubble.
type Segment struct {
	Kind      SegmentKind
	Text      string // text, voice transcript, or the literal line for bare emoji
	EmojiKey  string
	SoundNote string
	// Bare marks an emoji written as [key] without the EMOJI prefix. It only
	// counts as an emoji when the catalog knows the key.
	Bare bool
}

var (
	busyRe    = regexp.MustCompile(`(?i)^\[\s*BUSY\s*[:：]\s*(\d+)\s*\]\s*(.*)$`)
	noReplyRe = regexp.MustCompile(`(?i)^\[\s*NO[_ ]?REPLY\s*(?:[:：]\s*([^\]]*))?\]\s*(.*)$`)
	tokenRe   = regexp.MustCompile(`(?i)\[\s*(?:BUSY|NO[_ ]?REPLY)\s*[:：\]]`)

	emojiRe      = regexp.MustCompile(`(?i)^\[\s*(?:EMOJI|STICKER|表情)\s*[:：]\s*([^\]]+?)\s*\]$`)
	bareEmojiRe  = regexp.MustCompile(`^\[\s*([^\[\]\s:：]{1,24})\s*\]$`)
	voiceRe      = regexp.MustCompile(`(?i)^\[\s*(?:VOICE|语音)\s*\]\s*(?:[(（]([^)）]*)[)）])?\s*(.*)$`)
	voiceColonRe = regexp.MustCompile(`(?i)^\[\s*(?:VOICE|语音)\s*[:：]\s*([^\]]*)\]$`)
)

// Parse classifies raw model output. It never fails: anything that does not
// cleanly match a directive is dialogue.
func Parse(raw string) Outcome {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))

	if !strings.Contains(text, "\n") {
		if m := busyRe.FindStringSubmatch(text); m != nil {
			note := strings.TrimSpace(m[2])
			if utf8.RuneCountInString(note) <= maxDirectiveNote {
				return Busy{Minutes: clampMinutes(m[1]), Note: note}
			}
		}
		if m := noReplyRe.FindStringSubmatch(text); m != nil {
			inner, after := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			// a reason both inside and after the brackets is dialogue, not a directive
			if inner == "" || after == "" {
				reason := inner + after
				if utf8.RuneCountInString(reason) <= maxDirectiveNote {
					return NoReply{Reason: reason}
				}
			}
		}
	}

	return parseNormal(text)
}

func parseNormal(text string) Normal {
	var out Normal
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if tokenRe.MatchString(line) {
			out.Ambiguous = true
			out.Segments = append(out.Segments, Segment{Kind: SegmentText, Text: line})
			continue
		}
		out.Segments = append(out.Segments, classifyLine(line))
	}

	if len(out.Segments) == 0 {
		out.Segments = []Segment{{Kind: SegmentText, Text: "…"}}
		return out
	}

	if len(out.Segments) == 1 && out.Segments[0].Kind == SegmentText {
		n := utf8.RuneCountInString(out.Segments[0].Text)
		if n > fallbackSplitMin && n < essayLength {
			if parts := SplitSentences(out.Segments[0].Text); len(parts) > 1 {
				out.Segments = out.Segments[:0]
				for _, p := range parts {
					out.Segments = append(out.Segments, Segment{Kind: SegmentText, Text: p})
				}
			}
		}
	}
	return out
}

func classifyLine(line string) Segment {
	if m := voiceRe.FindStringSubmatch(line); m != nil {
		return Segment{Kind: SegmentVoice, Text: strings.TrimSpace(m[2]), SoundNote: strings.TrimSpace(m[1])}
	}
	if m := voiceColonRe.FindStringSubmatch(line); m != nil {
		return Segment{Kind: SegmentVoice, Text: strings.TrimSpace(m[1])}
	}
	if m := emojiRe.FindStringSubmatch(line); m != nil {
		return Segment{Kind: SegmentEmoji, EmojiKey: m[1], Text: m[1]}
	}
	if m := bareEmojiRe.FindStringSubmatch(line); m != nil {
		return Segment{Kind: SegmentEmoji, EmojiKey: m[1], Text: line, Bare: true}
	}
	return Segment{Kind: SegmentText, Text: line}
}

func clampMinutes(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n > MaxBusyMinutes {
		return MaxBusyMinutes
	}
	if n < MinBusyMinutes {
		return MinBusyMinutes
	}
	return n
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '!', '?', '…', '~', '～', '.':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '」', '』', ')', '）':
		return true
	}
	return false
}

// SplitSentences cuts s after runs of sentence-ending punctuation (and any
// closing quote that follows). A period only ends a sentence when followed by
// whitespace or the end of input, so decimals and abbreviations like "3.5"
// survive.
func SplitSentences(s string) []string {
	rs := []rune(s)
	var parts []string
	start := 0
	for i := 0; i < len(rs); i++ {
		if !isSentenceEnd(rs[i]) {
			continue
		}
		j := i
		for j+1 < len(rs) && (isSentenceEnd(rs[j+1]) || isCloser(rs[j+1])) {
			j++
		}
		if rs[i] == '.' && j == i && j+1 < len(rs) && rs[j+1] != ' ' {
			continue
		}
		if p := strings.TrimSpace(string(rs[start : j+1])); p != "" {
			parts = append(parts, p)
		}
		start = j + 1
		i = j
	}
	if p := strings.TrimSpace(string(rs[start:])); p != "" {
		parts = append(parts, p)
	}
	return parts
}
