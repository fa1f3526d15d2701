// Package bubble turns parsed reply segments into the messages the player
// emits: emoji frequency throttling, voice durations and re-splitting of long
// text into phone-sized bubbles.
package bubble

import (
	"math/rand/v2"
	"strings"
	"unicode/utf8"

	"github.com/comigor/phonechat-go/internal/emoji"
	"github.com/comigor/phonechat-go/internal/history"
	"github.com/comigor/phonechat-go/internal/logger"
	"github.com/comigor/phonechat-go/internal/protocol"
)

const (
	// ShortLimit is the longest text that is always emitted as one bubble.
	ShortLimit = 40
	// EssayLength and above is a deliberate long message, never split.
	EssayLength = 200
	ChunkSize   = 32
	Lookback    = 16

	DefaultEmojiWindow = 6

	// voice reading rate in characters per second
	voiceCharsPerSecond = 3
)

// Draft is a message waiting to be appended.
type Draft struct {
	Kind                 history.Kind
	Text                 string
	EmojiKey             string
	VoiceDurationSeconds int
	VoiceNote            string
}

// Processor applies the realism rules. Rand returns values in [0, 1); nil
// uses math/rand.
type Processor struct {
	Catalog     emoji.Catalog
	Rand        func() float64
	EmojiWindow int
}

// AcceptProbability is the chance of letting a proposed emoji through given how
// many of the recent character messages already were emoji.
func AcceptProbability(recentEmoji int) float64 {
	switch {
	case recentEmoji <= 0:
		return 0.7
	case recentEmoji == 1:
		return 0.35
	default:
		return 0
	}
}

// RecentEmojiCount counts emoji among the last window character messages.
func RecentEmojiCount(msgs []history.Message, window int) int {
	seen, count := 0, 0
	for i := len(msgs) - 1; i >= 0 && seen < window; i-- {
		if msgs[i].Sender != history.SenderCharacter {
			continue
		}
		seen++
		if msgs[i].Kind == history.KindEmoji {
			count++
		}
	}
	return count
}

// Process converts segments into drafts. recent is the visible conversation
// before this turn. The result may be empty when the only proposals were
// throttled emoji.
func (p *Processor) Process(segments []protocol.Segment, recent []history.Message) []Draft {
	window := p.EmojiWindow
	if window <= 0 {
		window = DefaultEmojiWindow
	}
	recentEmoji := RecentEmojiCount(recent, window)
	emojiTaken := false

	var out []Draft
	for _, seg := range segments {
		switch seg.Kind {
		case protocol.SegmentEmoji:
			e, ok := p.lookup(seg.EmojiKey)
			if !ok {
				text := seg.EmojiKey
				if seg.Bare {
					text = seg.Text
				}
				out = append(out, textDrafts(text)...)
				continue
			}
			if emojiTaken {
				logger.L.Debug("emoji dropped: one per turn", "key", e.Key)
				continue
			}
			if p.roll() >= AcceptProbability(recentEmoji) {
				logger.L.Debug("emoji dropped by throttle", "key", e.Key, "recent", recentEmoji)
				continue
			}
			emojiTaken = true
			out = append(out, Draft{Kind: history.KindEmoji, Text: e.Tag, EmojiKey: e.Key})

		case protocol.SegmentVoice:
			transcript := emoji.Strip(seg.Text)
			if transcript == "" {
				continue
			}
			out = append(out, Draft{
				Kind:                 history.KindVoice,
				Text:                 transcript,
				VoiceDurationSeconds: VoiceDuration(transcript),
				VoiceNote:            seg.SoundNote,
			})

		default:
			out = append(out, textDrafts(seg.Text)...)
		}
	}
	return out
}

func (p *Processor) lookup(key string) (emoji.Emoji, bool) {
	if p.Catalog == nil {
		return emoji.Emoji{}, false
	}
	return p.Catalog.Lookup(key)
}

func (p *Processor) roll() float64 {
	if p.Rand == nil {
		return rand.Float64()
	}
	return p.Rand()
}

func textDrafts(text string) []Draft {
	var out []Draft
	for _, chunk := range Resplit(text) {
		out = append(out, Draft{Kind: history.KindText, Text: chunk})
	}
	return out
}

// VoiceDuration is the whole-second length of a voice message reading
// transcript at three characters per second, at least one second.
func VoiceDuration(transcript string) int {
	n := utf8.RuneCountInString(transcript)
	d := (n + voiceCharsPerSecond - 1) / voiceCharsPerSecond
	if d < 1 {
		return 1
	}
	return d
}

func isBreak(r rune) bool {
	return strings.ContainsRune("，。！？、；：,.!?;:~～…", r)
}

func trimChunk(rs []rune) string {
	return strings.TrimRight(strings.TrimSpace(string(rs)), "，,、 ")
}

// Resplit breaks a text segment into bubbles. Texts of ShortLimit runes or
// fewer, and texts of EssayLength runes or more, come back unchanged. Otherwise
// chunks of about ChunkSize runes are cut after the closest punctuation mark
// within Lookback runes; when none is found the remainder stays whole.
func Resplit(text string) []string {
	text = strings.TrimSpace(text)
	rs := []rune(text)
	if len(rs) == 0 {
		return nil
	}
	if len(rs) <= ShortLimit || len(rs) >= EssayLength {
		return []string{text}
	}

	var out []string
	for len(rs) > ChunkSize {
		cut := -1
		for i := ChunkSize - 1; i >= ChunkSize-Lookback; i-- {
			if isBreak(rs[i]) {
				cut = i
				break
			}
		}
		if cut < 0 {
			break
		}
		if chunk := trimChunk(rs[:cut+1]); chunk != "" {
			out = append(out, chunk)
		}
		rs = []rune(strings.TrimLeft(string(rs[cut+1:]), " "))
	}
	if rest := trimChunk(rs); rest != "" {
		out = append(out, rest)
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}
