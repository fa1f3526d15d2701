package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Busy(t *testing.T) {
	cases := []struct {
		raw     string
		minutes int
		note    string
	}{
		{"[BUSY:5] ...", 5, "..."},
		{"  [busy：3]  ", 3, ""},
		{"[BUSY:30] in a meeting", MaxBusyMinutes, "in a meeting"},
		{"[BUSY:0]", MinBusyMinutes, ""},
		{"[BUSY:99999999999999999999]", MaxBusyMinutes, ""},
	}
	for _, tc := range cases {
		out := Parse(tc.raw)
		busy, ok := out.(Busy)
		require.True(t, ok, "raw %q gave %#v", tc.raw, out)
		require.Equal(t, tc.minutes, busy.Minutes)
		require.Equal(t, tc.note, busy.Note)
	}
}

func TestParse_NoReply(t *testing.T) {
	for raw, reason := range map[string]string{
		"[NO_REPLY:too tired]": "too tired",
		"[NO_REPLY] meh":       "meh",
		"[no reply]":           "",
		"[NOREPLY：不想理你]":       "不想理你",
	} {
		out := Parse(raw)
		nr, ok := out.(NoReply)
		require.True(t, ok, "raw %q gave %#v", raw, out)
		require.Equal(t, reason, nr.Reason)
	}
}

func TestParse_DirectiveMixedWithProseIsDialogue(t *testing.T) {
	cases := []string{
		"[BUSY:5] sorry\nwhat's up?",
		"hey\n[NO_REPLY:whatever]",
		"[NO_REPLY:tired] but actually here is a long explanation of why I am not answering you",
		"[NO_REPLY:a] b",
		"[BUSY:5] " + strings.Repeat("very long note ", 5),
	}
	for _, raw := range cases {
		out := Parse(raw)
		normal, ok := out.(Normal)
		require.True(t, ok, "raw %q gave %#v", raw, out)
		require.NotEmpty(t, normal.Segments)
		for _, seg := range normal.Segments {
			require.Equal(t, SegmentText, seg.Kind)
		}
	}
	require.True(t, Parse("[BUSY:5] sorry\nwhat's up?").(Normal).Ambiguous)
}

func TestParse_NormalClassifiesLines(t *testing.T) {
	raw := "hey!\n\n[VOICE] (laughs) you won't believe it\n[EMOJI:wave]\n[wave]\n[VOICE: call me]\n[STATUS:odd] stays text"
	normal, ok := Parse(raw).(Normal)
	require.True(t, ok)
	require.False(t, normal.Ambiguous)
	require.Equal(t, []Segment{
		{Kind: SegmentText, Text: "hey!"},
		{Kind: SegmentVoice, Text: "you won't believe it", SoundNote: "laughs"},
		{Kind: SegmentEmoji, EmojiKey: "wave", Text: "wave"},
		{Kind: SegmentEmoji, EmojiKey: "wave", Text: "[wave]", Bare: true},
		{Kind: SegmentVoice, Text: "call me"},
		{Kind: SegmentText, Text: "[STATUS:odd] stays text"},
	}, normal.Segments)
}

func TestParse_SingleLongLineFallsBackToSentences(t *testing.T) {
	raw := "I went to the store today. They were out of milk! So I came back home."
	normal := Parse(raw).(Normal)
	require.Equal(t, []Segment{
		{Kind: SegmentText, Text: "I went to the store today."},
		{Kind: SegmentText, Text: "They were out of milk!"},
		{Kind: SegmentText, Text: "So I came back home."},
	}, normal.Segments)

	short := "Hi. How are you?"
	require.Equal(t, []Segment{{Kind: SegmentText, Text: short}}, Parse(short).(Normal).Segments)

	essay := strings.Repeat("This is a long thought. ", 10)
	require.GreaterOrEqual(t, len([]rune(strings.TrimSpace(essay))), essayLength)
	require.Len(t, Parse(essay).(Normal).Segments, 1)
}

func TestParse_ExactlyOneOutcome(t *testing.T) {
	inputs := []string{
		"", "   \n\n ", "hi", "[BUSY:5]", "[NO_REPLY:x]", "[BUSY:abc]", "[BUSY:]", "[NO_REPLY",
		"[[EMOJI:x]]", "[VOICE]", "🙂", "[BUSY:2]\n[NO_REPLY:x]", strings.Repeat("a", 500),
	}
	for _, raw := range inputs {
		count := 0
		switch o := Parse(raw).(type) {
		case Busy:
			count++
		case NoReply:
			count++
		case Normal:
			require.NotEmpty(t, o.Segments, "raw %q", raw)
			count++
		}
		require.Equal(t, 1, count, "raw %q", raw)
	}
	require.Equal(t, []Segment{{Kind: SegmentText, Text: "…"}}, Parse("").(Normal).Segments)
}

func TestSplitSentences(t *testing.T) {
	require.Equal(t, []string{"今天好累。", "你呢？", "早点睡吧~"}, SplitSentences("今天好累。你呢？早点睡吧~"))
	require.Equal(t, []string{"It costs 3.5 dollars.", "Wow!!", "\"Really?\"", "yes"},
		SplitSentences("It costs 3.5 dollars. Wow!! \"Really?\" yes"))
	require.Equal(t, []string{"wait...", "what"}, SplitSentences("wait... what"))
}
