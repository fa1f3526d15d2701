// Package emoji holds the view of the externally owned emoji catalog and the
// glyph stripping used for voice transcripts.
package emoji

import (
	"sort"
	"strings"
)

// Emoji is a catalog entry.
type Emoji struct {
	Key string
	Tag string // human-readable description
}

// Catalog resolves emoji keys named by the model.
type Catalog interface {
	Lookup(key string) (Emoji, bool)
}

// MapCatalog is a static catalog keyed case-insensitively.
type MapCatalog map[string]string

// NewMapCatalog builds a catalog from key -> tag pairs.
func NewMapCatalog(entries map[string]string) MapCatalog {
	c := make(MapCatalog, len(entries))
	for k, v := range entries {
		c[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return c
}

func (c MapCatalog) Lookup(key string) (Emoji, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	tag, ok := c[k]
	if !ok {
		return Emoji{}, false
	}
	if tag == "" {
		tag = k
	}
	return Emoji{Key: k, Tag: tag}, true
}

// Keys lists catalog keys in sorted order.
func (c MapCatalog) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Strip removes emoji glyphs, their modifiers and joiners from s and collapses
// the whitespace left behind.
func Strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isEmojiRune(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isEmojiRune(r rune) bool {
	switch {
	case r == 0x200D, r == 0x20E3: // zero width joiner, keycap
		return true
	case r >= 0xFE00 && r <= 0xFE0F: // variation selectors
		return true
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, transport, flags, supplemental
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r >= 0x2B00 && r <= 0x2BFF: // arrows and stars used as emoji
		return true
	case r >= 0xE0020 && r <= 0xE007F: // tag sequences
		return true
	case r == 0x2122, r == 0x2139, r == 0x3030, r == 0x303D, r == 0x3297, r == 0x3299:
		return true
	}
	return false
}
