// Package story renders a completed template into its final text. The
// renderer is a deterministic pure function by design — no clock, no
// randomness, no I/O — so it is trivially testable and safe to call
// under or outside a room's lock.
package story

import "strings"

// Slot describes one placeholder in a template's story text.
type Slot struct {
	ID   string
	Type string // adjective, name, verb, place, sound, noun
}

// Template is the minimal shape the renderer needs: the story text
// with "{slot_id}" placeholders, and the ordered slot definitions.
type Template struct {
	Story string
	Slots []Slot
}

const soundSlotType = "sound"
const unfilledPlaceholder = "something"

// Render substitutes every "{slot.id}" occurrence in tmpl.Story with
// its value from values, trimming whitespace, auto-quoting unquoted
// sound values, and falling back to "something" for any slot with no
// mapped value. Unknown placeholders are left literal.
func Render(tmpl Template, values map[string]string) string {
	out := tmpl.Story
	for _, slot := range tmpl.Slots {
		out = strings.ReplaceAll(out, "{"+slot.ID+"}", renderedValue(slot, values))
	}
	return out
}

func renderedValue(slot Slot, values map[string]string) string {
	v, ok := values[slot.ID]
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return unfilledPlaceholder
	}
	if slot.Type == soundSlotType && !isQuoted(v) {
		return `"` + v + `"`
	}
	return v
}

func isQuoted(v string) bool {
	return len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"'
}
