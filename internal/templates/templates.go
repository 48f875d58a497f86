// Package templates owns the static story template catalogue. The
// catalogue itself is explicitly out of scope for the room engine
// (spec's "deliberately out of scope" list) — this package is the thin
// keyed-map collaborator the room engine consumes as a concrete *Catalogue,
// with an optional YAML override file loaded via spf13/viper the way
// Seednode-partybox loads its runtime configuration.
package templates

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"storyfill/internal/story"
)

// Template is one selectable story template.
type Template struct {
	ID    string       `json:"id" mapstructure:"id"`
	Title string       `json:"title" mapstructure:"title"`
	Story string       `json:"story" mapstructure:"story"`
	Slots []story.Slot `json:"slots" mapstructure:"slots"`
}

// ToStoryTemplate adapts a Template for internal/story.Render.
func (t Template) ToStoryTemplate() story.Template {
	return story.Template{Story: t.Story, Slots: t.Slots}
}

// Catalogue is a thread-safe, read-mostly keyed map of templates.
type Catalogue struct {
	mu        sync.RWMutex
	templates map[string]Template
	order     []string
}

// Get returns a template by id.
func (c *Catalogue) Get(id string) (Template, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[id]
	return t, ok
}

// List returns every template in catalogue-definition order.
func (c *Catalogue) List() []Template {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.templates[id])
	}
	return out
}

func newCatalogue(ts []Template) *Catalogue {
	c := &Catalogue{templates: make(map[string]Template, len(ts))}
	for _, t := range ts {
		c.templates[t.ID] = t
		c.order = append(c.order, t.ID)
	}
	return c
}

// Default returns the built-in seed catalogue.
func Default() *Catalogue {
	return newCatalogue(defaultTemplates)
}

// LoadFromFile reads a YAML (or JSON/TOML — anything viper understands)
// override file and returns the catalogue it defines, falling back to
// the default catalogue for an empty path.
func LoadFromFile(path string) (*Catalogue, error) {
	if path == "" {
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("templates: read %s: %w", path, err)
	}

	var ts []Template
	if err := v.UnmarshalKey("templates", &ts); err != nil {
		return nil, fmt.Errorf("templates: decode %s: %w", path, err)
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("templates: %s defines no templates", path)
	}
	return newCatalogue(ts), nil
}

var defaultTemplates = []Template{
	{
		ID:    "t-forest-mishap",
		Title: "Forest Mishap",
		Story: "It was a {adjective} day when {name} went for a walk in the forest. Suddenly, they heard a {sound} coming from the bushes. Without thinking, {name} started {verb} toward the {place}, only to find a family of {noun} staring back.",
		Slots: []story.Slot{
			{ID: "adjective", Type: "adjective"},
			{ID: "name", Type: "name"},
			{ID: "sound", Type: "sound"},
			{ID: "verb", Type: "verb"},
			{ID: "place", Type: "place"},
			{ID: "noun", Type: "noun"},
		},
	},
	{
		ID:    "t-office-chaos",
		Title: "Office Chaos",
		Story: "The meeting started {adjective} late. {name} stood up and began {verb} near the {place}, when a loud {sound} echoed through the office. Everyone turned to see a {noun} sitting on the conference table.",
		Slots: []story.Slot{
			{ID: "adjective", Type: "adjective"},
			{ID: "name", Type: "name"},
			{ID: "verb", Type: "verb"},
			{ID: "place", Type: "place"},
			{ID: "sound", Type: "sound"},
			{ID: "noun", Type: "noun"},
		},
	},
	{
		ID:    "t-space-voyage",
		Title: "Space Voyage",
		Story: "Captain {name} drifted through the {adjective} silence of space. A {sound} crackled over the comms as the ship began {verb} past the {place}. Outside the viewport, a swarm of {noun} floated by.",
		Slots: []story.Slot{
			{ID: "name", Type: "name"},
			{ID: "adjective", Type: "adjective"},
			{ID: "sound", Type: "sound"},
			{ID: "verb", Type: "verb"},
			{ID: "place", Type: "place"},
			{ID: "noun", Type: "noun"},
		},
	},
}
