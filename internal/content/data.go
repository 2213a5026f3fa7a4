package content

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/corpus.yaml data/presets.yaml
var dataFS embed.FS

type corpusPost struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	URL       string `yaml:"url"`
	Published string `yaml:"published"`
	Content   string `yaml:"content"`
}

// MockPosts returns a fresh copy of the built-in corpus.
func MockPosts() []Item {
	var raw []corpusPost
	mustLoadYAML("data/corpus.yaml", &raw)
	out := make([]Item, len(raw))
	for i, p := range raw {
		out[i] = Item{ID: FlexID(p.ID), Title: p.Title, URL: p.URL, Published: p.Published, Content: p.Content}
	}
	return out
}

// ThemeColors is a preset palette.
type ThemeColors struct {
	Primary    string `yaml:"primary" json:"primary"`
	Secondary  string `yaml:"secondary" json:"secondary"`
	Accent     string `yaml:"accent" json:"accent"`
	Background string `yaml:"background" json:"background"`
	Foreground string `yaml:"foreground" json:"foreground"`
}

// Preset is a named palette.
type Preset struct {
	Key    string      `yaml:"-" json:"key"`
	Name   string      `yaml:"name" json:"name"`
	Colors ThemeColors `yaml:"colors" json:"colors"`
}

// Presets is the set of known palettes keyed by lowercase id.
type Presets map[string]Preset

// LoadPresets returns the built-in palettes.
func LoadPresets() Presets {
	raw := map[string]Preset{}
	mustLoadYAML("data/presets.yaml", &raw)
	out := make(Presets, len(raw))
	for k, p := range raw {
		p.Key = k
		out[k] = p
	}
	return out
}

// Lookup resolves a preset by key or display name, case-insensitively.
// Unknown names fall back to "default".
func (p Presets) Lookup(name string) Preset {
	name = strings.ToLower(strings.TrimSpace(name))
	if pr, ok := p[name]; ok {
		return pr
	}
	for _, pr := range p {
		if strings.ToLower(pr.Name) == name {
			return pr
		}
	}
	return p["default"]
}

// Keys lists preset keys alphabetically.
func (p Presets) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mustLoadYAML(name string, out any) {
	b, err := dataFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("content: read %s: %v", name, err))
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		panic(fmt.Sprintf("content: decode %s: %v", name, err))
	}
}
