package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Format is the serialization of a script document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFromPath picks a format by file extension. Unknown extensions
// default to YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FormatTOML
	case ".json":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// Document is the file form of a script.
//
//	verbs: [exec, send]
//	before:
//	  - {verb: exec, args: "cd /tmp"}
//	main:
//	  - args: [ls, -la]
//	after:
//	  - {verb: send, args: exit}
type Document struct {
	Verbs  []string    `yaml:"verbs" toml:"verbs" json:"verbs"`
	Before []EntrySpec `yaml:"before" toml:"before" json:"before"`
	Main   []EntrySpec `yaml:"main" toml:"main" json:"main"`
	After  []EntrySpec `yaml:"after" toml:"after" json:"after"`
}

// EntrySpec is one entry of a Document.
type EntrySpec struct {
	Verb    string         `yaml:"verb" toml:"verb" json:"verb"`
	Args    Args           `yaml:"args" toml:"args" json:"args"`
	Options map[string]any `yaml:"options" toml:"options" json:"options"`
}

// Args is an argument list that also accepts a single scalar, which
// becomes a one-element list.
type Args []string

// UnmarshalYAML accepts a scalar or a sequence.
func (a *Args) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*a = Args{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*a = list
		return nil
	default:
		return fmt.Errorf("args: expected string or list at line %d", value.Line)
	}
}

// UnmarshalTOML accepts a scalar or an array.
func (a *Args) UnmarshalTOML(data any) error {
	list, err := argsFromAny(data)
	if err != nil {
		return err
	}
	*a = list
	return nil
}

// UnmarshalJSON accepts a scalar or an array.
func (a *Args) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	list, err := argsFromAny(raw)
	if err != nil {
		return err
	}
	*a = list
	return nil
}

func argsFromAny(data any) (Args, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case string:
		return Args{v}, nil
	case []any:
		list := make(Args, 0, len(v))
		for _, item := range v {
			list = append(list, fmt.Sprint(item))
		}
		return list, nil
	case []string:
		return Args(v), nil
	default:
		return Args{fmt.Sprint(v)}, nil
	}
}

// LoadDocument reads a script document from disk.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	doc, err := ParseDocument(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("parse script %s: %w", path, err)
	}
	return doc, nil
}

// ParseDocument decodes data in the given format.
func ParseDocument(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, err
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported script format %q", format)
	}
	return &doc, nil
}

// Entries returns the specs of phase.
func (d *Document) Entries(p Phase) []EntrySpec {
	switch p {
	case PhaseBefore:
		return d.Before
	case PhaseMain:
		return d.Main
	case PhaseAfter:
		return d.After
	default:
		return nil
	}
}

// Build creates a Builder populated with the document's entries. verbs
// is used when the document declares no allow-list of its own. Entries
// naming a verb outside the allow-list are rejected.
func (d *Document) Build(verbs VerbSet, opts ...Option) (*Builder, error) {
	if len(d.Verbs) > 0 {
		verbs = ParseVerbs(d.Verbs)
	}
	b, err := New(verbs, opts...)
	if err != nil {
		return nil, err
	}
	for _, p := range Phases {
		for i, spec := range d.Entries(p) {
			verb := b.verbOrDefault(Verb(spec.Verb))
			if verb == "" && len(spec.Args) == 0 {
				return nil, fmt.Errorf("%s entry %d: %w", p, i, ErrEmptyLine)
			}
			if !b.verbs.Contains(verb) {
				return nil, fmt.Errorf("%s entry %d: %w: %q", p, i, ErrUnknownVerb, verb)
			}
			b.context.push(p, NewCommandEntryArgs(verb, spec.Args, Options(spec.Options)))
		}
	}
	return b, nil
}
