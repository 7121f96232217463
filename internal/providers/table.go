package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// Table is the static capability table: media kind -> ordered provider ids.
// Order here is the dispatch order; there is no dynamic discovery.
type Table map[types.MediaKind][]string

// DefaultTable returns the built-in provider ordering.
func DefaultTable() Table {
	return Table{
		types.KindImage:        {"gemini", "openai", "grok"},
		types.KindImageEdit:    {"gemini", "openai"},
		types.KindVideo:        {"veo"},
		types.KindImageToVideo: {"veo"},
		types.KindMusic:        {"suno"},
	}
}

// LoadTable reads a capability table from a YAML file shaped like:
//
//	image: [gemini, openai, grok]
//	music: [suno]
//
// Unknown media kinds are an error so typos fail loudly at load time.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider table: %w", err)
	}

	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider table %s: %w", path, err)
	}

	t := make(Table, len(raw))
	for name, ids := range raw {
		kind, ok := types.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("provider table %s: unknown media kind %q", path, name)
		}
		t[kind] = ids
	}
	return t, nil
}

// Order returns a copy of the configured provider order for kind.
func (t Table) Order(kind types.MediaKind) []string {
	ids := t[kind]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
