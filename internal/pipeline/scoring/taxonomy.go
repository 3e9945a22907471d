package scoring

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_taxonomy.yaml
var defaultTaxonomy []byte

// Taxonomy maps activity type, purpose and outcome to behavioral points.
// It is read-only after loading and safe to share.
type Taxonomy struct {
	Version    int
	activities map[string]map[string]map[string]float64
}

type taxonomyDocument struct {
	Version    int                                      `yaml:"version"`
	Activities map[string]map[string]map[string]float64 `yaml:"activities"`
}

// LoadTaxonomy reads the taxonomy at path, or the embedded default when
// path is empty.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	if strings.TrimSpace(path) == "" {
		return ParseTaxonomy(defaultTaxonomy)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scoring taxonomy %s: %w", path, err)
	}
	return ParseTaxonomy(data)
}

// DefaultTaxonomy returns the embedded taxonomy.
func DefaultTaxonomy() *Taxonomy {
	t, err := ParseTaxonomy(defaultTaxonomy)
	if err != nil {
		panic(fmt.Sprintf("embedded scoring taxonomy is invalid: %v", err))
	}
	return t
}

// ParseTaxonomy decodes a YAML taxonomy document.
func ParseTaxonomy(data []byte) (*Taxonomy, error) {
	var doc taxonomyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse scoring taxonomy: %w", err)
	}
	if doc.Version <= 0 {
		return nil, fmt.Errorf("parse scoring taxonomy: version must be positive, got %d", doc.Version)
	}

	t := &Taxonomy{Version: doc.Version, activities: make(map[string]map[string]map[string]float64, len(doc.Activities))}
	for typ, purposes := range doc.Activities {
		pm := make(map[string]map[string]float64, len(purposes))
		for purpose, outcomes := range purposes {
			om := make(map[string]float64, len(outcomes))
			for outcome, points := range outcomes {
				om[normalizeKey(outcome)] = points
			}
			pm[normalizeKey(purpose)] = om
		}
		t.activities[normalizeKey(typ)] = pm
	}
	return t, nil
}

// Points returns the points for a completed activity, zero when any level
// is missing from the taxonomy.
func (t *Taxonomy) Points(activityType, purpose, outcome string) float64 {
	if t == nil {
		return 0
	}
	return t.activities[normalizeKey(activityType)][normalizeKey(purpose)][normalizeKey(outcome)]
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
