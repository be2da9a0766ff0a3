package matcher

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrEmptyGallery is returned when there is nothing to match against.
var ErrEmptyGallery = errors.New("gallery has no enrolled embeddings")

// Identity is one enrolled person and their reference embeddings.
type Identity struct {
	Name       string      `yaml:"name"`
	Embeddings []Embedding `yaml:"embeddings,flow"`
}

// Gallery is the ordered set of enrolled identities. Order is enrollment
// order and decides ties.
type Gallery struct {
	Identities []Identity `yaml:"identities"`
}

// Match is the nearest enrolled identity for a probe embedding.
type Match struct {
	Identity string
	Distance float64
}

// LoadGallery reads a gallery YAML file.
func LoadGallery(path string) (*Gallery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gallery: %w", err)
	}
	var g Gallery
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse gallery %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("gallery %s: %w", path, err)
	}
	return &g, nil
}

// Save writes the gallery as YAML, replacing path atomically.
func (g *Gallery) Save(path string) error {
	data, err := yaml.Marshal(g)
	if err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create gallery dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write gallery: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write gallery: %w", err)
	}
	return nil
}

// Validate checks names are present and unique and every embedding shares
// one dimension.
func (g *Gallery) Validate() error {
	seen := make(map[string]bool, len(g.Identities))
	dim := -1
	for i, id := range g.Identities {
		name := strings.TrimSpace(id.Name)
		if name == "" {
			return fmt.Errorf("identity %d: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("identity %q: duplicate name", name)
		}
		seen[name] = true
		for j, e := range id.Embeddings {
			if dim < 0 {
				dim = len(e)
			}
			if len(e) != dim || dim == 0 {
				return fmt.Errorf("identity %q embedding %d: dimension %d, want %d", name, j, len(e), dim)
			}
		}
	}
	return nil
}

// Enroll appends an embedding to name, creating the identity at the end of
// the gallery if it does not exist yet.
func (g *Gallery) Enroll(name string, e Embedding) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("enroll: name is required")
	}
	if d := g.Dimension(); d > 0 && len(e) != d {
		return fmt.Errorf("enroll %q: dimension %d, want %d", name, len(e), d)
	}
	for i := range g.Identities {
		if g.Identities[i].Name == name {
			g.Identities[i].Embeddings = append(g.Identities[i].Embeddings, e)
			return nil
		}
	}
	g.Identities = append(g.Identities, Identity{Name: name, Embeddings: []Embedding{e}})
	return nil
}

// Dimension returns the embedding size, or 0 for an empty gallery.
func (g *Gallery) Dimension() int {
	for _, id := range g.Identities {
		for _, e := range id.Embeddings {
			return len(e)
		}
	}
	return 0
}

// Size returns the number of reference embeddings.
func (g *Gallery) Size() int {
	n := 0
	for _, id := range g.Identities {
		n += len(id.Embeddings)
	}
	return n
}

// Nearest returns the identity with the smallest cosine distance to probe.
// On a tie the identity enrolled first wins.
func (g *Gallery) Nearest(probe Embedding) (Match, error) {
	best := Match{Distance: math.Inf(1)}
	found := false
	for _, id := range g.Identities {
		for _, ref := range id.Embeddings {
			d, err := CosineDistance(probe, ref)
			if err != nil {
				return Match{}, err
			}
			if d < best.Distance {
				best = Match{Identity: id.Name, Distance: d}
				found = true
			}
		}
	}
	if !found {
		return Match{}, ErrEmptyGallery
	}
	return best, nil
}
