package scenario

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Napageneral/airport/internal/config"
	"github.com/Napageneral/airport/internal/plane"
)

//go:embed embedded_scenarios
var embeddedFS embed.FS

const (
	embeddedDir = "embedded_scenarios"
	extension   = ".scenario.yaml"

	// DefaultID names the built-in six plane run.
	DefaultID = "default"
)

// ErrNotFound is returned when no scenario has the requested ID.
var ErrNotFound = errors.New("scenario not found")

// Scenario is a fleet definition: which planes arrive and when.
type Scenario struct {
	ID          string      `yaml:"id" json:"id"`
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Gates       int         `yaml:"gates,omitempty" json:"gates,omitempty"` // 0 uses the configured count
	Planes      []PlaneSpec `yaml:"planes" json:"planes"`

	RelativePath string `yaml:"-" json:"-"`
}

// PlaneSpec describes one plane. Zero fuel or passengers are drawn from the
// configured ranges when the scenario is resolved. With AfterPrevious set,
// ArriveAfter counts from the resolved arrival of the plane listed before it
// instead of from the run start.
type PlaneSpec struct {
	ID            int           `yaml:"id" json:"id"`
	ArriveAfter   time.Duration `yaml:"arrive_after" json:"arrive_after"`
	ArriveJitter  time.Duration `yaml:"arrive_jitter,omitempty" json:"arrive_jitter,omitempty"`
	AfterPrevious bool          `yaml:"after_previous,omitempty" json:"after_previous,omitempty"`
	Fuel          int           `yaml:"fuel,omitempty" json:"fuel,omitempty"`
	Passengers    int           `yaml:"passengers,omitempty" json:"passengers,omitempty"`
}

// Arrival is a resolved plane with its start offset from the run start.
type Arrival struct {
	Spec   plane.Spec
	Offset time.Duration
}

// Validate checks structural rules.
func (s *Scenario) Validate() error {
	if len(s.Planes) == 0 {
		return fmt.Errorf("scenario %q: no planes", s.ID)
	}
	if s.Gates < 0 {
		return fmt.Errorf("scenario %q: gates must not be negative", s.ID)
	}
	seen := make(map[int]bool, len(s.Planes))
	for _, p := range s.Planes {
		if p.ID <= 0 {
			return fmt.Errorf("scenario %q: plane id must be positive, got %d", s.ID, p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("scenario %q: duplicate plane id %d", s.ID, p.ID)
		}
		seen[p.ID] = true
		if p.ArriveAfter < 0 || p.ArriveJitter < 0 {
			return fmt.Errorf("scenario %q: plane %d has a negative arrival time", s.ID, p.ID)
		}
		if p.Fuel < 0 || p.Passengers < 0 {
			return fmt.Errorf("scenario %q: plane %d has negative fuel or passengers", s.ID, p.ID)
		}
	}
	return nil
}

// Resolve fills random values from cfg and returns arrivals sorted by
// offset. Offsets are scaled by cfg.Sim.TimeScale.
func (s *Scenario) Resolve(cfg *config.Config, rng *rand.Rand) []Arrival {
	out := make([]Arrival, 0, len(s.Planes))
	var prev time.Duration
	for _, p := range s.Planes {
		fuel := p.Fuel
		if fuel == 0 {
			fuel = between(rng, cfg.Fuel.InitialMin, cfg.Fuel.InitialMax)
		}
		passengers := p.Passengers
		if passengers == 0 {
			passengers = between(rng, cfg.Passengers.Min, cfg.Passengers.Max)
		}
		offset := p.ArriveAfter
		if p.AfterPrevious {
			offset += prev
		}
		if p.ArriveJitter > 0 {
			offset += time.Duration(rng.Int63n(int64(p.ArriveJitter)))
		}
		prev = offset
		out = append(out, Arrival{
			Spec:   plane.Spec{ID: p.ID, Passengers: passengers, Fuel: fuel},
			Offset: cfg.ScaleDuration(offset),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Generate builds an ad-hoc fleet of n planes in the default shape: the
// first two thirds arrive 300ms apart, then each straggler follows the one
// before it by 1.5s plus up to 1s of jitter.
func Generate(n int) *Scenario {
	s := &Scenario{
		ID:   fmt.Sprintf("generated-%d", n),
		Name: fmt.Sprintf("%d generated planes", n),
	}
	wave := n - n/3
	for i := 1; i <= n; i++ {
		p := PlaneSpec{ID: i}
		if i <= wave {
			p.ArriveAfter = time.Duration(i-1) * 300 * time.Millisecond
		} else {
			p.AfterPrevious = true
			p.ArriveAfter = 1500 * time.Millisecond
			p.ArriveJitter = time.Second
		}
		s.Planes = append(s.Planes, p)
	}
	return s
}

func between(rng *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rng.Intn(hi-lo+1)
}

// Parse decodes a scenario document.
func Parse(content []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(content, &s); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a scenario file from disk.
func Load(path string) (*Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	s, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.ID == "" {
		s.ID = strings.TrimSuffix(filepath.Base(path), extension)
	}
	s.RelativePath = path
	return s, nil
}

// Default returns the built-in six plane scenario.
func Default() (*Scenario, error) {
	return NewLoader("").Get(DefaultID)
}

// Loader lists scenarios from an override directory, falling back to the
// built-in set.
type Loader struct {
	dir string
}

// NewLoader creates a loader. An empty dir uses built-in scenarios only.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// List returns every available scenario.
func (l *Loader) List() ([]*Scenario, error) {
	var out []*Scenario
	err := l.walk(func(path string, content []byte) error {
		s, err := Parse(content)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		s.RelativePath = path
		out = append(out, s)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// Get returns the scenario with the given ID.
func (l *Loader) Get(id string) (*Scenario, error) {
	all, err := l.List()
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Export writes the built-in scenarios into dir so they can be edited and
// used as overrides. It returns the number of files written.
func (l *Loader) Export(dir string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create export dir: %w", err)
	}
	n := 0
	err := fs.WalkDir(embeddedFS, embeddedDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, extension) {
			return nil
		}
		content, err := embeddedFS.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, filepath.Base(path)), content, 0o644); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func (l *Loader) walk(fn func(path string, content []byte) error) error {
	if l.dir != "" {
		if info, err := os.Stat(l.dir); err == nil && info.IsDir() {
			return walkOS(l.dir, fn)
		}
	}
	return fs.WalkDir(embeddedFS, embeddedDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, extension) {
			return nil
		}
		content, err := embeddedFS.ReadFile(path)
		if err != nil {
			return err
		}
		return fn(path, content)
	})
}

func walkOS(root string, fn func(path string, content []byte) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, extension) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		return fn(rel, content)
	})
}
