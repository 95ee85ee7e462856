package podfaker

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/symphony-datafeed/internal/model"
)

// Seed is the fixture file format: events published at startup and the
// stream types messages should be tagged with.
type Seed struct {
	Streams map[string]model.StreamType `yaml:"streams"`
	Events  []model.Event               `yaml:"events"`
}

// LoadSeed decodes a YAML seed.
func LoadSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if err == io.EOF {
			return &seed, nil
		}
		return nil, fmt.Errorf("decoding seed: %w", err)
	}
	for i, ev := range seed.Events {
		if ev.Type == "" {
			return nil, fmt.Errorf("seed event %d: type is required", i)
		}
	}
	normalize(seed.Events)
	return &seed, nil
}

// LoadSeedFile reads a seed from path.
func LoadSeedFile(path string) (*Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening seed: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadSeed(f)
}

// Apply registers the seed's streams and publishes its events.
func (s *Server) Apply(seed *Seed) {
	for id, st := range seed.Streams {
		s.store.addStream(id, st)
	}
	s.store.publish(seed.Events...)
}
