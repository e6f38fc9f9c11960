package pipeline

import (
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/woonradar/listings-cli/internal/listing"
	"github.com/woonradar/listings-cli/internal/model"
	"github.com/woonradar/listings-cli/internal/reconcile"
)

// SourcesFile is the on-disk layout of sources.yaml.
type SourcesFile struct {
	Defaults SourceDefaults          `yaml:"defaults"`
	Sources  map[string]SourceConfig `yaml:"sources"`
}

// SourceDefaults apply to every source that does not override them.
type SourceDefaults struct {
	Malformed string `yaml:"malformed"`
}

// SourceConfig configures one named source. Adapter defaults to the source
// name; Policy to the adapter's own.
type SourceConfig struct {
	Adapter   string `yaml:"adapter"`
	Policy    string `yaml:"policy,omitempty"`
	Malformed string `yaml:"malformed,omitempty"`
}

// Source is a resolved source: its adapter and malformed-row policy.
type Source struct {
	Name      string
	Adapter   listing.Adapter
	Malformed reconcile.MalformedPolicy
}

// Sources is the set of sources a pipeline can run.
type Sources struct {
	byName map[string]Source
}

// DefaultSources registers every built-in adapter under its own name.
func DefaultSources(malformed reconcile.MalformedPolicy) *Sources {
	s := &Sources{byName: make(map[string]Source)}
	for _, name := range listing.Names() {
		a, err := listing.Lookup(name)
		if err != nil {
			continue
		}
		s.byName[name] = Source{Name: name, Adapter: a, Malformed: malformed}
	}
	return s
}

// LoadSources reads sources.yaml from path. An empty path yields the
// built-in sources. malformed is used when neither the file defaults nor
// the source set a policy.
func LoadSources(path string, malformed reconcile.MalformedPolicy) (*Sources, error) {
	if path == "" {
		return DefaultSources(malformed), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read sources %s", path)
	}

	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "pipeline: parse sources %s", path)
	}
	return file.Build(malformed)
}

// Build resolves every configured source against the adapter registry.
func (f SourcesFile) Build(malformed reconcile.MalformedPolicy) (*Sources, error) {
	if f.Defaults.Malformed != "" {
		p, err := reconcile.ParseMalformedPolicy(f.Defaults.Malformed)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: sources defaults")
		}
		malformed = p
	}

	s := &Sources{byName: make(map[string]Source, len(f.Sources))}
	for name, sc := range f.Sources {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, eris.New("pipeline: source with empty name")
		}

		adapterName := sc.Adapter
		if adapterName == "" {
			adapterName = name
		}
		a, err := listing.Lookup(adapterName)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: source %s", name)
		}

		var policy model.Policy
		if sc.Policy != "" {
			if policy, err = model.ParsePolicy(sc.Policy); err != nil {
				return nil, eris.Wrapf(err, "pipeline: source %s", name)
			}
		}

		src := Source{Name: name, Adapter: listing.Configure(a, name, policy), Malformed: malformed}
		if sc.Malformed != "" {
			if src.Malformed, err = reconcile.ParseMalformedPolicy(sc.Malformed); err != nil {
				return nil, eris.Wrapf(err, "pipeline: source %s", name)
			}
		}
		s.byName[name] = src
	}
	return s, nil
}

// Get returns the named source.
func (s *Sources) Get(name string) (Source, error) {
	src, ok := s.byName[strings.TrimSpace(name)]
	if !ok {
		return Source{}, eris.Errorf("pipeline: unknown source %q (known: %s)", name, strings.Join(s.Names(), ", "))
	}
	return src, nil
}

// Names returns the configured source names, sorted.
func (s *Sources) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
