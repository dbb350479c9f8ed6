package source

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/records-resolver/internal/fetcher/httpclient"
	"github.com/JakeFAU/records-resolver/internal/policy/ratelimit"
	"github.com/JakeFAU/records-resolver/internal/records"
)

// Phase names one fetch phase of a scraper job.
type Phase string

// Fetch phases.
const (
	PhaseProperties    Phase = "properties"
	PhaseDocuments     Phase = "documents"
	PhaseCourtCases    Phase = "court_cases"
	PhaseProfessionals Phase = "professionals"
)

// SourceConfig configures one source of one jurisdiction.
type SourceConfig struct {
	Kind     string            `mapstructure:"kind"`
	BaseURL  string            `mapstructure:"base_url"`
	Path     string            `mapstructure:"path"`
	Dataset  string            `mapstructure:"dataset"`
	PageSize int               `mapstructure:"page_size"`
	Fields   map[string]string `mapstructure:"fields"`
	Params   map[string]string `mapstructure:"params"`
	Policy   ratelimit.Policy  `mapstructure:"policy"`
	// Size sets the fixture row count for the sample kind.
	Size int `mapstructure:"size"`
}

// JurisdictionConfig lists the sources configured for one jurisdiction.
type JurisdictionConfig struct {
	Name          string        `mapstructure:"name"`
	State         string        `mapstructure:"state"`
	Properties    *SourceConfig `mapstructure:"properties"`
	Documents     *SourceConfig `mapstructure:"documents"`
	CourtCases    *SourceConfig `mapstructure:"court_cases"`
	Professionals *SourceConfig `mapstructure:"professionals"`
}

// Env carries the shared dependencies adapters are built from.
type Env struct {
	Jurisdiction string
	Client       *httpclient.Client
	Limiter      *ratelimit.Limiter
	Transport    http.RoundTripper
	Retry        RetryPolicy
	Archive      *Archiver
	Clock        records.Clock
	Logger       *zap.Logger
}

// Gate returns the gate for one phase of the env's jurisdiction.
func (e Env) Gate(phase Phase, policy ratelimit.Policy) *ratelimit.Gate {
	return e.Limiter.Gate(e.Jurisdiction+"/"+string(phase), policy)
}

// Constructor builds a source for a phase. The returned value must implement
// the phase's source interface.
type Constructor func(env Env, phase Phase, cfg SourceConfig) (any, error)

var (
	kindsMu sync.RWMutex
	kinds   = map[string]Constructor{}
)

// RegisterKind adds a source constructor under the given kind name.
func RegisterKind(name string, ctor Constructor) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[name] = ctor
}

// Kinds returns the registered kind names.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	out := make([]string, 0, len(kinds))
	for name := range kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lookupKind(name string) (Constructor, error) {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	ctor, ok := kinds[name]
	if !ok {
		return nil, fmt.Errorf("unknown source kind: %s", name)
	}
	return ctor, nil
}

// Registry maps jurisdiction ids to adapters.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Jurisdiction
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Jurisdiction)}
}

// Register adds a jurisdiction. Ids must be unique.
func (r *Registry) Register(j Jurisdiction) error {
	if j.ID == "" {
		return fmt.Errorf("jurisdiction id is required")
	}
	if j.Adapter == nil {
		return fmt.Errorf("jurisdiction %s has no adapter", j.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[j.ID]; exists {
		return fmt.Errorf("jurisdiction %s already registered", j.ID)
	}
	r.byID[j.ID] = j
	return nil
}

// Lookup returns the jurisdiction for id.
func (r *Registry) Lookup(id string) (Jurisdiction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.byID[id]
	if !ok {
		return Jurisdiction{}, fmt.Errorf("jurisdiction %s: %w", id, records.ErrNotFound)
	}
	return j, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the jurisdictions ordered by id.
func (r *Registry) List() []Jurisdiction {
	ids := r.IDs()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Jurisdiction, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Build constructs a Registry from configuration using the registered kinds.
func Build(cfgs map[string]JurisdictionConfig, env Env) (*Registry, error) {
	reg := NewRegistry()
	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := cfgs[id]
		jenv := env
		jenv.Jurisdiction = id
		if env.Logger != nil {
			jenv.Logger = env.Logger.With(zap.String("jurisdiction", id))
		}
		composite := &Composite{}
		phases := []struct {
			phase Phase
			cfg   *SourceConfig
		}{
			{PhaseProperties, cfg.Properties},
			{PhaseDocuments, cfg.Documents},
			{PhaseCourtCases, cfg.CourtCases},
			{PhaseProfessionals, cfg.Professionals},
		}
		for _, p := range phases {
			if p.cfg == nil {
				continue
			}
			if err := attach(composite, jenv, p.phase, *p.cfg); err != nil {
				return nil, fmt.Errorf("jurisdiction %s %s: %w", id, p.phase, err)
			}
		}
		if err := reg.Register(Jurisdiction{ID: id, Name: cfg.Name, State: cfg.State, Adapter: composite}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func attach(c *Composite, env Env, phase Phase, cfg SourceConfig) error {
	ctor, err := lookupKind(cfg.Kind)
	if err != nil {
		return err
	}
	built, err := ctor(env, phase, cfg)
	if err != nil {
		return err
	}
	var ok bool
	switch phase {
	case PhaseProperties:
		c.Properties, ok = built.(PropertySource)
	case PhaseDocuments:
		c.Documents, ok = built.(DocumentSource)
	case PhaseCourtCases:
		c.Courts, ok = built.(CourtSource)
	case PhaseProfessionals:
		c.Professionals, ok = built.(ProfessionalSource)
	}
	if !ok {
		return fmt.Errorf("source kind %s cannot serve %s", cfg.Kind, phase)
	}
	return nil
}
