package agent

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// GeneralAgentID is the built-in general assistant, the default PM of group
// sessions.
const GeneralAgentID = "agent-general"

// ErrUnknownAgent is returned when an id is not in the catalog.
var ErrUnknownAgent = errors.New("unknown agent")

//go:embed catalog.yaml
var builtinCatalog []byte

// Agent is a static persona: display data plus the model and the system
// instruction used for its calls.
type Agent struct {
	ID                string   `yaml:"id"`
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description"`
	Category          string   `yaml:"category"`
	Model             string   `yaml:"model"`
	SystemInstruction string   `yaml:"system_instruction"`
	Keywords          []string `yaml:"keywords"`
}

type catalogFile struct {
	Agents []Agent `yaml:"agents"`
}

// Catalog is an immutable, ordered set of agents.
type Catalog struct {
	agents []Agent
	byID   map[string]int
}

// NewCatalog builds a catalog preserving the given order. Ids must be
// unique and non-empty.
func NewCatalog(agents []Agent) (*Catalog, error) {
	c := &Catalog{
		agents: make([]Agent, 0, len(agents)),
		byID:   make(map[string]int, len(agents)),
	}
	for _, a := range agents {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, errors.New("agent id cannot be empty")
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("duplicate agent id: %s", a.ID)
		}
		if strings.TrimSpace(a.Name) == "" {
			a.Name = a.ID
		}
		c.byID[a.ID] = len(c.agents)
		c.agents = append(c.agents, a)
	}
	return c, nil
}

// LoadCatalog parses a YAML catalog document.
func LoadCatalog(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("unmarshal agent catalog: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, errors.New("agent catalog is empty")
	}
	return NewCatalog(file.Agents)
}

// LoadCatalogFile reads a YAML catalog from path.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return nil, errors.New("catalog path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}
	return LoadCatalog(raw)
}

// DefaultCatalog returns the catalog baked into the binary.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("builtin agent catalog: %v", err))
	}
	return c
}

// Lookup returns the agent with the given id.
func (c *Catalog) Lookup(id string) (Agent, bool) {
	i, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Agent{}, false
	}
	return c.agents[i], true
}

// MustLookup is Lookup returning ErrUnknownAgent for a missing id.
func (c *Catalog) MustLookup(id string) (Agent, error) {
	a, ok := c.Lookup(id)
	if !ok {
		return Agent{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}

// List returns every agent in catalog order.
func (c *Catalog) List() []Agent {
	out := make([]Agent, len(c.agents))
	copy(out, c.agents)
	return out
}

// Len returns the number of agents.
func (c *Catalog) Len() int {
	return len(c.agents)
}

// Search weights.
const (
	keywordWeight     = 10
	nameWeight        = 5
	categoryWeight    = 3
	descriptionWeight = 1
)

// Match is a ranked search result.
type Match struct {
	Agent Agent
	Score int
}

// Recommended reports whether one of the agent's keywords appears in the
// query.
func (m Match) Recommended() bool {
	return m.Score >= keywordWeight
}

// Search ranks all agents against query. A keyword hit means the query
// contains the keyword; name, category and description hits mean the field
// contains the query. Ties keep catalog order and nothing is filtered out.
// An empty query returns the catalog order with zero scores.
func (c *Catalog) Search(query string) []Match {
	q := strings.ToLower(strings.TrimSpace(query))
	matches := make([]Match, len(c.agents))
	for i, a := range c.agents {
		matches[i] = Match{Agent: a, Score: score(a, q)}
	}
	if q == "" {
		return matches
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func score(a Agent, q string) int {
	if q == "" {
		return 0
	}
	total := 0
	for _, k := range a.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(q, k) {
			total += keywordWeight
			break
		}
	}
	if strings.Contains(strings.ToLower(a.Name), q) {
		total += nameWeight
	}
	if strings.Contains(strings.ToLower(a.Category), q) {
		total += categoryWeight
	}
	if strings.Contains(strings.ToLower(a.Description), q) {
		total += descriptionWeight
	}
	return total
}
