package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// VersionOverride marks a prompt loaded from an override file.
const VersionOverride PromptVersion = "override"

// PromptRegistry holds prompts by id, each with its versions kept in
// ascending order. An override replaces every version of its id.
type PromptRegistry struct {
	mu        sync.RWMutex
	prompts   map[string][]*Prompt
	overrides map[string]*Prompt
}

var (
	defaultRegistry     *PromptRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry holding the built-in prompts.
func DefaultRegistry() *PromptRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewPromptRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func NewPromptRegistry() *PromptRegistry {
	return &PromptRegistry{
		prompts:   make(map[string][]*Prompt),
		overrides: make(map[string]*Prompt),
	}
}

// Register adds p, replacing a prompt with the same id and version.
func (r *PromptRegistry) Register(p *Prompt) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.prompts[p.ID]
	for i, q := range list {
		if q.Version == p.Version {
			list[i] = p
			return
		}
	}
	list = append(list, p)
	sort.SliceStable(list, func(i, j int) bool { return compareVersions(list[i].Version, list[j].Version) < 0 })
	r.prompts[p.ID] = list
}

// Get retrieves a specific version of a prompt.
func (r *PromptRegistry) Get(id string, version PromptVersion) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == VersionOverride {
		if p, ok := r.overrides[id]; ok {
			return p, nil
		}
	}
	for _, p := range r.prompts[id] {
		if p.Version == version {
			return p, nil
		}
	}
	if _, ok := r.prompts[id]; !ok {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	return nil, fmt.Errorf("prompt %s version %s not found", id, version)
}

// GetLatest returns the override for id if one is loaded, else the highest
// non-deprecated version, else the highest deprecated one.
func (r *PromptRegistry) GetLatest(id string) (*Prompt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.overrides[id]; ok {
		return p, nil
	}
	list := r.prompts[id]
	if len(list) == 0 {
		return nil, fmt.Errorf("prompt not found: %s", id)
	}
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].Deprecated {
			return list[i], nil
		}
	}
	return list[len(list)-1], nil
}

// List returns all prompt IDs in the registry, sorted.
func (r *PromptRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.prompts))
	for id := range r.prompts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadOverrides reads <id>.md files from dir for registered ids. A missing
// directory loads nothing. It returns the ids that were overridden.
func (r *PromptRegistry) LoadOverrides(dir string) ([]string, error) {
	var loaded []string
	for _, id := range r.List() {
		data, err := os.ReadFile(filepath.Join(dir, id+".md"))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("read prompt override %s: %w", id, err)
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		r.mu.Lock()
		r.overrides[id] = &Prompt{ID: id, Version: VersionOverride, Content: content, Description: "loaded from " + dir}
		r.mu.Unlock()
		loaded = append(loaded, id)
	}
	return loaded, nil
}

// MustRender renders the latest version of a built-in prompt. It panics on an
// unknown id, which is a programming error.
func MustRender(id string, vars map[string]string) string {
	p, err := DefaultRegistry().GetLatest(id)
	if err != nil {
		panic(err)
	}
	return Render(p.Content, vars)
}

// compareVersions orders dotted numeric versions; non-numeric parts compare
// as strings.
func compareVersions(a, b PromptVersion) int {
	as, bs := strings.Split(string(a), "."), strings.Split(string(b), ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y string
		if i < len(as) {
			x = as[i]
		}
		if i < len(bs) {
			y = bs[i]
		}
		xi, errX := strconv.Atoi(x)
		yi, errY := strconv.Atoi(y)
		switch {
		case errX == nil && errY == nil && xi != yi:
			if xi < yi {
				return -1
			}
			return 1
		case (errX != nil || errY != nil) && x != y:
			return strings.Compare(x, y)
		}
	}
	return 0
}
