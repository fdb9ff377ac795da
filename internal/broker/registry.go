package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rekurlabs/rekur/internal/errors"
	"github.com/rekurlabs/rekur/internal/model"
	"github.com/rekurlabs/rekur/internal/protocol"
)

// Registry holds the backend clients the broker may route to. The set of
// registered clients is the broker's entire capability surface: anything
// not registered here cannot be reached.
type Registry struct {
	mu          sync.RWMutex
	clients     map[string]model.BackendClient
	defaultName string
	subName     string
}

func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]model.BackendClient),
	}
}

// Register adds a client under its model name. The first registered client
// becomes the default until SetDefault overrides it.
func (r *Registry) Register(client model.BackendClient) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := client.ModelName()
	r.clients[name] = client
	if r.defaultName == "" {
		r.defaultName = name
	}
}

// SetDefault names the client serving depth-0 requests with no override.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[name]; !ok {
		return errors.NotFound(fmt.Sprintf("model %s not registered", name))
	}
	r.defaultName = name
	return nil
}

// SetSub names the client serving depth>=1 requests with no override.
func (r *Registry) SetSub(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[name]; !ok {
		return errors.NotFound(fmt.Sprintf("model %s not registered", name))
	}
	r.subName = name
	return nil
}

// Get returns the client registered under an exact name.
func (r *Registry) Get(name string) (model.BackendClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	return client, ok
}

// Names returns all registered model names, sorted for deterministic
// family matching.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clients returns every registered client.
func (r *Registry) Clients() []model.BackendClient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.BackendClient, 0, len(r.clients))
	for _, name := range r.sortedNamesLocked() {
		out = append(out, r.clients[name])
	}
	return out
}

func (r *Registry) sortedNamesLocked() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the serving client for a request, in priority order:
// exact registered model name, then preference hints (exact name, ordered
// candidates, case-insensitive substring family match), then depth-based
// fallback to the sub client for depth>=1 or the default otherwise.
func (r *Registry) Resolve(req *protocol.CompletionRequest) (model.BackendClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.clients) == 0 {
		return nil, errors.NotFound("no backend clients registered")
	}

	// 1. Exact registered model name
	if req.Model != "" {
		if client, ok := r.clients[req.Model]; ok {
			return client, nil
		}
	}

	// 2. Preference hints
	if prefs := req.Preferences; prefs != nil {
		if prefs.Name != "" {
			if client, ok := r.clients[prefs.Name]; ok {
				return client, nil
			}
		}
		for _, candidate := range prefs.Candidates {
			if client, ok := r.clients[candidate]; ok {
				return client, nil
			}
		}
		if prefs.Family != "" {
			family := strings.ToLower(prefs.Family)
			for _, name := range r.sortedNamesLocked() {
				if strings.Contains(strings.ToLower(name), family) {
					return r.clients[name], nil
				}
			}
		}
	}

	// 3. Depth-based fallback
	if req.Depth >= 1 && r.subName != "" {
		if client, ok := r.clients[r.subName]; ok {
			return client, nil
		}
	}
	if client, ok := r.clients[r.defaultName]; ok {
		return client, nil
	}

	return nil, errors.NotFound("no default backend client registered")
}
