// Package prompts holds the prompt registry and the builder functions for
// every prompt the Selector, Decomposer, and Refiner consult. Each prompt
// is a plain Go function returning a rendered string, in the style of a
// single hand-written template rather than a generic templating engine;
// the Registry wraps that style in the (agent, prompt_type)-keyed,
// immutable-after-registration contract the core requires.
package prompts

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Key identifies a template by the agent that owns it and its purpose.
type Key struct {
	Agent      string
	PromptType string
}

func (k Key) String() string {
	return k.Agent + "." + k.PromptType
}

// Template is a registered prompt: a fixed system prompt plus a render
// function for the user-facing portion. Registry.Format rejects a params map
// that lacks any declared Parameter before Render is called.
type Template struct {
	SystemPrompt string
	Parameters   []string
	Description  string
	Render       func(params map[string]string) (string, error)
}

// RequireParams validates that every declared parameter is present; Format
// calls it before every Render.
func RequireParams(tmpl *Template, params map[string]string) error {
	var missing []string
	for _, p := range tmpl.Parameters {
		if _, ok := params[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Registry holds templates keyed by (agent, prompt_type). Registration is
// one-shot per key: re-registering the same key is an error, matching the
// "immutable after registration" contract.
type Registry struct {
	mu        sync.RWMutex
	templates map[Key]*Template
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{templates: make(map[Key]*Template)}
}

// Register adds a template under (agent, promptType). Returns an error if
// the key is already registered.
func (r *Registry) Register(agent, promptType string, tmpl *Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{Agent: agent, PromptType: promptType}
	if _, exists := r.templates[key]; exists {
		return fmt.Errorf("prompt template %s is already registered", key)
	}
	r.templates[key] = tmpl
	return nil
}

// Get looks up a template by (agent, promptType).
func (r *Registry) Get(agent, promptType string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[Key{Agent: agent, PromptType: promptType}]
	return tmpl, ok
}

// Format renders the system prompt and the user prompt for (agent,
// promptType), validating parameters first.
func (r *Registry) Format(agent, promptType string, params map[string]string) (systemPrompt, userPrompt string, err error) {
	tmpl, ok := r.Get(agent, promptType)
	if !ok {
		return "", "", fmt.Errorf("no prompt template registered for %s.%s", agent, promptType)
	}
	if err := RequireParams(tmpl, params); err != nil {
		return "", "", fmt.Errorf("%s.%s: %w", agent, promptType, err)
	}
	user, err := tmpl.Render(params)
	if err != nil {
		return "", "", fmt.Errorf("%s.%s: render: %w", agent, promptType, err)
	}
	return tmpl.SystemPrompt, user, nil
}
