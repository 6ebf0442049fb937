package persona

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/voicerag/backend/pkg/logger"
)

var ErrUnknownPersona = errors.New("unknown persona")

// Persona is a named response style applied at generation time. Style text
// is opaque guidance passed to the generator as-is.
type Persona struct {
	Name  string
	Style string
}

// Registry holds the fixed persona set, loaded once at process start.
type Registry struct {
	personas    map[string]Persona
	defaultName string
}

func NewRegistry(styles map[string]string, defaultName string) (*Registry, error) {
	if defaultName == "" {
		defaultName = "default"
	}

	personas := make(map[string]Persona, len(styles))
	for name, style := range styles {
		key := strings.ToLower(strings.TrimSpace(name))
		personas[key] = Persona{Name: key, Style: style}
	}

	if _, ok := personas[defaultName]; !ok {
		return nil, fmt.Errorf("default persona %q has no style entry", defaultName)
	}

	logger.Info("Persona registry loaded",
		zap.Int("personas", len(personas)),
		zap.String("default", defaultName),
	)

	return &Registry{personas: personas, defaultName: defaultName}, nil
}

func (r *Registry) Get(name string) (Persona, error) {
	p, ok := r.personas[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Persona{}, fmt.Errorf("%q: %w", name, ErrUnknownPersona)
	}
	return p, nil
}

// Resolve returns the named persona, falling back to the default rather
// than failing the turn when the name is unknown.
func (r *Registry) Resolve(name string) Persona {
	p, err := r.Get(name)
	if err != nil {
		logger.Warn("Unknown persona, falling back to default",
			zap.String("persona", name),
			zap.String("default", r.defaultName),
		)
		return r.personas[r.defaultName]
	}
	return p
}

func (r *Registry) Default() Persona {
	return r.personas[r.defaultName]
}

// Names lists all persona names in sorted order for choice prompts.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.personas))
	for name := range r.personas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectMention scans an utterance for an explicit persona name, e.g.
// "in maya's voice" or "answer as maya".
func (r *Registry) DetectMention(utterance string) (string, bool) {
	lower := strings.ToLower(utterance)
	for _, name := range r.Names() {
		if name == r.defaultName {
			continue
		}
		if strings.Contains(lower, name) {
			return name, true
		}
	}
	return "", false
}

// Match interprets a free-form reply as a persona selection. More lenient
// than DetectMention: a bare name, with or without surrounding text, counts.
func (r *Registry) Match(reply string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(reply))
	if _, ok := r.personas[lower]; ok {
		return lower, true
	}
	for _, name := range r.Names() {
		if strings.Contains(lower, name) {
			return name, true
		}
	}
	return "", false
}
