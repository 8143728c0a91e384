package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hikaru-dev/koemi/pkg/provider/agent"
	"github.com/hikaru-dev/koemi/pkg/provider/embeddings"
	"github.com/hikaru-dev/koemi/pkg/provider/tts"
	"github.com/hikaru-dev/koemi/pkg/provider/vlm"
)

// ErrProviderNotRegistered is returned by the Create methods when the entry
// names a provider no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factorySet holds the registered constructors for one adapter type, keyed by
// provider name.
type factorySet[P any] struct {
	mu     sync.RWMutex
	byName map[string]func(ProviderEntry) (P, error)
}

func newFactorySet[P any]() factorySet[P] {
	return factorySet[P]{byName: make(map[string]func(ProviderEntry) (P, error))}
}

// register stores a factory under name, replacing any earlier registration.
func (s *factorySet[P]) register(name string, factory func(ProviderEntry) (P, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byName[name] = factory
}

// create runs the factory registered under entry.Name. kind labels the
// adapter type in the not-registered error.
func (s *factorySet[P]) create(kind string, entry ProviderEntry) (P, error) {
	s.mu.RLock()
	factory, ok := s.byName[entry.Name]
	s.mu.RUnlock()
	if !ok {
		var zero P
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

// Registry resolves provider names from the config file into constructed
// adapters. Built-in adapters register themselves at startup; tests register
// mocks. Safe for concurrent use.
type Registry struct {
	agent      factorySet[agent.Provider]
	tts        factorySet[tts.Provider]
	vlm        factorySet[vlm.Provider]
	embeddings factorySet[embeddings.Provider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		agent:      newFactorySet[agent.Provider](),
		tts:        newFactorySet[tts.Provider](),
		vlm:        newFactorySet[vlm.Provider](),
		embeddings: newFactorySet[embeddings.Provider](),
	}
}

// RegisterAgent registers an agent provider factory under name.
func (r *Registry) RegisterAgent(name string, factory func(ProviderEntry) (agent.Provider, error)) {
	r.agent.register(name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// RegisterVLM registers a vision provider factory under name.
func (r *Registry) RegisterVLM(name string, factory func(ProviderEntry) (vlm.Provider, error)) {
	r.vlm.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// CreateAgent builds the agent provider that entry names, or returns
// [ErrProviderNotRegistered].
func (r *Registry) CreateAgent(entry ProviderEntry) (agent.Provider, error) {
	return r.agent.create("agent", entry)
}

// CreateTTS builds the TTS provider that entry names.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create("tts", entry)
}

// CreateVLM builds the vision provider that entry names.
func (r *Registry) CreateVLM(entry ProviderEntry) (vlm.Provider, error) {
	return r.vlm.create("vlm", entry)
}

// CreateEmbeddings builds the embeddings provider that entry names.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create("embeddings", entry)
}
