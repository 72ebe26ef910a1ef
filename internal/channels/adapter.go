// Package channels delivers outbound messages to members. Each delivery
// provider sits behind the Adapter interface; the registry picks the
// adapter for a conversation's channel.
package channels

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/duyemura/boxassist-sub000/pkg/models"
)

// OutboundMessage is a message the agent wants delivered.
type OutboundMessage struct {
	// To is the channel address: an email address or a phone number.
	To      string
	Subject string
	Body    string
}

// Adapter sends messages on one channel type. Implementations must be safe
// for concurrent use and must honor the context deadline.
type Adapter interface {
	Type() models.ChannelType

	// Send delivers the message and returns the provider's message id
	// when it has one.
	Send(ctx context.Context, msg *OutboundMessage) (externalID string, err error)
}

// Registry maps channel types to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.ChannelType]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.ChannelType]Adapter)}
}

// Register adds an adapter. Registering a channel twice fails.
func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[adapter.Type()]; ok {
		return fmt.Errorf("channel %s already registered", adapter.Type())
	}
	r.adapters[adapter.Type()] = adapter
	return nil
}

// Get returns the adapter for the channel type.
func (r *Registry) Get(channel models.ChannelType) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %s", channel)
	}
	return adapter, nil
}

// Channels lists the registered channel types, sorted.
func (r *Registry) Channels() []models.ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ChannelType, 0, len(r.adapters))
	for channel := range r.adapters {
		out = append(out, channel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
