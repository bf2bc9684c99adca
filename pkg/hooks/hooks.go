// Package hooks is the callout mechanism: named extension points the
// processor invokes synchronously, giving registered functions a chance
// to mutate the in-flight packet or suppress the default action.
package hooks

import (
	"sync"

	"github.com/codelaboratoryltd/dhcp6d/pkg/config"
	"github.com/codelaboratoryltd/dhcp6d/pkg/dhcp6"
)

// Hook point names.
const (
	// HookPkt6Receive fires after parse, before dispatch. Skip discards
	// the packet silently.
	HookPkt6Receive = "pkt6_receive"

	// HookSubnet6Select fires after the registry's candidate is chosen,
	// before lease work. Skip keeps the pre-callout selection.
	HookSubnet6Select = "subnet6_select"

	// HookPkt6Send fires after the reply is built, before transmission.
	// Skip drops the reply.
	HookPkt6Send = "pkt6_send"
)

// Handle carries one callout invocation's arguments. Which fields are
// populated depends on the hook point; Subnet is mutable at
// subnet6_select and Subnets is a read-only view of the full collection.
type Handle struct {
	Packet  *dhcp6.Packet
	Subnet  *config.Subnet
	Subnets []*config.Subnet

	skip bool
}

// SetSkip flags that the default action following this hook point should
// be suppressed.
func (h *Handle) SetSkip(skip bool) {
	h.skip = skip
}

// Skip reports whether a callout suppressed the default action.
func (h *Handle) Skip() bool {
	return h.skip
}

// Callout is one registered extension function.
type Callout func(*Handle)

// Registry holds callouts keyed by hook point name.
type Registry struct {
	mu       sync.RWMutex
	callouts map[string][]Callout
}

// NewRegistry creates an empty callout registry.
func NewRegistry() *Registry {
	return &Registry{callouts: make(map[string][]Callout)}
}

// Register appends a callout to the named hook point.
func (r *Registry) Register(point string, c Callout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callouts[point] = append(r.callouts[point], c)
}

// HasCallouts reports whether any callout is registered at the point.
func (r *Registry) HasCallouts(point string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callouts[point]) > 0
}

// Dispatch runs the point's callout chain in registration order. The
// handle's skip flag is left for the caller to read once the chain has
// completed.
func (r *Registry) Dispatch(point string, h *Handle) {
	r.mu.RLock()
	chain := r.callouts[point]
	r.mu.RUnlock()

	for _, callout := range chain {
		callout(h)
	}
}
