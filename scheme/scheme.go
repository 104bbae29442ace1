// Package scheme defines the payment scheme contracts and the registry that
// resolves an implementation for a given role, chain family, scheme name and
// protocol version.
//
// A scheme owns the semantics of one payment method on one chain family.
// Implementations register themselves under one of three roles: a Client
// constructs payment proofs, a Server decides structural acceptance, and a
// Facilitator performs authoritative verification and settlement. Lookup is
// exact on every key component, so a version 1 registration is never served
// to a version 2 payload.
package scheme

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lumenpay/x402"
	"github.com/lumenpay/x402/ledger"
)

var (
	// ErrDuplicateScheme is returned when a registration collides with an
	// existing entry under the same key.
	ErrDuplicateScheme = errors.New("scheme: already registered")

	// ErrUnknownScheme is returned when no implementation is registered for
	// the requested key.
	ErrUnknownScheme = errors.New("scheme: not registered")
)

// Role identifies which side of the protocol an implementation serves.
type Role string

const (
	RoleClient      Role = "client"
	RoleServer      Role = "server"
	RoleFacilitator Role = "facilitator"
)

// Key identifies one scheme implementation. All four components participate
// in lookup.
type Key struct {
	Role    Role
	Family  x402.Family
	Scheme  string
	Version int
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/v%d", k.Role, k.Family, k.Scheme, k.Version)
}

// Client constructs a payment proof satisfying the given requirement.
type Client interface {
	Construct(ctx context.Context, requirements *x402.PaymentRequirements) (*x402.PaymentPayload, error)
}

// Server performs the structural acceptance check on a decoded payload
// against the requirement the resource server advertised. Accept never does
// network I/O; a false return means the payload cannot possibly satisfy the
// requirement and the caller should fail fast without consulting a
// facilitator.
type Server interface {
	Accept(requirements *x402.PaymentRequirements, payload *x402.PaymentPayload) bool
}

// Facilitator performs authoritative verification and settlement of a proof.
// The returned record is terminal: Settled, Rejected or Expired.
type Facilitator interface {
	VerifyAndSettle(ctx context.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) (*ledger.Record, error)
}

// Registry maps keys to scheme implementations. The zero value is not usable;
// call NewRegistry. All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]interface{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Key]interface{})}
}

// RegisterClient registers a client implementation under the given key.
func (r *Registry) RegisterClient(family x402.Family, scheme string, version int, impl Client) error {
	return r.register(Key{RoleClient, family, scheme, version}, impl)
}

// RegisterServer registers a server implementation under the given key.
func (r *Registry) RegisterServer(family x402.Family, scheme string, version int, impl Server) error {
	return r.register(Key{RoleServer, family, scheme, version}, impl)
}

// RegisterFacilitator registers a facilitator implementation under the given key.
func (r *Registry) RegisterFacilitator(family x402.Family, scheme string, version int, impl Facilitator) error {
	return r.register(Key{RoleFacilitator, family, scheme, version}, impl)
}

func (r *Registry) register(key Key, impl interface{}) error {
	if impl == nil {
		return fmt.Errorf("scheme: nil implementation for %s", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateScheme, key)
	}
	r.entries[key] = impl
	return nil
}

// Client resolves a client implementation. The family is derived from the
// requirement's network.
func (r *Registry) Client(requirements *x402.PaymentRequirements) (Client, error) {
	family, err := x402.ParseFamily(requirements.Network)
	if err != nil {
		return nil, err
	}
	version := requirements.X402Version
	if version == 0 {
		version = x402.VersionCurrent
	}
	impl, err := r.lookup(Key{RoleClient, family, requirements.Scheme, version})
	if err != nil {
		return nil, err
	}
	return impl.(Client), nil
}

// Server resolves a server implementation for the given payload.
func (r *Registry) Server(network, schemeName string, version int) (Server, error) {
	family, err := x402.ParseFamily(network)
	if err != nil {
		return nil, err
	}
	impl, err := r.lookup(Key{RoleServer, family, schemeName, version})
	if err != nil {
		return nil, err
	}
	return impl.(Server), nil
}

// Facilitator resolves a facilitator implementation for the given payload.
func (r *Registry) Facilitator(network, schemeName string, version int) (Facilitator, error) {
	family, err := x402.ParseFamily(network)
	if err != nil {
		return nil, err
	}
	impl, err := r.lookup(Key{RoleFacilitator, family, schemeName, version})
	if err != nil {
		return nil, err
	}
	return impl.(Facilitator), nil
}

func (r *Registry) lookup(key Key) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, key)
	}
	return impl, nil
}

// Keys returns all registered keys, in no particular order. Facilitator
// services use it to report the kinds they support.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]Key, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return keys
}

// Default is the process-wide registry that package-level Register calls in
// the mechanism packages populate.
var Default = NewRegistry()
