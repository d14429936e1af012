package message

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrTypeRegistered is returned when a message type name is registered twice.
	ErrTypeRegistered = errors.New("message type already registered")

	// ErrTypeUnknown is returned when a type name has no registration.
	ErrTypeUnknown = errors.New("message type not registered")
)

// Registry maps message types to small integer ids, holds the
// reflect.Type needed to decode a message from the wire, and records
// group memberships used for wildcard subscriptions ("all commands",
// "all domain events").
//
// A Registry is constructed once at startup, fully populated before any
// bus or transport starts, and read-mostly afterwards.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*registration
	byID    map[uint16]*registration
	members map[string][]string
	nextID  uint16
}

type registration struct {
	name   string
	id     uint16
	rt     reflect.Type
	groups []string
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*registration),
		byID:    make(map[uint16]*registration),
		members: make(map[string][]string),
	}
}

// Register adds the message type T to the registry under its reflected
// type name, optionally declaring group memberships. Registering the same
// name twice returns ErrTypeRegistered.
//
// Example:
//
//	reg := message.NewRegistry()
//	if err := message.Register[DepositFunds](reg, "command"); err != nil {
//	    log.Fatal(err)
//	}
func Register[T any](r *Registry, groups ...string) error {
	var zero T
	rt := reflect.TypeOf(zero)
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt == nil {
		return fmt.Errorf("register: type parameter must be a concrete type")
	}
	return r.register(TypeNameOf(zero), rt, groups)
}

func (r *Registry) register(name string, rt reflect.Type, groups []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrTypeRegistered, name)
	}

	r.nextID++
	reg := &registration{
		name:   name,
		id:     r.nextID,
		rt:     rt,
		groups: groups,
	}
	r.byName[name] = reg
	r.byID[reg.id] = reg
	for _, g := range groups {
		r.members[g] = append(r.members[g], name)
	}

	return nil
}

// TypeID returns the integer id assigned to the type name.
func (r *Registry) TypeID(name string) (uint16, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	if !ok {
		return 0, false
	}
	return reg.id, true
}

// NameByID returns the type name for an integer id.
func (r *Registry) NameByID(id uint16) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return reg.name, true
}

// New creates a fresh instance of the named type, returned as a pointer
// to its zero value, ready for unmarshaling.
func (r *Registry) New(name string) (any, error) {
	r.mu.RLock()
	reg, ok := r.byName[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeUnknown, name)
	}
	return reflect.New(reg.rt).Interface(), nil
}

// Members returns the type names registered under a group, in
// registration order. Unknown groups return nil: a wildcard subscription
// to an empty group is legal and simply matches nothing.
func (r *Registry) Members(group string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := r.members[group]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// InGroup reports whether the named type belongs to the group.
func (r *Registry) InGroup(name, group string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byName[name]
	if !ok {
		return false
	}
	for _, g := range reg.groups {
		if g == group {
			return true
		}
	}
	return false
}
