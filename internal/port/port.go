// Package port implements model ports: stable handles to the output points
// of the compiled processing graph.
//
// Ports are defined by the builder through a Registry transaction and become
// visible to the render engine only after Commit. Everything downstream of the
// builder only resolves and dereferences ports, it never creates them.
//
// The registry is an explicit object owned by the render engine lifecycle.
// There is no process-wide "current registry".
package port

import (
	"fmt"
	"sort"
	"sync"
)

// ModelPort is an opaque handle denoting one output point of the processing
// graph. The zero value is the NIL port and never resolves.
type ModelPort struct {
	id uint32
}

// NIL is the disconnected model port.
var NIL = ModelPort{}

// IsNil reports whether the port is disconnected.
func (p ModelPort) IsNil() bool {
	return p.id == 0
}

// ID returns the numeric identity of the port, stable for its lifetime.
func (p ModelPort) ID() uint32 {
	return p.id
}

func (p ModelPort) String() string {
	if p.IsNil() {
		return "port(NIL)"
	}
	return fmt.Sprintf("port(%d)", p.id)
}

// Descriptor is what the registry knows about a committed port.
type Descriptor struct {
	Port       ModelPort
	PipeID     string // pipe the port is fed from
	StreamType string // e.g. "video/raw", "audio/pcm"
}

// Registry holds the committed set of model ports plus at most one open
// transaction of the builder.
//
// Thread-safety: Lookup and Resolve are safe from any goroutine. Transactions
// are meant to be driven by the (single) builder.
type Registry struct {
	mu        sync.RWMutex
	committed map[ModelPort]Descriptor
	byPipe    map[string]ModelPort
	nextID    uint32
	tx        *Transaction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		committed: make(map[ModelPort]Descriptor),
		byPipe:    make(map[string]ModelPort),
	}
}

// Transaction collects port definitions until Commit.
type Transaction struct {
	reg     *Registry
	pending map[string]Descriptor
	done    bool
}

// Begin opens a builder transaction. Only one transaction may be open.
func (r *Registry) Begin() (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tx != nil {
		return nil, newPortError(ErrCodeTransactionOpen, "a registry transaction is already open", NIL)
	}
	r.tx = &Transaction{reg: r, pending: make(map[string]Descriptor)}
	return r.tx, nil
}

// Define declares a port for the given pipe. Ports of the committed state with
// the same pipe ID are carried over with their identity intact.
func (tx *Transaction) Define(pipeID, streamType string) (ModelPort, error) {
	tx.reg.mu.Lock()
	defer tx.reg.mu.Unlock()

	if tx.done {
		return NIL, newPortError(ErrCodeTransactionClosed, "transaction already finished", NIL)
	}
	if pipeID == "" {
		return NIL, newPortError(ErrCodeInvalidPipe, "empty pipe ID", NIL)
	}
	if _, exists := tx.pending[pipeID]; exists {
		return NIL, newPortError(ErrCodeDuplicatePipe, fmt.Sprintf("pipe %q defined twice", pipeID), NIL)
	}

	p, known := tx.reg.byPipe[pipeID]
	if !known {
		tx.reg.nextID++
		p = ModelPort{id: tx.reg.nextID}
	}
	tx.pending[pipeID] = Descriptor{Port: p, PipeID: pipeID, StreamType: streamType}
	return p, nil
}

// Commit replaces the committed port set with the transaction content.
// Ports not redefined in this transaction become disconnected.
func (tx *Transaction) Commit() error {
	r := tx.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if tx.done {
		return newPortError(ErrCodeTransactionClosed, "transaction already finished", NIL)
	}
	committed := make(map[ModelPort]Descriptor, len(tx.pending))
	byPipe := make(map[string]ModelPort, len(tx.pending))
	for pipe, d := range tx.pending {
		committed[d.Port] = d
		byPipe[pipe] = d.Port
	}
	r.committed = committed
	r.byPipe = byPipe
	r.tx = nil
	tx.done = true
	return nil
}

// Rollback discards the transaction.
func (tx *Transaction) Rollback() {
	tx.reg.mu.Lock()
	defer tx.reg.mu.Unlock()
	if tx.done {
		return
	}
	tx.done = true
	tx.reg.tx = nil
}

// Lookup returns the descriptor of a committed port.
func (r *Registry) Lookup(p ModelPort) (Descriptor, error) {
	if p.IsNil() {
		return Descriptor{}, newPortError(ErrCodeDisconnected, "model port is disconnected or NIL", p)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.committed[p]
	if !ok {
		return Descriptor{}, newPortError(ErrCodeUnknownPort, "model port was never registered, or got unregistered meanwhile", p)
	}
	return d, nil
}

// Contains reports whether the port is currently committed.
func (r *Registry) Contains(p ModelPort) bool {
	_, err := r.Lookup(p)
	return err == nil
}

// Resolve finds the port fed by the given pipe.
func (r *Registry) Resolve(pipeID string) (ModelPort, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byPipe[pipeID]
	if !ok {
		return NIL, newPortError(ErrCodeUnknownPort, fmt.Sprintf("no model port registered for pipe %q", pipeID), NIL)
	}
	return p, nil
}

// Ports lists the committed ports ordered by ID.
func (r *Registry) Ports() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.committed))
	for _, d := range r.committed {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port.id < out[j].Port.id })
	return out
}
