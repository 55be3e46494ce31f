package frontend

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
)

// BackendKey identifies one connection for CancelRequest routing.
type BackendKey struct {
	PID       uint32
	SecretKey uint32
}

// CancelRegistry is the process-wide mapping from backend keys to cancel
// functions. Lookups vastly outnumber registrations, so it is guarded by a
// reader-biased lock.
type CancelRegistry struct {
	mu sync.RWMutex
	m  map[BackendKey]func()
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{m: make(map[BackendKey]func())}
}

// Register installs cancel as the signal for key. Called at auth completion.
func (r *CancelRegistry) Register(key BackendKey, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[key] = cancel
}

// Unregister removes key. Called at connection termination.
func (r *CancelRegistry) Unregister(key BackendKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, key)
}

// Cancel fires the signal for key if both pid and secret match. Unknown keys
// report false and have no effect; the protocol sends no reply either way.
func (r *CancelRegistry) Cancel(key BackendKey) bool {
	r.mu.RLock()
	cancel, ok := r.m[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

// newSecretKey draws a 32-bit key from the shared cryptographic RNG.
func newSecretKey() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}
