package app

import (
	"sync"
)

// Conn is a transport-level socket the core can push serialized events to.
// Send must not block on the network; implementations queue and drop.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// Binding ties a connection to the room and user it joined as.
type Binding struct {
	RoomCode string
	UserID   int64
}

type registration struct {
	conn    Conn
	binding *Binding
}

// Registry maps connection handles to sockets and room bindings. Other
// components keep only usernames/user IDs and resolve handles here at send time.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*registration)}
}

// Register adds a socket and returns its handle.
func (r *Registry) Register(conn Conn) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = &registration{conn: conn}
	return conn.ID()
}

// Unregister forgets a handle entirely and returns its last binding, if any.
func (r *Registry) Unregister(handle string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.conns[handle]
	if !ok {
		return Binding{}, false
	}
	delete(r.conns, handle)
	if reg.binding == nil {
		return Binding{}, false
	}
	return *reg.binding, true
}

// Bind records that handle joined roomCode as userID.
func (r *Registry) Bind(handle, roomCode string, userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.conns[handle]
	if !ok {
		return false
	}
	reg.binding = &Binding{RoomCode: roomCode, UserID: userID}
	return true
}

// Release drops a handle's room binding; the socket stays registered.
func (r *Registry) Release(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.conns[handle]; ok {
		reg.binding = nil
	}
}

// Lookup resolves a handle to its socket.
func (r *Registry) Lookup(handle string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.conns[handle]
	if !ok {
		return nil, false
	}
	return reg.conn, true
}

// Binding returns the room binding of handle.
func (r *Registry) Binding(handle string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.conns[handle]
	if !ok || reg.binding == nil {
		return Binding{}, false
	}
	return *reg.binding, true
}

// Connections returns every registered socket.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.conns))
	for _, reg := range r.conns {
		out = append(out, reg.conn)
	}
	return out
}

// Count returns the number of registered sockets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
