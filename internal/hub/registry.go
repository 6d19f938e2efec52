package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Conn is an addressable endpoint: anything that can accept a payload,
// answer a liveness probe and be closed with a reason. The user WebSocket
// pool, the device WebSocket pool and the MQTT virtual pool all register
// values behind this interface.
type Conn interface {
	Send(data []byte) error
	Ping() error
	Close(reason string)
}

// missedPingLimit is how many consecutive unanswered pings a connection
// survives before the sweeper terminates it.
const missedPingLimit = 2

type entry struct {
	conn   Conn
	misses int
}

// Registry maps actor ids (user ids, device ids) to live connections.
// At most one connection per id: registering over an existing entry closes
// the previous handle first.
type Registry struct {
	name     string
	mu       sync.RWMutex
	entries  map[string]*entry
	onEvict  func(id string)
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewRegistry(name string) *Registry {
	return &Registry{
		name:     name,
		entries:  make(map[string]*entry),
		stopChan: make(chan struct{}),
	}
}

// OnEvict installs a hook invoked (outside the registry lock) whenever a
// connection leaves the registry for any reason other than re-registration.
func (r *Registry) OnEvict(fn func(id string)) {
	r.mu.Lock()
	r.onEvict = fn
	r.mu.Unlock()
}

func (r *Registry) Register(id string, conn Conn) {
	r.mu.Lock()
	old, existed := r.entries[id]
	r.entries[id] = &entry{conn: conn}
	total := len(r.entries)
	r.mu.Unlock()

	if existed {
		log.Printf("♻️  [%s] replacing existing connection for %s", r.name, id)
		old.conn.Close("duplicate connection")
	}

	log.Printf("✅ [%s] %s connected (%d total)", r.name, id, total)
}

func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	evict := r.onEvict
	remaining := len(r.entries)
	r.mu.Unlock()

	if ok {
		log.Printf("🔌 [%s] %s disconnected (%d remaining)", r.name, id, remaining)
		if evict != nil {
			evict(id)
		}
	}
	return ok
}

// UnregisterConn removes id only if conn is still the registered handle.
// A connection that was already replaced by a duplicate must not evict its
// successor when its read loop finally exits.
func (r *Registry) UnregisterConn(id string, conn Conn) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	evict := r.onEvict
	remaining := len(r.entries)
	r.mu.Unlock()

	log.Printf("🔌 [%s] %s disconnected (%d remaining)", r.name, id, remaining)
	if evict != nil {
		evict(id)
	}
	return true
}

func (r *Registry) Get(id string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) IsOnline(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Send delivers raw bytes to one actor. Any transport failure is treated as
// a disconnect: the entry is evicted and false returned.
func (r *Registry) Send(id string, data []byte) bool {
	conn, ok := r.Get(id)
	if !ok {
		return false
	}

	if err := conn.Send(data); err != nil {
		log.Printf("❌ [%s] send to %s failed: %v", r.name, id, err)
		conn.Close("write failed")
		r.Unregister(id)
		return false
	}

	return true
}

func (r *Registry) SendJSON(id string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("❌ [%s] marshal for %s failed: %v", r.name, id, err)
		return false
	}
	return r.Send(id, data)
}

// BroadcastJSON sends to every registered connection and returns the number
// of successful deliveries.
func (r *Registry) BroadcastJSON(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("❌ [%s] broadcast marshal failed: %v", r.name, err)
		return 0
	}

	sent := 0
	for _, id := range r.IDs() {
		if r.Send(id, data) {
			sent++
		}
	}
	return sent
}

// MarkAlive resets the missed-ping counter for an actor. Called from pong
// handlers and on any inbound traffic.
func (r *Registry) MarkAlive(id string) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.misses = 0
	}
	r.mu.Unlock()
}

// Sweep performs one heartbeat pass: connections that have missed too many
// pings are terminated and evicted, the rest are pinged again. Returns the
// ids that were evicted.
func (r *Registry) Sweep() []string {
	r.mu.Lock()
	var stale []string
	var probe []struct {
		id   string
		conn Conn
	}
	for id, e := range r.entries {
		if e.misses >= missedPingLimit {
			stale = append(stale, id)
			continue
		}
		e.misses++
		probe = append(probe, struct {
			id   string
			conn Conn
		}{id, e.conn})
	}
	r.mu.Unlock()

	for _, id := range stale {
		log.Printf("💀 [%s] terminating stale connection for %s", r.name, id)
		if conn, ok := r.Get(id); ok {
			conn.Close("heartbeat timeout")
		}
		r.Unregister(id)
	}

	for _, p := range probe {
		if err := p.conn.Ping(); err != nil {
			log.Printf("❌ [%s] ping to %s failed: %v", r.name, p.id, err)
		}
	}

	return stale
}

// StartSweeper runs Sweep on a fixed cadence until Shutdown.
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Shutdown stops the sweeper and closes every live connection.
func (r *Registry) Shutdown() {
	r.stopOnce.Do(func() { close(r.stopChan) })

	for _, id := range r.IDs() {
		if conn, ok := r.Get(id); ok {
			conn.Close("server shutdown")
		}
		r.Unregister(id)
	}
}
