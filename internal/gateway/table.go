// Package gateway tracks the gateway-id to return-address mapping used by
// the listener to route downlinks back to the originating gateway.
package gateway

import (
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brocaar/lora-packet-multiplexer/internal/gwmp"
)

// TTL is the idle duration after which a gateway entry is evicted.
const TTL = 60 * time.Second

// Entry holds the last known return address for a gateway.
type Entry struct {
	Addr     *net.UDPAddr
	LastSeen time.Time
}

// Table is a gateway-id to Entry mapping, guarded for concurrent use by a
// single writer (the listener's uplink reader and janitor) and any number
// of readers (the downlink writer).
type Table struct {
	mu      sync.RWMutex
	entries map[gwmp.GatewayId]Entry
}

// NewTable returns an empty gateway table.
func NewTable() *Table {
	return &Table{
		entries: make(map[gwmp.GatewayId]Entry),
	}
}

// Set inserts or updates the entry for the given gateway id.
func (t *Table) Set(id gwmp.GatewayId, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = Entry{
		Addr:     addr,
		LastSeen: time.Now(),
	}
}

// Get returns the entry for the given gateway id, if any.
func (t *Table) Get(id gwmp.GatewayId) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Cleanup evicts entries that have been idle for at least TTL, or whose
// last-seen time is in the future (clock skew).
func (t *Table) Cleanup() {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.entries {
		age := now.Sub(e.LastSeen)
		if age >= TTL || age < 0 {
			log.WithFields(log.Fields{
				"gateway_id": id,
				"addr":       e.Addr,
			}).Info("gateway: evicting inactive gateway mapping")
			delete(t.entries, id)
		}
	}
}

// Len returns the number of tracked gateways. Mostly useful for tests.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// RunJanitor runs Cleanup every interval until stop is closed.
func (t *Table) RunJanitor(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Cleanup()
		case <-stop:
			return
		}
	}
}
