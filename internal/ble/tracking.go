package ble

import (
	"sync"
	"time"
)

// staleLossWindow is how long after an explicit disconnect a platform
// link-loss event for the same id is treated as belonging to that link.
const staleLossWindow = 2 * time.Second

// linkTable tracks open links by normalized device id so adapter-level
// link-loss events can be routed to the right connection.
type linkTable struct {
	mu    sync.Mutex
	links map[string]*tinyGoConnection
	stale map[string]time.Time // id -> deadline for swallowing one loss event
	now   func() time.Time
}

func newLinkTable() *linkTable {
	return &linkTable{
		links: make(map[string]*tinyGoConnection),
		stale: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (t *linkTable) add(id string, c *tinyGoConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.links[id] = c
}

// closed records an explicit disconnect of c. The entry is removed only
// while it still points at c, and the next loss event for id within
// staleLossWindow is attributed to c rather than a newer link.
func (t *linkTable) closed(id string, c *tinyGoConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[id] == c {
		delete(t.links, id)
	}
	t.stale[id] = t.now().Add(staleLossWindow)
}

// lost pops the connection a loss event for id refers to, or nil if the
// event is stale or nothing is tracked.
func (t *linkTable) lost(id string) *tinyGoConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	if deadline, ok := t.stale[id]; ok {
		delete(t.stale, id)
		if t.now().Before(deadline) {
			return nil
		}
	}
	c, ok := t.links[id]
	if !ok {
		return nil
	}
	delete(t.links, id)
	return c
}

// sightings folds repeated advertisements into one Device per id. Names
// often arrive only in a later scan response, so a known name is never
// overwritten by an empty one. RSSI keeps the latest reading.
type sightings struct {
	mu      sync.Mutex
	devices map[string]Device
}

func newSightings() *sightings {
	return &sightings{devices: make(map[string]Device)}
}

func (s *sightings) add(id, name string, rssi int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.devices[id]
	d.ID = id
	if name != "" {
		d.Name = name
	}
	d.RSSI = rssi
	s.devices[id] = d
}

func (s *sightings) list() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}
