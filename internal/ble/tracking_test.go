package ble

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestLinkTable() (*linkTable, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	table := newLinkTable()
	table.now = clock.now
	return table, clock
}

func TestLinkTableLostReturnsTrackedLink(t *testing.T) {
	table, _ := newTestLinkTable()
	conn := &tinyGoConnection{id: "AA"}
	table.add("AA", conn)

	if got := table.lost("AA"); got != conn {
		t.Fatalf("lost() = %p, want %p", got, conn)
	}
	if got := table.lost("AA"); got != nil {
		t.Errorf("second lost() = %p, want nil", got)
	}
}

func TestLinkTableLostUnknown(t *testing.T) {
	table, _ := newTestLinkTable()
	if got := table.lost("AA"); got != nil {
		t.Errorf("lost(unknown) = %p, want nil", got)
	}
}

func TestLinkTableClosedRemovesEntry(t *testing.T) {
	table, clock := newTestLinkTable()
	conn := &tinyGoConnection{id: "AA"}
	table.add("AA", conn)

	table.closed("AA", conn)
	clock.t = clock.t.Add(time.Minute)
	if got := table.lost("AA"); got != nil {
		t.Errorf("lost() after explicit close = %p, want nil", got)
	}
}

func TestLinkTableStaleLossSparesReconnectedLink(t *testing.T) {
	table, clock := newTestLinkTable()
	old := &tinyGoConnection{id: "AA"}
	table.add("AA", old)

	// Disconnect then reconnect before the platform reports the old loss.
	table.closed("AA", old)
	fresh := &tinyGoConnection{id: "AA"}
	table.add("AA", fresh)

	clock.t = clock.t.Add(100 * time.Millisecond)
	if got := table.lost("AA"); got != nil {
		t.Fatalf("stale loss event routed to %p, want nil", got)
	}

	// A later genuine loss reaches the new link.
	if got := table.lost("AA"); got != fresh {
		t.Errorf("lost() = %p, want new link %p", got, fresh)
	}
}

func TestLinkTableClosedKeepsNewerLink(t *testing.T) {
	table, clock := newTestLinkTable()
	old := &tinyGoConnection{id: "AA"}
	fresh := &tinyGoConnection{id: "AA"}
	table.add("AA", fresh)

	table.closed("AA", old)
	clock.t = clock.t.Add(staleLossWindow + time.Second)
	if got := table.lost("AA"); got != fresh {
		t.Errorf("lost() = %p, want %p", got, fresh)
	}
}

func TestSightingsFoldAdvertisements(t *testing.T) {
	s := newSightings()
	s.add("AA", "", -70)
	s.add("AA", "Phone", -60)
	s.add("AA", "", -55)
	s.add("BB", "Watch", -90)

	devices := s.list()
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
	for _, d := range devices {
		if d.ID == "AA" {
			if d.Name != "Phone" {
				t.Errorf("AA name = %q, want %q", d.Name, "Phone")
			}
			if d.RSSI != -55 {
				t.Errorf("AA RSSI = %d, want latest -55", d.RSSI)
			}
		}
	}
}

func TestSightingsEmpty(t *testing.T) {
	if devices := newSightings().list(); devices == nil || len(devices) != 0 {
		t.Errorf("list() = %v, want empty non-nil slice", devices)
	}
}
