package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestOnlineIffConnectionSetNonEmpty(t *testing.T) {
	r := NewRegistry(nil)

	if r.IsOnline("u1") {
		t.Fatal("fresh identity should be offline")
	}

	const n = 5
	for i := 0; i < n; i++ {
		r.Register("u1", fmt.Sprintf("conn-%d", i))
	}
	if !r.IsOnline("u1") {
		t.Fatal("identity with connections should be online")
	}

	// Disconnect all but one.
	for i := 0; i < n-1; i++ {
		r.Unregister("u1", fmt.Sprintf("conn-%d", i))
	}
	if !r.IsOnline("u1") {
		t.Fatal("identity should stay online until the last connection drops")
	}

	r.Unregister("u1", fmt.Sprintf("conn-%d", n-1))
	if r.IsOnline("u1") {
		t.Fatal("identity should be offline after last disconnect")
	}
}

func TestTransitionEventsFireOnEdgesOnly(t *testing.T) {
	r := NewRegistry(nil)

	var mu sync.Mutex
	var events []Event
	r.OnChange(func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	r.Register("u1", "c1")
	r.Register("u1", "c2") // no event: already online
	r.Unregister("u1", "c1")
	r.Unregister("u1", "c2")

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	if !events[0].Online || events[0].IdentityID != "u1" {
		t.Errorf("first event = %+v, want online u1", events[0])
	}
	if events[1].Online {
		t.Errorf("second event = %+v, want offline", events[1])
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)

	var mu sync.Mutex
	count := 0
	r.OnChange(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	r.Register("u1", "c1")
	// Disconnect and heartbeat-timeout paths racing on the same connection.
	r.Unregister("u1", "c1")
	r.Unregister("u1", "c1")
	r.Unregister("u1", "never-registered")
	r.Unregister("ghost", "c9")

	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Fatalf("got %d transition events, want 2 (one online, one offline)", count)
	}
}

func TestLastSeenStamped(t *testing.T) {
	r := NewRegistry(nil)

	if !r.LastSeen("u1").IsZero() {
		t.Fatal("never-connected identity should have zero last-seen")
	}

	before := time.Now()
	r.Register("u1", "c1")
	seen := r.LastSeen("u1")
	if seen.Before(before) {
		t.Errorf("last-seen %v should be >= %v", seen, before)
	}

	r.Unregister("u1", "c1")
	offlineSeen := r.LastSeen("u1")
	if offlineSeen.Before(seen) {
		t.Errorf("last-seen should advance on disconnect")
	}
	// Entry keeps the timestamp after the set empties.
	if r.IsOnline("u1") {
		t.Error("should be offline")
	}
}

func TestConcurrentChurn(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%8)
			conn := fmt.Sprintf("c%d", i)
			for j := 0; j < 100; j++ {
				r.Register(id, conn)
				r.IsOnline(id)
				r.Unregister(id, conn)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		if r.IsOnline(fmt.Sprintf("u%d", i)) {
			t.Errorf("u%d should be offline after churn", i)
		}
	}
	if got := r.OnlineCount(); got != 0 {
		t.Errorf("online count = %d, want 0", got)
	}
}
