package ws

import (
	"sync"
	"time"
)

// Monitor drives the per-connection liveness state machine:
// ACTIVE -> AWAITING_PONG -> back to ACTIVE on acknowledgment, or forced
// close on timeout. At most one timeout timer is outstanding at any moment;
// re-arming always disarms the previous timer so a late pong can never race
// a stale timer into a double close.
type Monitor struct {
	interval time.Duration
	timeout  time.Duration
	probe    func() error
	expire   func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	done    chan struct{}
}

// NewMonitor creates a heartbeat monitor. probe sends one liveness probe to
// the peer; expire force-closes the connection after an unacknowledged probe.
func NewMonitor(interval, timeout time.Duration, probe func() error, expire func()) *Monitor {
	return &Monitor{
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		expire:   expire,
		done:     make(chan struct{}),
	}
}

// Start runs the probe loop until Stop is called.
func (m *Monitor) Start() {
	go m.loop()
}

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Arm before the probe goes out: the peer's acknowledgment can
			// arrive while the probe write is still in flight, and an ack
			// that finds no armed timer would be lost.
			m.arm()
			if err := m.probe(); err != nil {
				// Probe writes fail only on a dead transport; treat it the
				// same as a missed acknowledgment.
				m.fire()
				return
			}
		case <-m.done:
			return
		}
	}
}

// Ack records a probe acknowledgment, disarming the pending timeout.
func (m *Monitor) Ack() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
}

// Stop halts probing and disarms any pending timeout. It is idempotent and
// safe to call from any goroutine, including the expire callback itself.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	close(m.done)
	m.mu.Unlock()
}

func (m *Monitor) arm() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.timeout, m.fire)
}

func (m *Monitor) fire() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	close(m.done)
	m.mu.Unlock()
	m.expire()
}
