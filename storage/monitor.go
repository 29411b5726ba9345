package storage

// Event is what one Monitor step did.
type Event uint8

const (
	EventOpenFailed Event = iota
	EventOpened
	EventHealthy
	EventLost
)

func (e Event) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventHealthy:
		return "healthy"
	case EventLost:
		return "lost"
	}
	return "open failed"
}

// Monitor keeps a card open. A card that stops answering is closed and
// opened again on a later step.
type Monitor struct {
	open func() (*Storage, error)
	cur  *Storage

	// Failures counts consecutive failed opens.
	Failures int
}

func NewMonitor(open func() (*Storage, error)) *Monitor {
	return &Monitor{open: open}
}

// Step opens the card if it is not open, otherwise polls it.
func (m *Monitor) Step() Event {
	if m.cur == nil {
		s, err := m.open()
		if err != nil {
			m.Failures++
			return EventOpenFailed
		}
		m.cur = s
		m.Failures = 0
		return EventOpened
	}
	if !m.cur.Check() {
		m.cur.Close()
		m.cur = nil
		return EventLost
	}
	return EventHealthy
}

// Storage returns the open card, or nil.
func (m *Monitor) Storage() *Storage { return m.cur }
