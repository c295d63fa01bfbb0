package connectivity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maksimkurb/keen-dnsguard/src/internal/log"
)

// DefaultDebounce is how long the monitor waits for link and route churn to
// settle before evaluating the network.
const DefaultDebounce = 2 * time.Second

// Event is a connectivity transition delivered to the session.
type Event int

const (
	// Lost means no default route is left.
	Lost Event = iota + 1
	// Changed means the set of default routes changed and at least one exists.
	Changed
)

func (e Event) String() string {
	switch e {
	case Lost:
		return "lost"
	case Changed:
		return "changed"
	}
	return "unknown"
}

// Change is a raw link or route notification.
type Change struct {
	Kind      string
	LinkIndex int
	LinkName  string
}

// Source produces raw notifications and answers route queries.
type Source interface {
	// Subscribe streams changes until done is closed. The returned channel is
	// closed when the subscription ends for any reason.
	Subscribe(done <-chan struct{}) (<-chan Change, error)
	// DefaultRoutes returns a stable description of every default route,
	// skipping routes through ignored links.
	DefaultRoutes(ignore map[string]bool) ([]string, error)
}

// Monitor turns link and route notifications into debounced Lost and Changed
// events. Notifications for ignored links (the tunnel itself) are discarded so
// bringing the tunnel up or down never looks like a network change.
type Monitor struct {
	source   Source
	debounce time.Duration
	ignore   map[string]bool

	resubscribeDelay time.Duration

	mu     sync.Mutex
	routes string
	events chan Event
}

// NewMonitor creates a monitor reading from source. ignore lists interface
// names whose notifications are discarded.
func NewMonitor(source Source, debounce time.Duration, ignore ...string) *Monitor {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	m := &Monitor{
		source:           source,
		debounce:         debounce,
		ignore:           make(map[string]bool, len(ignore)),
		resubscribeDelay: 5 * time.Second,
		events:           make(chan Event, 1),
	}
	for _, name := range ignore {
		m.ignore[name] = true
	}
	return m
}

// Events returns the event channel. Only the most recent undelivered event
// is kept.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Run watches the network until ctx is cancelled. The initial state is
// recorded without emitting an event.
func (m *Monitor) Run(ctx context.Context) error {
	initial, err := m.source.DefaultRoutes(m.ignore)
	if err != nil {
		log.Warnf("Failed to read initial default routes: %v", err)
	}
	m.mu.Lock()
	m.routes = fingerprint(initial)
	m.mu.Unlock()
	log.Debugf("Connectivity monitor started, default routes: [%s]", m.routes)

	timer := time.NewTimer(m.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		changes, err := m.source.Subscribe(ctx.Done())
		if err != nil {
			return err
		}

		if !m.consume(ctx, changes, timer) {
			return nil
		}

		log.Warnf("Network notifications ended, resubscribing in %v", m.resubscribeDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(m.resubscribeDelay):
		}
		// Anything may have happened while we were not listening
		timer.Reset(m.debounce)
	}
}

// consume handles one subscription. It returns false once ctx is done.
func (m *Monitor) consume(ctx context.Context, changes <-chan Change, timer *time.Timer) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case change, ok := <-changes:
			if !ok {
				return true
			}
			if m.ignore[change.LinkName] {
				continue
			}
			log.Debugf("Network %s change on link %d (%s)", change.Kind, change.LinkIndex, change.LinkName)
			timer.Reset(m.debounce)
		case <-timer.C:
			m.evaluate()
		}
	}
}

func (m *Monitor) evaluate() {
	routes, err := m.source.DefaultRoutes(m.ignore)
	if err != nil {
		log.Warnf("Failed to read default routes: %v", err)
		return
	}
	current := fingerprint(routes)

	m.mu.Lock()
	previous := m.routes
	m.routes = current
	m.mu.Unlock()

	if current == previous {
		return
	}

	event := Changed
	if current == "" {
		event = Lost
	}
	log.Infof("Network %s: default routes [%s] -> [%s]", event, previous, current)
	m.emit(event)
}

func (m *Monitor) emit(event Event) {
	for {
		select {
		case m.events <- event:
			return
		default:
		}
		// Replace the stale event
		select {
		case <-m.events:
		default:
		}
	}
}

func fingerprint(routes []string) string {
	sorted := append([]string(nil), routes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
