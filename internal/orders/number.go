package orders

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator issues human-readable order numbers that sort by creation
// time: ORD-YYYYMMDDHHMMSS-NNNNNN. The sequence resets every second, so a
// process can issue up to a million numbers per second. The stamp never goes
// backwards: after a clock step back numbers continue the latest second.
type NumberGenerator struct {
	mu   sync.Mutex
	last string
	seq  int
	node string
}

// NewNumberGenerator returns a generator. node is a short instance tag that
// keeps numbers unique across processes; it may be empty for a single
// instance.
func NewNumberGenerator(node string) *NumberGenerator {
	return &NumberGenerator{node: node}
}

func (g *NumberGenerator) Next(now time.Time) string {
	stamp := now.UTC().Format("20060102150405")

	g.mu.Lock()
	// same-width digits, so string order is time order
	if stamp < g.last {
		stamp = g.last
	}
	if stamp != g.last {
		g.last = stamp
		g.seq = 0
	}
	g.seq++
	seq := g.seq
	g.mu.Unlock()

	if g.node != "" {
		return fmt.Sprintf("ORD-%s-%s%06d", stamp, g.node, seq)
	}
	return fmt.Sprintf("ORD-%s-%06d", stamp, seq)
}

// NewOrderID returns a time-ordered UUIDv7, falling back to v4.
func NewOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
