// Atomic value with validity timeout.
// "modified" timestamp is updated after value, without consistency.
// Usage scenario: joystick axis, last telemetry reading.
// All methods except `Init` are thread-safe.
package cacheval

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

type Float32 struct {
	bits    uint32
	updated *atomic_clock.Clock
	valid   time.Duration
}

// Not thread-safe. `valid` duration cannot be changed later.
func (c *Float32) Init(valid time.Duration) {
	c.updated = atomic_clock.New()
	c.valid = valid
}

func (c *Float32) get(now int64) (float32, bool) {
	v := math.Float32frombits(atomic.LoadUint32(&c.bits))
	if c.updated.IsZero() {
		return v, false
	}
	clock := atomic_clock.New()
	clock.Set(now)
	age := clock.Sub(c.updated)
	return v, age >= 0 && age <= c.valid
}

// Returns current (possibly stale) value.
func (c *Float32) Get() float32 { return math.Float32frombits(atomic.LoadUint32(&c.bits)) }

// Returns current value and true if it's fresh.
func (c *Float32) GetFresh() (float32, bool) { return c.get(atomic_clock.Source()) }

// Returns fresh value or `def` when stale.
func (c *Float32) GetOr(def float32) float32 {
	if v, ok := c.GetFresh(); ok {
		return v
	}
	return def
}

// Updates value and modified timestamp.
func (c *Float32) Set(new float32) {
	atomic.StoreUint32(&c.bits, math.Float32bits(new))
	c.updated.SetNow()
}
