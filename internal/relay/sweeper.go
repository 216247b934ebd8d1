package relay

import (
	"time"

	"github.com/BesiegedCity/sakamichibot/pkg/logx"
)

// Sweep evicts every item whose key timestamp is older than MaxItemAge,
// regardless of state. A fully prepared item past the ceiling is dropped
// too, armed debounce job included. Eviction is silent toward contributors;
// only the log records it.
func (c *Coordinator) Sweep(now time.Time) int {
	type victim struct {
		key, seq   int64
		state      State
		heldWindow bool
	}

	c.mu.Lock()
	var victims []victim
	for _, it := range c.reg.All() {
		age := now.Sub(time.Unix(it.Key, 0))
		if age <= c.opts.MaxItemAge {
			continue
		}
		held := c.collectingKey == it.Key
		if held {
			c.collectingKey = 0
			c.pending = nil
		}
		c.reg.Remove(it.Key)
		victims = append(victims, victim{key: it.Key, seq: it.Seq, state: it.State, heldWindow: held})
	}
	c.mu.Unlock()

	for _, v := range victims {
		if v.heldWindow {
			_ = c.jobs.Cancel(jobCollect)
		}
		_ = c.jobs.Cancel(publishJobID(v.seq))
		c.log.Warn("stale item evicted",
			logx.Int64("seq", v.seq),
			logx.Int64("key", v.key),
			logx.String("state", v.state.String()))
	}
	return len(victims)
}
