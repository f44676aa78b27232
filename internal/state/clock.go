package state

// Clock is a Lamport clock: every emitted operation is stamped with a value
// strictly greater than any value this replica has seen, so causal
// successors always order after their dependencies. Not safe for concurrent
// use on its own; the Store serializes access.
type Clock struct {
	counter uint64
}

// Tick advances the clock and returns the new value.
func (c *Clock) Tick() uint64 {
	c.counter++
	return c.counter
}

// Observe folds in a timestamp received from another replica.
func (c *Clock) Observe(t uint64) {
	if t > c.counter {
		c.counter = t
	}
}

// Now returns the current value without advancing.
func (c *Clock) Now() uint64 {
	return c.counter
}

// versionVector tracks the highest operation counter seen per actor. An op
// emitted by a replica carries a copy of its vector as the set of counters
// the op was aware of.
type versionVector map[string]uint64

func (v versionVector) observe(actor string, seq uint64) {
	if seq > v[actor] {
		v[actor] = seq
	}
}

func (v versionVector) clone() map[string]uint64 {
	if len(v) == 0 {
		return nil
	}
	out := make(map[string]uint64, len(v))
	for actor, seq := range v {
		out[actor] = seq
	}
	return out
}
