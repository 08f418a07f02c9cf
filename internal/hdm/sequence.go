package hdm

import "sync"

// Sequence is the per-device request counter sent as "seq" in payloads.
// It only moves forward: once per completed round trip with the device, the
// login exchange included, once more before a logout, or by an explicit Set.
type Sequence struct {
	mu  sync.Mutex
	val int
}

// NewSequence creates a sequence starting at start (minimum 1)
func NewSequence(start int) *Sequence {
	if start < 1 {
		start = 1
	}
	return &Sequence{val: start}
}

// Current returns the value the next request will carry
func (s *Sequence) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// Advance moves past a completed round trip and returns the new value
func (s *Sequence) Advance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val++
	return s.val
}

// Bump is the explicit increment done before a disconnect. It returns the
// value to send.
func (s *Sequence) Bump() int {
	return s.Advance()
}

// Set replaces the value, for configuration changes and restoring a
// persisted counter
func (s *Sequence) Set(v int) {
	if v < 1 {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.val = v
}
