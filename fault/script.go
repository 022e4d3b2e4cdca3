package fault

import "sync"

// ScriptInjector plays back a fixed sequence of outcomes.
//
// Each call to ShouldFail consumes the next outcome regardless of the
// operation. Once the script is exhausted, no further operation fails.
type ScriptInjector struct {
	mu       sync.Mutex
	outcomes []bool
	calls    []string
}

// Script returns an injector that fails the i-th operation when
// outcomes[i] is true.
func Script(outcomes ...bool) *ScriptInjector {
	return &ScriptInjector{outcomes: append([]bool(nil), outcomes...)}
}

// ShouldFail pops the next scripted outcome.
func (s *ScriptInjector) ShouldFail(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, op)
	if len(s.outcomes) == 0 {
		return false
	}
	next := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return next
}

// Calls returns the operations that consulted the injector, in order.
func (s *ScriptInjector) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Remaining returns how many scripted outcomes have not been consumed.
func (s *ScriptInjector) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}
