package app

// Release exposes the executor teardown to black-box tests.
func (s *Session) Release(steps ...func() error) {
	s.release(steps...)
}
