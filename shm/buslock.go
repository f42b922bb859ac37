package shm

import "time"

// SetBusLockPolicy sets how many times AcquireBusLock tries and how long it
// sleeps between tries.
func (s *Segment) SetBusLockPolicy(attempts int, interval time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	s.busAttempts = attempts
	s.busInterval = interval
}

// AcquireBusLock takes the I2C bus lock. After the configured attempts it
// gives up with ErrBusBusy; the caller skips its cycle.
func (s *Segment) AcquireBusLock() error {
	lock := &s.data.Header.BusLock
	for try := 0; ; try++ {
		if lock.CompareAndSwap(0, 1) {
			return nil
		}
		if try+1 >= s.busAttempts {
			return ErrBusBusy
		}
		time.Sleep(s.busInterval)
	}
}

func (s *Segment) ReleaseBusLock() {
	s.data.Header.BusLock.Store(0)
}

// WithBus runs one bus transaction under the lock. fn must not sleep.
func (s *Segment) WithBus(fn func() error) error {
	if err := s.AcquireBusLock(); err != nil {
		return err
	}
	defer s.ReleaseBusLock()
	return fn()
}
