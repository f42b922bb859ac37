// Package shm maps the shared physiology record used by all simulator
// processes.
//
// The record lives in a named file under /dev/shm. One bootstrap process
// creates and sizes it; every other process opens it read/write. There is
// no transactional API: callers load and store individual fields. The only
// mutual exclusion primitive is the I2C bus lock, which never guards
// physiology fields.
package shm

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const DefaultPath = "/dev/shm/shmData"

var (
	ErrNotFound         = errors.New("shm: segment not found")
	ErrPermissionDenied = errors.New("shm: permission denied")
	ErrSizeMismatch     = errors.New("shm: segment size or layout mismatch")
	ErrBusBusy          = errors.New("shm: i2c bus lock not available")
)

const (
	defaultBusAttempts = 200
	defaultBusInterval = 10 * time.Millisecond
)

type Segment struct {
	path string
	mem  []byte
	data *Data

	busAttempts int
	busInterval time.Duration
}

func allocSize() int {
	pageSize := os.Getpagesize()
	return (Size + pageSize - 1) &^ (pageSize - 1)
}

func mapErrno(op, path string, err error) error {
	switch {
	case errors.Is(err, unix.ENOENT):
		return fmt.Errorf("%w: %s %s", ErrNotFound, op, path)
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: %s %s", ErrPermissionDenied, op, path)
	default:
		return fmt.Errorf("shm: %s %s: %w", op, path, err)
	}
}

// OpenSegment opens the segment at path, creating and sizing it first when
// create is set.
func OpenSegment(path string, create bool) (*Segment, error) {
	if create {
		return Create(path)
	}
	return Open(path)
}

// Create creates (or truncates to size) the segment at path and stamps the
// layout header. Existing field values are preserved when the size already
// matches.
func Create(path string) (*Segment, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0600)
	if err != nil {
		return nil, mapErrno("create", path, err)
	}
	defer unix.Close(fd)

	if err = unix.Ftruncate(fd, int64(allocSize())); err != nil {
		return nil, mapErrno("ftruncate", path, err)
	}

	s, err := mapSegment(path, fd)
	if err != nil {
		return nil, err
	}

	s.data.Header.Magic.Store(Magic)
	s.data.Header.Version.Store(LayoutVersion)
	s.data.Header.BusLock.Store(0)
	return s, nil
}

// Open maps an existing segment. The file size and header must match this
// build's layout.
func Open(path string) (*Segment, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, mapErrno("open", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err = unix.Fstat(fd, &st); err != nil {
		return nil, mapErrno("stat", path, err)
	}
	if st.Size != int64(allocSize()) {
		return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, st.Size, allocSize())
	}

	s, err := mapSegment(path, fd)
	if err != nil {
		return nil, err
	}

	if m, v := s.data.Header.Magic.Load(), s.data.Header.Version.Load(); m != Magic || v != LayoutVersion {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %s header %08x/v%d", ErrSizeMismatch, path, m, v)
	}
	return s, nil
}

func mapSegment(path string, fd int) (*Segment, error) {
	mem, err := unix.Mmap(fd, 0, allocSize(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, mapErrno("mmap", path, err)
	}

	return &Segment{
		path:        path,
		mem:         mem,
		data:        (*Data)(unsafe.Pointer(&mem[0])),
		busAttempts: defaultBusAttempts,
		busInterval: defaultBusInterval,
	}, nil
}

// NewMemory returns a process-local segment with the same record layout.
func NewMemory() *Segment {
	d := &Data{}
	d.Header.Magic.Store(Magic)
	d.Header.Version.Store(LayoutVersion)
	return &Segment{
		path:        "(memory)",
		data:        d,
		busAttempts: defaultBusAttempts,
		busInterval: defaultBusInterval,
	}
}

func (s *Segment) Path() string { return s.path }

func (s *Segment) Data() *Data { return s.data }

func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	mem := s.mem
	s.mem = nil
	s.data = nil
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("shm: munmap %s: %w", s.path, err)
	}
	return nil
}
