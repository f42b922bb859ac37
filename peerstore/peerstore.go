// Package peerstore remembers which managers this unit has connected to, so
// that after a restart the last one is tried before a subnet scan.
package peerstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

var (
	peersBucket = []byte("peers")
	metaBucket  = []byte("meta")
	keyLast     = []byte("last")
)

var ErrClosed = errors.New("peerstore: closed")

// Peer is one remembered manager address.
type Peer struct {
	Addr     string
	LastSeen time.Time
	Connects uint64
}

// Store is safe for concurrent use; bbolt serializes writers.
type Store struct {
	db   *bbolt.DB
	path string
	now  func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("peerstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(peersBucket); err != nil {
			return fmt.Errorf("peerstore: create peers bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(metaBucket); err != nil {
			return fmt.Errorf("peerstore: create meta bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// record layout: 8 bytes unix nanos, 8 bytes connect count.
func encodePeer(p Peer) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf, uint64(p.LastSeen.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], p.Connects)
	return buf
}

func decodePeer(addr string, v []byte) Peer {
	p := Peer{Addr: addr}
	if len(v) >= 16 {
		p.LastSeen = time.Unix(0, int64(binary.BigEndian.Uint64(v)))
		p.Connects = binary.BigEndian.Uint64(v[8:])
	}
	return p
}

// Remember records a successful connection to addr and makes it the last
// peer.
func (s *Store) Remember(addr string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		peers := tx.Bucket(peersBucket)
		p := decodePeer(addr, peers.Get([]byte(addr)))
		p.LastSeen = s.now()
		p.Connects++
		if err := peers.Put([]byte(addr), encodePeer(p)); err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put(keyLast, []byte(addr))
	})
}

// Last returns the most recently remembered address, or "" if none.
func (s *Store) Last() (addr string, err error) {
	if s.db == nil {
		return "", ErrClosed
	}
	err = s.db.View(func(tx *bbolt.Tx) error {
		addr = string(tx.Bucket(metaBucket).Get(keyLast))
		return nil
	})
	return
}

// List returns every remembered peer, most recent first.
func (s *Store) List() ([]Peer, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var peers []Peer
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(peersBucket).ForEach(func(k, v []byte) error {
			peers = append(peers, decodePeer(string(k), v))
			return nil
		})
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].LastSeen.After(peers[j].LastSeen) })
	return peers, err
}

// Forget removes addr. If it was the last peer, no peer is last afterwards.
func (s *Store) Forget(addr string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(peersBucket).Delete([]byte(addr)); err != nil {
			return err
		}
		meta := tx.Bucket(metaBucket)
		if string(meta.Get(keyLast)) == addr {
			return meta.Delete(keyLast)
		}
		return nil
	})
}
