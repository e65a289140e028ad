// Package curated keeps the hand-picked token list shown on the pump list.
package curated

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrReadOnly is returned by Add when no database path is configured.
var ErrReadOnly = errors.New("curated list is read-only")

var (
	seqPrefix = []byte("seq:")
	caPrefix  = []byte("ca:")
	nextKey   = []byte("meta:next")
)

// Store is an insertion-ordered set of contract addresses on LevelDB.
// Without a database it serves a fixed fallback list.
type Store struct {
	db       *leveldb.DB
	fallback []string

	mu   sync.Mutex
	next uint64
}

// Open opens the list at path. An empty path yields a read-only store over
// fallback. A fresh database is seeded with fallback.
func Open(path string, fallback []string) (*Store, error) {
	s := &Store{fallback: dedupe(fallback)}
	if path == "" {
		return s, nil
	}

	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open curated db: %w", err)
	}
	s.db = db

	raw, err := db.Get(nextKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		for _, ca := range s.fallback {
			if _, err := s.Add(ca); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to seed curated db: %w", err)
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], s.next)
		if err := db.Put(nextKey, buf[:], nil); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed curated db: %w", err)
		}
	case err != nil:
		db.Close()
		return nil, fmt.Errorf("failed to read curated sequence: %w", err)
	default:
		s.next = binary.BigEndian.Uint64(raw)
	}
	return s, nil
}

// ReadOnly reports whether Add is unavailable.
func (s *Store) ReadOnly() bool {
	return s.db == nil
}

// List returns the addresses in insertion order.
func (s *Store) List() ([]string, error) {
	if s.db == nil {
		return append([]string(nil), s.fallback...), nil
	}

	iter := s.db.NewIterator(util.BytesPrefix(seqPrefix), nil)
	defer iter.Release()

	out := []string{}
	for iter.Next() {
		out = append(out, string(iter.Value()))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate curated list: %w", err)
	}
	return out, nil
}

// Add appends ca unless an address equal under case folding is present.
// It reports whether the list changed.
func (s *Store) Add(ca string) (bool, error) {
	ca = strings.TrimSpace(ca)
	if ca == "" {
		return false, errors.New("contract address must not be empty")
	}
	if s.db == nil {
		return false, ErrReadOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := append(append([]byte{}, caPrefix...), strings.ToLower(ca)...)
	has, err := s.db.Has(key, nil)
	if err != nil {
		return false, fmt.Errorf("failed to check curated entry: %w", err)
	}
	if has {
		return false, nil
	}

	seq := s.next
	var seqBuf, nextBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	binary.BigEndian.PutUint64(nextBuf[:], seq+1)

	batch := new(leveldb.Batch)
	batch.Put(append(append([]byte{}, seqPrefix...), seqBuf[:]...), []byte(ca))
	batch.Put(key, seqBuf[:])
	batch.Put(nextKey, nextBuf[:])
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return false, fmt.Errorf("failed to write curated entry: %w", err)
	}
	s.next = seq + 1
	return true, nil
}

// Close closes the database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, ca := range in {
		ca = strings.TrimSpace(ca)
		k := strings.ToLower(ca)
		if ca == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, ca)
	}
	return out
}
