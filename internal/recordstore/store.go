package recordstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"storacore/internal/kadid"
)

// envelope is the on-disk/in-memory persisted form of a Record: storing
// Kind and Publisher alongside Value lets a restarted node rebuild its
// index without guessing a record's type from its bytes.
type envelope struct {
	Value     []byte     `json:"value"`
	Publisher *kadid.Key `json:"publisher,omitempty"`
	Expires   *time.Time `json:"expires,omitempty"`
	Kind      uint8      `json:"kind"`
}

type indexEntry struct {
	kind     kadid.RecordKind
	size     int64
	poisoned bool
}

// Store is the node-side record store described in §4.A: a content-addressed
// on-disk key/value store with type-specific validation, atomic writes, and
// capacity-triggered eviction of the keys farthest from self, biasing the
// store toward the close group. Layout and write
// discipline are adapted from the teacher's diskLRU in storage.go.
type Store struct {
	root       string
	self       kadid.Key
	maxRecords int
	maxBytes   int64

	// InRange reports whether key falls inside this node's responsibility
	// radius. Nil accepts every key; Open leaves it nil.
	InRange func(key kadid.Key) bool

	mu         sync.Mutex
	index      map[kadid.Key]indexEntry
	totalBytes int64

	// validateMu serializes ValidateAndStore end-to-end, so the Register
	// merge and Spend double-spend check-then-act sequences observe a
	// consistent prior state even when Node Logic and the Swarm Driver call
	// in from separate goroutines for the same key concurrently.
	validateMu sync.Mutex

	hotlog *zap.SugaredLogger
}

// Open creates or reopens a record store rooted at root, rebuilding its
// in-memory index from whatever is already on disk.
func Open(root string, self kadid.Key, maxRecords int, maxBytes int64) (*Store, error) {
	zl, err := zap.NewProduction()
	if err != nil {
		zl = zap.NewNop()
	}
	s := &Store{
		root:       root,
		self:       self,
		maxRecords: maxRecords,
		maxBytes:   maxBytes,
		index:      make(map[kadid.Key]indexEntry),
		hotlog:     zl.Sugar(),
	}
	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	log.Infof("recordstore: opened at %s, %d records loaded", root, len(s.index))
	return s, nil
}

func (s *Store) rebuildIndex() error {
	for _, dir := range []string{filepath.Join(s.root, recordDir), filepath.Join(s.root, doubleSpendDir)} {
		poisoned := dir == filepath.Join(s.root, doubleSpendDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("recordstore: scan %s: %w", dir, err)
		}
		for _, prefixEnt := range entries {
			if !prefixEnt.IsDir() {
				continue
			}
			sub := filepath.Join(dir, prefixEnt.Name())
			files, err := os.ReadDir(sub)
			if err != nil {
				return fmt.Errorf("recordstore: scan %s: %w", sub, err)
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				name := f.Name()
				if poisoned {
					// double-spend entries are stored as sibling <hex>.a /
					// <hex>.b files; fold both into one poisoned index
					// entry keyed by the bare hex key.
					if len(name) < 2 || name[len(name)-2] != '.' {
						continue
					}
					name = name[:len(name)-2]
				}
				key, err := kadid.KeyFromHex(name)
				if err != nil {
					continue
				}
				info, err := f.Info()
				if err != nil {
					continue
				}
				kind := kadid.KindSpend
				if !poisoned {
					if data, ok, _ := readFile(filepath.Join(sub, f.Name())); ok {
						var env envelope
						if json.Unmarshal(data, &env) == nil {
							kind = kadid.RecordKind(env.Kind)
						}
					}
				}
				existing := s.index[key]
				existing.kind = kind
				existing.poisoned = existing.poisoned || poisoned
				existing.size += info.Size()
				s.index[key] = existing
				s.totalBytes += info.Size()
			}
		}
	}
	return nil
}

// Contains reports whether key is tracked by the store (valid or poisoned).
func (s *Store) Contains(key kadid.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok
}

// Keys returns every tracked key in unspecified order.
func (s *Store) Keys() []kadid.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]kadid.Key, 0, len(s.index))
	for k := range s.index {
		out = append(out, k)
	}
	return out
}

// Usage returns the store's current byte count and capacity, used by Node
// Logic's quote-cost function to price new writes against how full the
// store already is.
func (s *Store) Usage() (used, capacity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBytes, s.maxBytes
}

// AddressIndex returns a snapshot of key to record kind, used by the
// Replication Fetcher to diff against peers' replication lists.
func (s *Store) AddressIndex() map[kadid.Key]kadid.RecordKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[kadid.Key]kadid.RecordKind, len(s.index))
	for k, e := range s.index {
		if e.poisoned {
			continue
		}
		out[k] = e.kind
	}
	return out
}

// Get returns the record at key, ErrNotFound if absent, or a
// *DoubleSpendError if the key is poisoned.
func (s *Store) Get(key kadid.Key) (*Record, error) {
	s.mu.Lock()
	entry, ok := s.index[key]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	if entry.poisoned {
		a, b, err := s.readDoubleSpendPair(key)
		if err != nil {
			return nil, err
		}
		return nil, &DoubleSpendError{A: a, B: b}
	}
	env, ok, err := s.readEnvelope(recordPath(s.root, key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{
		Key:       key,
		Value:     env.Value,
		Publisher: env.Publisher,
		Expires:   env.Expires,
		Kind:      kadid.RecordKind(env.Kind),
	}, nil
}

func (s *Store) readEnvelope(path string) (*envelope, bool, error) {
	data, ok, err := readFile(path)
	if err != nil || !ok {
		return nil, ok, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warnf("recordstore: corrupt record at %s: %v", path, err)
		return nil, false, nil
	}
	return &env, true, nil
}

func (s *Store) readDoubleSpendPair(key kadid.Key) ([]byte, []byte, error) {
	env, ok, err := s.readEnvelope(doubleSpendPath(s.root, key) + ".a")
	if err != nil || !ok {
		return nil, nil, ErrNotFound
	}
	envB, ok, err := s.readEnvelope(doubleSpendPath(s.root, key) + ".b")
	if err != nil || !ok {
		return nil, nil, ErrNotFound
	}
	if a, err := DecodeSpendPayload(env.Value); err == nil {
		if b, err := DecodeSpendPayload(envB.Value); err == nil {
			return a.Content, b.Content, nil
		}
	}
	return env.Value, envB.Value, nil
}

// Put is the low-level write path: it enforces size and responsibility-radius
// policy, persists the envelope atomically, and evicts if the store is over
// capacity afterward. Type-specific validation belongs in ValidateAndStore.
func (s *Store) Put(rec *Record) (Outcome, error) {
	if len(rec.Value) > MaxPacketSize {
		return Invalid, ErrTooLarge
	}
	if s.InRange != nil && !s.InRange(rec.Key) {
		return Invalid, ErrOutOfRange
	}
	s.mu.Lock()
	full := s.overCapacityLocked()
	farther := s.fartherThanFarthestLocked(rec.Key)
	s.mu.Unlock()
	if full && farther {
		return Invalid, ErrOutOfRange
	}

	env := envelope{Value: rec.Value, Publisher: rec.Publisher, Expires: rec.Expires, Kind: uint8(rec.Kind)}
	data, err := json.Marshal(env)
	if err != nil {
		return Invalid, fmt.Errorf("recordstore: marshal envelope: %w", err)
	}
	path := recordPath(s.root, rec.Key)
	if err := atomicWrite(path, data); err != nil {
		return Invalid, err
	}

	s.mu.Lock()
	old, existed := s.index[rec.Key]
	s.index[rec.Key] = indexEntry{kind: rec.Kind, size: int64(len(data))}
	if existed {
		s.totalBytes += int64(len(data)) - old.size
	} else {
		s.totalBytes += int64(len(data))
	}
	s.mu.Unlock()

	s.hotlog.Debugw("put", "key", rec.Key.String(), "kind", rec.Kind.String(), "bytes", len(rec.Value))
	s.evict()
	return Stored, nil
}

func (s *Store) overCapacityLocked() bool {
	return len(s.index) >= s.maxRecords || s.totalBytes >= s.maxBytes
}

func (s *Store) fartherThanFarthestLocked(key kadid.Key) bool {
	var farthest kadid.Key
	found := false
	for k, e := range s.index {
		if e.poisoned {
			continue
		}
		if !found || kadid.Less(s.self, farthest, k) {
			farthest = k
			found = true
		}
	}
	if !found {
		return false
	}
	return kadid.Less(s.self, farthest, key)
}

// evict removes records farthest (XOR) from self until the store is back
// under both caps. Double-spend pairs are never evicted.
func (s *Store) evict() {
	for {
		s.mu.Lock()
		if !s.overCapacityLocked() {
			s.mu.Unlock()
			break
		}
		var farthest kadid.Key
		found := false
		for k, e := range s.index {
			if e.poisoned {
				continue
			}
			if !found || kadid.Less(s.self, farthest, k) {
				farthest = k
				found = true
			}
		}
		if !found {
			s.mu.Unlock()
			break
		}
		entry := s.index[farthest]
		delete(s.index, farthest)
		s.totalBytes -= entry.size
		s.mu.Unlock()

		if err := removeFile(recordPath(s.root, farthest)); err != nil {
			log.Warnf("recordstore: evict %s: %v", farthest, err)
		}
		s.hotlog.Debugw("evicted", "key", farthest.String())
	}
}

// ValidateAndStore is the only entry point Node Logic uses: it dispatches
// to type-specific validation (Chunk hash check, Register CRDT merge, Spend
// double-spend bookkeeping) before handing off to Put.
func (s *Store) ValidateAndStore(rec *Record) (ValidateResult, error) {
	s.validateMu.Lock()
	defer s.validateMu.Unlock()

	switch rec.Kind {
	case kadid.KindChunk:
		return s.validateAndStoreChunk(rec)
	case kadid.KindRegister:
		return s.validateAndStoreRegister(rec)
	case kadid.KindSpend:
		return s.validateAndStoreSpend(rec)
	default:
		return ValidateResult{Outcome: Invalid}, fmt.Errorf("recordstore: unknown record kind %d", rec.Kind)
	}
}

func (s *Store) validateAndStoreChunk(rec *Record) (ValidateResult, error) {
	if !validateChunk(rec.Key, rec.Value) {
		return ValidateResult{Outcome: Invalid}, nil
	}
	existing, err := s.Get(rec.Key)
	if err == nil && existing != nil {
		return ValidateResult{Outcome: Stored}, nil
	}
	if _, err := s.Put(rec); err != nil {
		return ValidateResult{Outcome: Invalid}, err
	}
	return ValidateResult{Outcome: Stored}, nil
}
