// Package localstore is the device's durable key-value store.
//
// Everything lives in one BadgerDB under region prefixes ("manifest/",
// "syncQueue/", ...). Blobs are split into chunks and only become visible once
// their metadata record is written, so a half-written download is never read.
package localstore

import (
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/mupa-desenvolvimento/audient-insight-display-sub000/internal/metrics"
)

type Region string

const (
	RegionManifest  Region = "manifest"
	RegionBlobs     Region = "blobs"
	RegionSyncQueue Region = "syncQueue"
	RegionCache     Region = "cache"
	RegionState     Region = "state"

	regionBlobMeta Region = "blobmeta"
)

var (
	ErrNotFound      = errors.New("localstore: not found")
	ErrQuotaExceeded = errors.New("localstore: storage quota exceeded")
	ErrClosed        = errors.New("localstore: closed")
)

// ResetError reports a failed full wipe. Callers use it to send the device back to setup.
type ResetError struct {
	Err error
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("localstore: reset failed: %v", e.Err)
}

func (e *ResetError) Unwrap() error { return e.Err }

type Options struct {
	Dir string
	// InMemory keeps everything in RAM; used by tests.
	InMemory       bool
	SyncWrites     bool
	BlobQuotaBytes int64
	// TTLs gives regions whose entries expire. Put on such a region applies the TTL.
	TTLs map[Region]time.Duration
}

type Store struct {
	db       *badger.DB
	quota    int64
	ttls     map[Region]time.Duration
	closed   atomic.Bool
	blobUsed atomic.Int64
	inflight atomic.Int64
	genSeq   atomic.Uint64
	now      func() time.Time
}

// Open opens (or creates) the store.
func Open(opts Options) (*Store, error) {
	bopts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts.SyncWrites = opts.SyncWrites
	bopts.ValueLogFileSize = 256 << 20
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	s := &Store{
		db:    db,
		quota: opts.BlobQuotaBytes,
		ttls:  opts.TTLs,
		now:   time.Now,
	}
	if s.ttls == nil {
		s.ttls = map[Region]time.Duration{}
	}

	metas, err := s.ListBlobMeta()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("scan blob metadata: %w", err)
	}
	var used int64
	for _, m := range metas {
		used += m.Size
	}
	s.blobUsed.Store(used)
	metrics.BlobCacheBytes.Set(float64(used))

	log.Info().
		Str("dir", opts.Dir).
		Bool("in_memory", opts.InMemory).
		Int("blobs", len(metas)).
		Int64("blob_bytes", used).
		Msg("local store opened")
	return s, nil
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// RunGC reclaims value log space. Safe to call periodically.
func (s *Store) RunGC() {
	if s.closed.Load() {
		return
	}
	for {
		if err := s.db.RunValueLogGC(0.5); err != nil {
			return
		}
	}
}

func key(region Region, k string) []byte {
	return []byte(string(region) + "/" + k)
}

func prefix(region Region) []byte {
	return []byte(string(region) + "/")
}

// ttl envelope for expiring regions
type entry struct {
	Value     []byte    `json:"v"`
	ExpiresAt time.Time `json:"exp"`
}

func (s *Store) wrap(region Region, value []byte, ttl time.Duration) ([]byte, error) {
	if ttl <= 0 {
		ttl = s.ttls[region]
	}
	if _, expiring := s.ttls[region]; !expiring && ttl <= 0 {
		return value, nil
	}
	e := entry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = s.now().Add(ttl)
	}
	return json.Marshal(e)
}

func (s *Store) unwrap(region Region, raw []byte) ([]byte, bool, error) {
	if _, expiring := s.ttls[region]; !expiring {
		return raw, true, nil
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, err
	}
	if !e.ExpiresAt.IsZero() && !s.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Put upserts a value. Overwriting an existing key is not an error.
func (s *Store) Put(region Region, k string, value []byte) error {
	return s.PutWithTTL(region, k, value, 0)
}

// PutWithTTL stores a value that ClearExpired removes after ttl.
// A zero ttl uses the region default.
func (s *Store) PutWithTTL(region Region, k string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if ttl > 0 {
		if _, ok := s.ttls[region]; !ok {
			return fmt.Errorf("region %s does not expire entries", region)
		}
	}
	data, err := s.wrap(region, value, ttl)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", region, k, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(region, k), data)
	})
	if err != nil {
		metrics.LocalStoreErrors.WithLabelValues(string(region), "put").Inc()
		return fmt.Errorf("put %s/%s: %w", region, k, storageErr(err))
	}
	return nil
}

// Get returns ErrNotFound for missing or expired keys.
func (s *Store) Get(region Region, k string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(region, k))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		metrics.LocalStoreErrors.WithLabelValues(string(region), "get").Inc()
		return nil, fmt.Errorf("get %s/%s: %w", region, k, err)
	}
	value, live, err := s.unwrap(region, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", region, k, err)
	}
	if !live {
		return nil, ErrNotFound
	}
	return value, nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(region Region, k string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(region, k))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		metrics.LocalStoreErrors.WithLabelValues(string(region), "delete").Inc()
		return fmt.Errorf("delete %s/%s: %w", region, k, err)
	}
	return nil
}

type Record struct {
	Key   string
	Value []byte
}

// ListPending returns every live entry of a region in key order.
// Each call is a fresh scan.
func (s *Store) ListPending(region Region) ([]Record, error) {
	return s.scan(region, "")
}

// scan lists live entries of region whose key starts with sub.
func (s *Store) scan(region Region, sub string) ([]Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var out []Record
	rp := prefix(region)
	p := append(append([]byte(nil), rp...), sub...)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			k := string(item.Key()[len(rp):])
			value, live, err := s.unwrap(region, raw)
			if err != nil {
				log.Warn().Err(err).Str("region", string(region)).Str("key", k).Msg("skipping malformed entry")
				continue
			}
			if !live {
				continue
			}
			out = append(out, Record{Key: k, Value: value})
		}
		return nil
	})
	if err != nil {
		metrics.LocalStoreErrors.WithLabelValues(string(region), "list").Inc()
		return nil, fmt.Errorf("list %s: %w", region, err)
	}
	return out, nil
}

// ClearExpired deletes entries whose TTL has passed and returns how many were removed.
// Malformed entries are logged and left alone.
func (s *Store) ClearExpired(region Region) (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if _, ok := s.ttls[region]; !ok {
		return 0, nil
	}

	var expired [][]byte
	p := prefix(region)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				_, live, err := s.unwrap(region, val)
				if err != nil {
					log.Warn().Err(err).Str("region", string(region)).
						Str("key", string(item.Key())).Msg("malformed cache entry")
					return nil
				}
				if !live {
					expired = append(expired, item.KeyCopy(nil))
				}
				return nil
			})
			if err != nil {
				log.Warn().Err(err).Str("key", string(item.Key())).Msg("unreadable cache entry")
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", region, err)
	}

	removed := 0
	for _, k := range expired {
		err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) })
		if err != nil {
			metrics.LocalStoreErrors.WithLabelValues(string(region), "expire").Inc()
			log.Warn().Err(err).Str("key", string(k)).Msg("failed to delete expired entry")
			continue
		}
		removed++
	}
	return removed, nil
}

// ClearAll wipes the whole store. Failures come back as *ResetError.
func (s *Store) ClearAll() error {
	if s.closed.Load() {
		return &ResetError{Err: ErrClosed}
	}
	if err := s.db.DropAll(); err != nil {
		metrics.LocalStoreErrors.WithLabelValues("*", "clear").Inc()
		return &ResetError{Err: err}
	}
	s.blobUsed.Store(0)
	metrics.BlobCacheBytes.Set(0)
	log.Warn().Msg("local store wiped")
	return nil
}

// Write is one element of an atomic Batch.
type Write struct {
	Region Region
	Key    string
	Value  []byte
	Delete bool
}

// Batch applies every write in a single transaction.
func (s *Store) Batch(writes ...Write) error {
	if s.closed.Load() {
		return ErrClosed
	}
	encoded := make([][]byte, len(writes))
	for i, w := range writes {
		if w.Delete {
			continue
		}
		data, err := s.wrap(w.Region, w.Value, 0)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", w.Region, w.Key, err)
		}
		encoded[i] = data
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for i, w := range writes {
			var err error
			if w.Delete {
				err = txn.Delete(key(w.Region, w.Key))
			} else {
				err = txn.Set(key(w.Region, w.Key), encoded[i])
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.LocalStoreErrors.WithLabelValues("*", "batch").Inc()
		return fmt.Errorf("batch write: %w", storageErr(err))
	}
	return nil
}

// PutJSON encodes v and stores it.
func (s *Store) PutJSON(region Region, k string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", region, k, err)
	}
	return s.Put(region, k, data)
}

// GetJSON decodes the stored value into v.
func (s *Store) GetJSON(region Region, k string, v any) error {
	data, err := s.Get(region, k)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", region, k, err)
	}
	return nil
}

func storageErr(err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) || errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}
	return err
}
