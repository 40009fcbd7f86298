package storage

import (
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// headerLen is the size of the expiry prefix stored before every value.
// badger keeps TTLs with one second resolution, PX needs milliseconds,
// so the exact deadline travels with the value and badger's own TTL is
// only used to reclaim the entry afterwards.
const headerLen = 8

// BadgerStorage keeps keys in an in-memory badger instance
type BadgerStorage struct {
	db *badger.DB
}

type badgerEntry struct {
	value   []byte
	expires int64 // unix nanoseconds, 0 means no TTL
}

func (e badgerEntry) expired(now int64) bool {
	return e.expires != 0 && now > e.expires
}

// NewBadgerStorage opens an in-memory badger database
func NewBadgerStorage() (*BadgerStorage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{db: db}, nil
}

func encodeEntry(value string, expires int64) []byte {
	buf := make([]byte, headerLen+len(value))
	binary.BigEndian.PutUint64(buf, uint64(expires))
	copy(buf[headerLen:], value)
	return buf
}

func newBadgerEntry(key []byte, value string, expires int64) *badger.Entry {
	e := badger.NewEntry(key, encodeEntry(value, expires))
	if expires != 0 {
		// round up so badger never drops the key before our deadline
		e.ExpiresAt = uint64(time.Unix(0, expires).Unix() + 1)
	}
	return e
}

// load reads the key inside txn. A missing key is reported as ok == false
func load(txn *badger.Txn, key []byte) (badgerEntry, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return badgerEntry{}, false, nil
	}
	if err != nil {
		return badgerEntry{}, false, err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return badgerEntry{}, false, err
	}
	if len(raw) < headerLen {
		return badgerEntry{}, false, errors.New("storage: corrupted badger entry")
	}

	return badgerEntry{
		value:   raw[headerLen:],
		expires: int64(binary.BigEndian.Uint64(raw)),
	}, true, nil
}

// update runs fn in a read-write transaction, retrying on conflicts with concurrent writers
func (b *BadgerStorage) update(fn func(txn *badger.Txn) error) error {
	for {
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
}

// Get returns the value and true if the key is found. Otherwise, "", false
func (b *BadgerStorage) Get(key string) (string, bool) {
	var (
		val   string
		found bool
	)

	err := b.db.View(func(txn *badger.Txn) error {
		e, ok, err := load(txn, []byte(key))
		if err != nil || !ok || e.expired(time.Now().UnixNano()) {
			return err
		}
		val, found = string(e.value), true
		return nil
	})
	if err != nil {
		return "", false
	}

	return val, found
}

func (b *BadgerStorage) Exists(key string) bool {
	_, ok := b.Get(key)
	return ok
}

// Set writes the value based on the options. Returns true if recording has been performed
func (b *BadgerStorage) Set(key, value string, options SetOptions) bool {
	written := false
	bkey := []byte(key)

	err := b.update(func(txn *badger.Txn) error {
		written = false
		now := time.Now().UnixNano()

		old, exists, err := load(txn, bkey)
		if err != nil {
			return err
		}
		if exists && old.expired(now) {
			exists = false
		}

		if options.NX && exists {
			return nil
		}
		if options.XX && !exists {
			return nil
		}

		var expires int64
		switch {
		case options.KeepTTL:
			if exists {
				expires = old.expires
			}
		case options.TTL != 0:
			expires = now + int64(options.TTL)
		}

		if err = txn.SetEntry(newBadgerEntry(bkey, value, expires)); err != nil {
			return err
		}
		written = true
		return nil
	})

	return err == nil && written
}

// Delete deletes the key. Returns true if the key existed and was deleted
func (b *BadgerStorage) Delete(key string) bool {
	deleted := false
	bkey := []byte(key)

	err := b.update(func(txn *badger.Txn) error {
		deleted = false
		e, ok, err := load(txn, bkey)
		if err != nil || !ok {
			return err
		}
		if err = txn.Delete(bkey); err != nil {
			return err
		}
		deleted = !e.expired(time.Now().UnixNano())
		return nil
	})

	return err == nil && deleted
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (b *BadgerStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	var (
		e  badgerEntry
		ok bool
	)

	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		e, ok, err = load(txn, []byte(key))
		return err
	})
	if err != nil || !ok {
		return 0, ExpNotFound
	}

	if e.expires == 0 {
		return 0, ExpNoTimeout
	}

	now := time.Now().UnixNano()
	if e.expired(now) {
		return 0, ExpNotFound
	}

	return time.Duration(e.expires - now), ExpActive
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (b *BadgerStorage) Persist(key string) int64 {
	var res int64
	bkey := []byte(key)

	err := b.update(func(txn *badger.Txn) error {
		res = 0
		e, ok, err := load(txn, bkey)
		if err != nil || !ok || e.expires == 0 || e.expired(time.Now().UnixNano()) {
			return err
		}
		if err = txn.SetEntry(newBadgerEntry(bkey, string(e.value), 0)); err != nil {
			return err
		}
		res = 1
		return nil
	})
	if err != nil {
		return 0
	}

	return res
}

// DeleteExpired samples up to limit keys with a TTL, starting from a random
// point of the keyspace, and deletes those whose deadline has passed
func (b *BadgerStorage) DeleteExpired(limit int) float64 {
	var stale [][]byte
	checked := 0

	seek := make([]byte, 1)
	seek[0] = byte(rand.IntN(256))

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now().UnixNano()
		visit := func() error {
			item := it.Item()
			if item.ExpiresAt() == 0 {
				return nil
			}
			checked++

			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(raw) >= headerLen && now > int64(binary.BigEndian.Uint64(raw)) {
				stale = append(stale, item.KeyCopy(nil))
			}
			return nil
		}

		// from the random point to the end, then wrap around to it
		for it.Seek(seek); it.Valid() && checked < limit; it.Next() {
			if err := visit(); err != nil {
				return err
			}
		}
		for it.Rewind(); it.Valid() && checked < limit; it.Next() {
			if string(it.Item().Key()) >= string(seek) {
				break
			}
			if err := visit(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || checked == 0 {
		return 0.0
	}

	expired := 0
	if len(stale) > 0 {
		// keys may have been rewritten since the scan, check again under the write transaction
		err = b.update(func(txn *badger.Txn) error {
			expired = 0
			now := time.Now().UnixNano()
			for _, key := range stale {
				e, ok, err := load(txn, key)
				if err != nil {
					return err
				}
				if !ok || !e.expired(now) {
					continue
				}
				if err = txn.Delete(key); err != nil {
					return err
				}
				expired++
			}
			return nil
		})
		if err != nil {
			return 0.0
		}
	}

	return float64(expired) / float64(checked)
}

// Len counts the keys badger still reports as live
func (b *BadgerStorage) Len() int {
	n := 0
	_ = b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

func (b *BadgerStorage) Close() error {
	return b.db.Close()
}
