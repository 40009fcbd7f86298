package storage

import (
	"fmt"
	"time"

	"github.com/kazandb/kazandb/internal/config"
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

type SetOptions struct {
	TTL     time.Duration // key lifetime
	KeepTTL bool          // if true, retain the existing TTL (ignore TTL field)
	NX      bool          // only set if the key does not exist
	XX      bool          // only set if the key already exists
}

// Storage is a common interface for working with key-value storages
type Storage interface {
	// Get returns the value and true if the key is found. Otherwise, "", false
	Get(key string) (string, bool)

	// Set writes the value based on the options. Returns true if recording has been performed
	Set(key, value string, options SetOptions) bool

	// Delete deletes the key. Returns true if the key existed and was deleted
	Delete(key string) bool

	// Exists reports whether the key is present and not expired
	Exists(key string) bool

	// Expiry returns the remaining lifetime and status as ExpiryStatus
	Expiry(key string) (time.Duration, ExpiryStatus)

	// Persist removes the expiration date of the key, making it eternal.
	// Returns 1 if successful, 0 if the key was not found or had no TTL
	Persist(key string) int64

	// DeleteExpired randomly selects a limit of keys from each shard and delete if his TTL has expired
	DeleteExpired(limit int) float64

	// Len returns the number of stored keys, expired keys not yet collected included
	Len() int

	// Close releases the resources held by the storage
	Close() error
}

// New builds the storage engine selected in the configuration
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Engine {
	case "", "sharded":
		s, err := NewShardedMapStorage(cfg.Shards)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "badger":
		s, err := NewBadgerStorage()
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
}
