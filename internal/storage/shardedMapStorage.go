package storage

import (
	"errors"
	"hash/fnv"
	"math/bits"
	"sync"
	"time"
)

// ShardedMapStorage is a thread-safe key-value storage,
// divided into segments (shards) to reduce contention for locking
type ShardedMapStorage struct {
	shards    []*MapStorage
	shardMask uint32
}

// NewShardedMapStorage creates a new instance of ShardedMapStorage.
// The requestedShards parameter must be a power of two for efficient allocation.
// The maximum allowed number of shards is 64.
func NewShardedMapStorage(requestedShards uint) (*ShardedMapStorage, error) {
	if bits.OnesCount(requestedShards) != 1 {
		return nil, errors.New("requested shards must be a power of 2")
	}

	if requestedShards > 64 {
		return nil, errors.New("requested shards must be less or equal than 64")
	}

	s := &ShardedMapStorage{
		shards:    make([]*MapStorage, requestedShards),
		shardMask: uint32(requestedShards - 1),
	}

	for i := range s.shards {
		s.shards[i] = NewMapStorage()
	}

	return s, nil
}

func (s *ShardedMapStorage) shard(key string) *MapStorage {
	hash := fnv.New32a()
	hash.Write([]byte(key)) //nolint:errcheck

	return s.shards[hash.Sum32()&s.shardMask]
}

// Get returns the value and true if the key is found. Otherwise, "", false.
func (s *ShardedMapStorage) Get(key string) (string, bool) {
	return s.shard(key).Get(key)
}

// Set writes the value based on the options. Returns true if recording has been performed.
func (s *ShardedMapStorage) Set(key, value string, options SetOptions) bool {
	return s.shard(key).Set(key, value, options)
}

// Delete deletes the key. Returns true if the key existed and was deleted.
func (s *ShardedMapStorage) Delete(key string) bool {
	return s.shard(key).Delete(key)
}

func (s *ShardedMapStorage) Exists(key string) bool {
	return s.shard(key).Exists(key)
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (s *ShardedMapStorage) Expiry(key string) (time.Duration, ExpiryStatus) {
	return s.shard(key).Expiry(key)
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (s *ShardedMapStorage) Persist(key string) int64 {
	return s.shard(key).Persist(key)
}

// DeleteExpired randomly selects a limit of keys from each shard and delete if his TTL has expired
func (s *ShardedMapStorage) DeleteExpired(limit int) float64 {
	var wg sync.WaitGroup
	var totalRatio float64
	var mu sync.Mutex // protects totalRatio

	for _, shard := range s.shards {
		wg.Go(func() {
			ratio := shard.DeleteExpired(limit)

			mu.Lock()
			totalRatio += ratio
			mu.Unlock()
		})
	}

	wg.Wait()

	return totalRatio / float64(len(s.shards))
}

// Len sums the key count of every shard
func (s *ShardedMapStorage) Len() int {
	n := 0
	for _, shard := range s.shards {
		n += shard.Len()
	}
	return n
}

func (s *ShardedMapStorage) Close() error {
	return nil
}
