package models

import "time"

// CacheEntry stores a cached upstream response.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint" cbor:"fingerprint"`
	Response    Response  `json:"response" cbor:"response"`
	CreatedAt   time.Time `json:"created_at" cbor:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at" cbor:"last_used_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Capacity  int64 `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
