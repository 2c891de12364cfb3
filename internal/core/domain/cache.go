package domain

import "time"

// CacheEntry is one resident value of the result cache.
type CacheEntry struct {
	Hash       ContentHash
	Data       []byte
	Size       int64
	LastAccess time.Time
}

// StoreUsage describes the contents of a persistent result store.
type StoreUsage struct {
	Backend StoreBackend
	Entries int64
	Bytes   int64
}
