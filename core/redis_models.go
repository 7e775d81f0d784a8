package core

// Redis has no tables or schema; its surface is key-oriented. These
// types carry the key browsing and editing results.

// KeyInfo is summary information about one Redis key.
type KeyInfo struct {
	Key     string `json:"key"`
	KeyType string `json:"key_type"`
	TTL     int64  `json:"ttl"`
	Size    *int64 `json:"size"`
}

// KeyDetails is the full detail view of one Redis key, including its
// decoded value.
type KeyDetails struct {
	Key      string  `json:"key"`
	KeyType  string  `json:"key_type"`
	TTL      int64   `json:"ttl"`
	Value    any     `json:"value"`
	Encoding *string `json:"encoding"`
	Size     *int64  `json:"size"`
	Length   *int64  `json:"length"`
}

// KeyListResponse is the result of one bounded key scan. The scan is
// resumable, not exhaustive: Cursor is the continuation token for the
// next call, and Complete reports whether the keyspace was fully
// enumerated. A non-zero Cursor with Complete=false means more keys
// may exist beyond what this call returned.
type KeyListResponse struct {
	Keys     []KeyInfo `json:"keys"`
	Total    int64     `json:"total"`
	Cursor   uint64    `json:"cursor"`
	Complete bool      `json:"complete"`
}

// ScanProgress reports incremental progress of a key scan so a
// consumer can stream partial results instead of waiting for the
// bounded scan to finish.
type ScanProgress struct {
	Iteration     int      `json:"iteration"`
	MaxIterations int      `json:"max_iterations"`
	KeysFound     int      `json:"keys_found"`
	Batch         []string `json:"keys"`
}

// ScanProgressFunc receives ScanProgress updates during a key search.
type ScanProgressFunc func(ScanProgress)
