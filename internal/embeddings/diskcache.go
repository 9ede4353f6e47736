package embeddings

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"
)

// DiskCache persists computed embeddings across runs in a SQLite database,
// keyed by content hash. It is a best-effort tier: every failure degrades
// silently to a cache miss, never to a surfaced error.
type DiskCache struct {
	db *sql.DB
}

// NewDiskCache opens (or creates) the cache database at path.
func NewDiskCache(path string) (*DiskCache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache table: %w", err)
	}

	return &DiskCache{db: db}, nil
}

// Get returns the cached vector for hash, or false on miss or any error.
func (c *DiskCache) Get(hash string) ([]float32, bool) {
	var blob []byte
	err := c.db.QueryRow("SELECT embedding FROM embedding_cache WHERE content_hash = ?", hash).Scan(&blob)
	if err != nil {
		return nil, false
	}
	return decodeVector(blob), true
}

// Put stores vec under hash. Best effort.
func (c *DiskCache) Put(hash string, vec []float32) {
	blob := encodeVector(vec)
	c.db.Exec("INSERT OR REPLACE INTO embedding_cache (content_hash, embedding) VALUES (?, ?)", hash, blob)
}

// Close closes the cache database.
func (c *DiskCache) Close() error {
	return c.db.Close()
}

// encodeVector converts a float32 slice to a compact binary representation.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector converts the binary representation back to a float32 slice.
func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
