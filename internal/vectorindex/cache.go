package vectorindex

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	cacheDefaultTTL = 7 * 24 * time.Hour
	cacheKeyPrefix  = "lancet/emb/v1/"
)

// EmbeddingCache persists entry vectors between process starts. Load
// returns (nil, nil) on a miss.
type EmbeddingCache interface {
	Load(ctx context.Context, corpusHash string) (map[string][]float32, error)
	Save(ctx context.Context, corpusHash string, vectors map[string][]float32) error
	Close() error
}

// BadgerCache stores gob-encoded vector maps in BadgerDB under a TTL.
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *zap.Logger
	owned  bool
}

// OpenBadgerCache opens (or creates) a cache directory.
func OpenBadgerCache(dir string, ttl time.Duration, logger *zap.Logger) (*BadgerCache, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open embedding cache at %s: %w", dir, err)
	}
	c := NewBadgerCache(db, ttl, logger)
	c.owned = true
	return c, nil
}

// NewBadgerCache wraps an open database. The caller keeps ownership of db.
func NewBadgerCache(db *badger.DB, ttl time.Duration, logger *zap.Logger) *BadgerCache {
	if ttl <= 0 {
		ttl = cacheDefaultTTL
	}
	return &BadgerCache{db: db, ttl: ttl, logger: logger.Named("embedding_cache")}
}

func (c *BadgerCache) Load(ctx context.Context, corpusHash string) (map[string][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(corpusHash))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.logger.Debug("Cache miss", zap.String("hash", shortHash(corpusHash)))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embedding cache load: %w", err)
	}

	var vectors map[string][]float32
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("embedding cache decode: %w", err)
	}
	c.logger.Debug("Cache hit", zap.String("hash", shortHash(corpusHash)), zap.Int("entries", len(vectors)))
	return vectors, nil
}

func (c *BadgerCache) Save(ctx context.Context, corpusHash string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vectors); err != nil {
		return fmt.Errorf("embedding cache encode: %w", err)
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(cacheKey(corpusHash), buf.Bytes()).WithTTL(c.ttl))
	})
	if err != nil {
		return fmt.Errorf("embedding cache save: %w", err)
	}
	c.logger.Debug("Cache saved", zap.String("hash", shortHash(corpusHash)), zap.Int("entries", len(vectors)), zap.Duration("ttl", c.ttl))
	return nil
}

// Close closes the database if this cache opened it.
func (c *BadgerCache) Close() error {
	if c.owned {
		return c.db.Close()
	}
	return nil
}

// CorpusHash identifies a corpus and embedding model. Text order does not
// matter.
func CorpusHash(texts []string, model string) string {
	sorted := append([]string(nil), texts...)
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(model))
	for _, t := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(t))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func cacheKey(corpusHash string) []byte {
	return []byte(cacheKeyPrefix + corpusHash)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
