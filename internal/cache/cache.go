// Package cache stores completed pipeline results in badger, keyed by the
// content hash of the input and the pipeline configuration fingerprint.
// Records are idempotent for identical input and config, so a hit can stand
// in for a full pipeline run.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/MeKo-Tech/medinvoice/internal/model"
	"github.com/MeKo-Tech/medinvoice/internal/pipeline"
)

const keyPrefix = "result:"

// Options configure the cache.
type Options struct {
	Dir      string
	InMemory bool
	TTL      time.Duration
}

// Entry is the cached content of a completed result.
type Entry struct {
	Pages  int                  `json:"pages"`
	Record *model.InvoiceRecord `json:"record"`
}

// Stats are hit and miss counters since Open.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
}

// Cache is a badger backed result cache. It is safe for concurrent use.
type Cache struct {
	db     *badger.DB
	ttl    time.Duration
	hits   atomic.Uint64
	misses atomic.Uint64
}

// Open opens or creates the cache.
func Open(opts Options) (*Cache, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cache dir is required")
	}
	dir := opts.Dir
	if opts.InMemory {
		dir = ""
	}
	bopts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithLogger(nil).
		WithNumVersionsToKeep(1).
		WithCompactL0OnClose(true).
		WithValueLogFileSize(16 << 20).
		WithMemTableSize(16 << 20)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Cache{db: db, ttl: opts.TTL}, nil
}

// Close closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives the cache key of a document under a config fingerprint.
// Declared page spans are part of the key.
func Key(doc *model.Document, fingerprint string) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	var buf [8]byte
	for _, p := range doc.Pages {
		binary.BigEndian.PutUint64(buf[:], uint64(p.Offset))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(p.Length))
		h.Write(buf[:])
	}
	h.Write([]byte{0})
	h.Write(doc.Data)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry stored under key.
func (c *Cache) Get(key string) (*Entry, bool, error) {
	var entry Entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	c.hits.Add(1)
	return &entry, true, nil
}

// Put stores entry under key with the configured TTL.
func (c *Cache) Put(key string, entry Entry) error {
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Processor runs documents through the pipeline.
type Processor interface {
	Process(ctx context.Context, doc *model.Document) *pipeline.Result
	Config() pipeline.Config
}

// BatchProcessor runs many documents through the pipeline.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, docs []*model.Document) []*pipeline.Result
	Config() pipeline.Config
}

// Process answers doc from the cache when possible and runs p otherwise.
// Only completed results are stored. Cache errors are logged and fall back
// to a pipeline run.
func (c *Cache) Process(ctx context.Context, p Processor, doc *model.Document) *pipeline.Result {
	key := Key(doc, p.Config().Fingerprint())
	if res, ok := c.lookup(doc, key); ok {
		return res
	}
	res := p.Process(ctx, doc)
	c.store(key, res)
	return res
}

// ProcessBatch answers what it can from the cache and sends the remaining
// documents to p as one batch. Results keep the order of docs.
func (c *Cache) ProcessBatch(ctx context.Context, p BatchProcessor, docs []*model.Document) []*pipeline.Result {
	if len(docs) == 0 {
		return nil
	}
	fp := p.Config().Fingerprint()
	results := make([]*pipeline.Result, len(docs))
	keys := make([]string, len(docs))
	var (
		missDocs []*model.Document
		missIdx  []int
	)
	for i, doc := range docs {
		keys[i] = Key(doc, fp)
		if res, ok := c.lookup(doc, keys[i]); ok {
			results[i] = res
			continue
		}
		missDocs = append(missDocs, doc)
		missIdx = append(missIdx, i)
	}
	if len(missDocs) == 0 {
		return results
	}

	for j, res := range p.ProcessBatch(ctx, missDocs) {
		i := missIdx[j]
		results[i] = res
		c.store(keys[i], res)
	}
	return results
}

// lookup returns a completed result for doc when key is cached.
func (c *Cache) lookup(doc *model.Document, key string) (*pipeline.Result, bool) {
	entry, ok, err := c.Get(key)
	if err != nil {
		slog.Warn("cache lookup failed", "document", doc.ID, "error", err)
	}
	if !ok || entry.Record == nil || doc.Advance(model.StatusComplete) != nil {
		return nil, false
	}
	slog.Debug("cache hit", "document", doc.ID, "key", key)
	return &pipeline.Result{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Status:     doc.Status(),
		Pages:      entry.Pages,
		Record:     entry.Record,
		History:    doc.History(),
	}, true
}

func (c *Cache) store(key string, res *pipeline.Result) {
	if res == nil || res.Status != model.StatusComplete || res.Record == nil {
		return
	}
	if err := c.Put(key, Entry{Pages: res.Pages, Record: res.Record}); err != nil {
		slog.Warn("cache store failed", "document", res.DocumentID, "error", err)
	}
}
