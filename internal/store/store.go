// Package store persists workflow DEFINITIONS, the declarative catalog an
// engine's Load populates, across process restarts using an embedded
// BoltDB file. Run-time execution state is intentionally not part of this
// package: a crash mid-run still loses all in-flight progress, only the
// catalog of known workflows survives.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/swarmguard/flowengine/workflow"
)

var (
	bucketWorkflows = []byte("workflows")
	bucketVersions  = []byte("versions")
)

// Store is a BoltDB-backed catalog of workflow.Description values, keyed by
// name, with a read-through memory cache and append-only version history.
type Store struct {
	db       *bbolt.DB
	mu       sync.RWMutex
	memCache map[string]workflow.Description

	readLatency  metric.Float64Histogram
	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

// Open creates (or reopens) a BoltDB-backed store at dbPath.
func Open(dbPath string, meter metric.Meter) (*Store, error) {
	opts := &bbolt.Options{
		Timeout:      1 * time.Second,
		FreelistType: bbolt.FreelistArrayType,
	}
	db, err := bbolt.Open(dbPath, 0o600, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open boltdb: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkflows, bucketVersions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create buckets: %w", err)
	}

	readLatency, _ := meter.Float64Histogram("flowengine_store_read_ms")
	writeLatency, _ := meter.Float64Histogram("flowengine_store_write_ms")
	cacheHits, _ := meter.Int64Counter("flowengine_store_cache_hits_total")
	cacheMisses, _ := meter.Int64Counter("flowengine_store_cache_misses_total")

	s := &Store{
		db:           db,
		memCache:     make(map[string]workflow.Description),
		readLatency:  readLatency,
		writeLatency: writeLatency,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
	}

	if err := s.warmCache(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: warm cache: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// PutWorkflow persists desc under name, archiving any prior definition
// under that name into the version history.
func (s *Store) PutWorkflow(ctx context.Context, name string, desc workflow.Description) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "put_workflow")))
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("store: marshal workflow: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		if existing := bucket.Get([]byte(name)); existing != nil {
			versions := tx.Bucket(bucketVersions)
			key := fmt.Sprintf("%s:%d", name, time.Now().UnixNano())
			if err := versions.Put([]byte(key), existing); err != nil {
				return fmt.Errorf("store version: %w", err)
			}
		}
		return bucket.Put([]byte(name), data)
	})
	if err != nil {
		return fmt.Errorf("store: write workflow: %w", err)
	}

	s.memCache[name] = desc
	return nil
}

// GetWorkflow returns the definition stored under name, if any.
func (s *Store) GetWorkflow(ctx context.Context, name string) (workflow.Description, bool, error) {
	start := time.Now()
	defer func() {
		s.readLatency.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("operation", "get_workflow")))
	}()

	s.mu.RLock()
	if desc, ok := s.memCache[name]; ok {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1)
		return desc, true, nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1)

	var desc workflow.Description
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketWorkflows).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &desc)
	})
	if err != nil {
		return workflow.Description{}, false, fmt.Errorf("store: read workflow: %w", err)
	}
	if !found {
		return workflow.Description{}, false, nil
	}

	s.mu.Lock()
	s.memCache[name] = desc
	s.mu.Unlock()

	return desc, true, nil
}

// ListWorkflows returns every stored workflow name in whatever order Go map
// iteration happens to give; callers that need stable order should sort the
// result themselves.
func (s *Store) ListWorkflows(ctx context.Context) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.memCache))
	for name := range s.memCache {
		names = append(names, name)
	}
	return names
}

// DeleteWorkflow removes name from the live catalog, archiving its last
// definition into the version history first.
func (s *Store) DeleteWorkflow(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		if data := bucket.Get([]byte(name)); data != nil {
			versions := tx.Bucket(bucketVersions)
			key := fmt.Sprintf("archive:%s:%d", name, time.Now().UnixNano())
			if err := versions.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return bucket.Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("store: delete workflow: %w", err)
	}

	delete(s.memCache, name)
	return nil
}

// GetWorkflowVersions returns up to limit archived definitions for name,
// oldest-key-order first.
func (s *Store) GetWorkflowVersions(ctx context.Context, name string, limit int) ([]workflow.Description, error) {
	versions := make([]workflow.Description, 0, limit)
	prefix := []byte(name + ":")

	err := s.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket(bucketVersions).Cursor()
		count := 0
		for k, v := cursor.Seek(prefix); k != nil && count < limit; k, v = cursor.Next() {
			if !hasPrefix(k, prefix) {
				break
			}
			var desc workflow.Description
			if err := json.Unmarshal(v, &desc); err != nil {
				continue
			}
			versions = append(versions, desc)
			count++
		}
		return nil
	})
	return versions, err
}

// Stats reports basic store sizing for a status endpoint.
func (s *Store) Stats() map[string]any {
	stats := make(map[string]any)
	s.db.View(func(tx *bbolt.Tx) error {
		stats["db_size_bytes"] = tx.Size()
		if bucket := tx.Bucket(bucketWorkflows); bucket != nil {
			stats["workflows_count"] = bucket.Stats().KeyN
		}
		if bucket := tx.Bucket(bucketVersions); bucket != nil {
			stats["versions_count"] = bucket.Stats().KeyN
		}
		return nil
	})
	s.mu.RLock()
	stats["cache_workflows"] = len(s.memCache)
	s.mu.RUnlock()
	return stats
}

func (s *Store) warmCache() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkflows)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var desc workflow.Description
			if err := json.Unmarshal(v, &desc); err != nil {
				return nil
			}
			s.memCache[string(k)] = desc
			return nil
		})
	})
}

func hasPrefix(data, prefix []byte) bool {
	if len(data) < len(prefix) {
		return false
	}
	for i := range prefix {
		if data[i] != prefix[i] {
			return false
		}
	}
	return true
}
