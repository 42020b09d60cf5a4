// internal/database/boltstore.go - BoltDB host repository
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	HostsBucket = []byte("hosts")
	MetaBucket  = []byte("meta")

	schemaVersionKey = []byte("schema_version")
)

const schemaVersion = "1"

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{HostsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		meta := tx.Bucket(MetaBucket)
		if meta.Get(schemaVersionKey) == nil {
			return meta.Put(schemaVersionKey, []byte(schemaVersion))
		}
		return nil
	})
}

func (s *BoltStore) ListHosts(ctx context.Context, filters HostFilters) ([]Host, error) {
	var hosts []Host

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)
		return b.ForEach(func(k, v []byte) error {
			var host Host
			if err := json.Unmarshal(v, &host); err != nil {
				return fmt.Errorf("failed to unmarshal host %s: %w", k, err)
			}
			if filters.Match(&host) {
				hosts = append(hosts, host)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortHosts(hosts)
	return hosts, nil
}

func (s *BoltStore) GetHost(ctx context.Context, id string) (*Host, error) {
	var host Host

	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(HostsBucket).Get([]byte(id))
		if v == nil {
			return ErrHostNotFound
		}
		return json.Unmarshal(v, &host)
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) AddHost(ctx context.Context, host *Host) error {
	if err := host.Validate(); err != nil {
		return err
	}
	host.Normalize()
	if host.ID == "" {
		host.ID = uuid.New().String()
	}
	now := time.Now()
	host.CreatedAt = now
	host.UpdatedAt = now

	return s.put(host)
}

func (s *BoltStore) UpdateHost(ctx context.Context, host *Host) error {
	if err := host.Validate(); err != nil {
		return err
	}
	host.Normalize()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(HostsBucket)
		existing := b.Get([]byte(host.ID))
		if existing == nil {
			return ErrHostNotFound
		}

		var prev Host
		if err := json.Unmarshal(existing, &prev); err == nil {
			host.CreatedAt = prev.CreatedAt
		}
		host.UpdatedAt = time.Now()

		data, err := json.Marshal(host)
		if err != nil {
			return fmt.Errorf("failed to marshal host: %w", err)
		}
		return b.Put([]byte(host.ID), data)
	})
}

func (s *BoltStore) DeleteHost(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(HostsBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) Stats(ctx context.Context) (*Stats, error) {
	hosts, err := s.ListHosts(ctx, HostFilters{})
	if err != nil {
		return nil, err
	}
	stats := statsFor(hosts)

	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

func (s *BoltStore) put(host *Host) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(host)
		if err != nil {
			return fmt.Errorf("failed to marshal host: %w", err)
		}
		return tx.Bucket(HostsBucket).Put([]byte(host.ID), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
