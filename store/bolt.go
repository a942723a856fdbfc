/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mbsmash/cape-smash/ranking"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	boltBucket  = []byte("capesmash")
	snapshotKey = []byte("snapshot")
)

// BoltStore keeps the snapshot in a single bbolt file. It is the default
// backend for the cli and the bot.
type BoltStore struct {
	db  *bolt.DB
	log zerolog.Logger
}

func OpenBolt(path string, logger zerolog.Logger) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening %v: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket in %v: %w", path, err)
	}

	logger.Debug().Str("path", path).Msg("bolt store opened")
	return &BoltStore{db: db, log: logger}, nil
}

func (s *BoltStore) Load(ctx context.Context) (*ranking.Snapshot, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(snapshotKey)
		if v != nil {
			// only valid for the life of the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	return ranking.UnmarshalSnapshot(data)
}

func (s *BoltStore) Save(ctx context.Context, snap *ranking.Snapshot) error {
	data, err := ranking.MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(snapshotKey, data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
