/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/rs/zerolog"
)

const DefaultRedisPrefix = "capesmash:"

// RedisStore keeps the snapshot under one key and mirrors every player's
// display score into a sorted set, so leaderboards can be read without
// decoding the snapshot.
type RedisStore struct {
	client *redis.Client
	prefix string
	log    zerolog.Logger
}

func OpenRedis(ctx context.Context, opts *redis.Options, prefix string,
	logger zerolog.Logger) (*RedisStore, error) {

	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(pingCtx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Debug().Str("addr", opts.Addr).Msg("connected to redis")
	return &RedisStore{client: client, prefix: prefix, log: logger}, nil
}

func (s *RedisStore) snapshotKey() string    { return s.prefix + "snapshot" }
func (s *RedisStore) leaderboardKey() string { return s.prefix + "leaderboard" }

func (s *RedisStore) Load(ctx context.Context) (*ranking.Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ranking.UnmarshalSnapshot(data)
}

// Save writes the snapshot and rebuilds the leaderboard atomically.
func (s *RedisStore) Save(ctx context.Context, snap *ranking.Snapshot) error {
	data, err := ranking.MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	members := make([]*redis.Z, 0, len(snap.Records))
	for _, rec := range snap.Records {
		members = append(members, &redis.Z{
			Score:  float64(rec.DisplayScore()),
			Member: strconv.Itoa(rec.ID),
		})
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.snapshotKey(), data, 0)
		pipe.Del(ctx, s.leaderboardKey())
		if len(members) > 0 {
			pipe.ZAdd(ctx, s.leaderboardKey(), members...)
		}
		return nil
	})
	return err
}

// TopScores returns up to n players by display score, highest first.
func (s *RedisStore) TopScores(ctx context.Context, n int) ([]ranking.ScoredPlayer, error) {
	if n <= 0 {
		return nil, nil
	}
	zs, err := s.client.ZRevRangeWithScores(ctx, s.leaderboardKey(), 0,
		int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]ranking.ScoredPlayer, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		id, err := strconv.Atoi(member)
		if err != nil {
			s.log.Warn().Str("member", member).Msg("ignoring malformed leaderboard member")
			continue
		}
		out = append(out, ranking.ScoredPlayer{ID: id, Score: z.Score})
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
