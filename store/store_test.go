/* Copyright © 2025 Mike Brown. All Rights Reserved.
 *
 * See LICENSE file at the root of this repository for license terms
 */
package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/mbsmash/cape-smash/ranking"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Blaze predates ratings and has none stored.
const sampleSnapshot = `{"version":1,"nextId":3,"records":[
	{"id":1,"tag":"Ace","externalUserId":"5","wins":1,"losses":0,"appearances":1,
	 "headToHead":{"2":{"wins":1,"losses":0}},"rating":{"mu":29.205,"sigma":7.194}},
	{"id":2,"tag":"Blaze","wins":0,"losses":1,"appearances":1,
	 "headToHead":{"1":{"wins":0,"losses":1}}}],
	"ledger":[{"label":"cape-weekly-1","name":"Cape Weekly #1","timestamp":"2024-01-06T00:00:00Z",
	 "matches":[{"id":"1000","entrantIds":["10/100","10/101"],"winnerId":"10/100","round":"Winners Final"}],
	 "localToStableIdMap":{"10/100":1,"10/101":2}},
	 {"label":"cape-weekly-2","timestamp":"2024-02-03T00:00:00Z",
	 "matches":[{"id":"2000","entrantIds":["20/1","20/2"],"winnerId":"20/2"}],
	 "localToStableIdMap":{"20/1":1,"20/2":2}}],
	"archivedLabels":["cape-weekly-0"]}`

func sample(t *testing.T) *ranking.Snapshot {
	t.Helper()
	snap, err := ranking.UnmarshalSnapshot([]byte(sampleSnapshot))
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	return snap
}

func encode(t *testing.T, snap *ranking.Snapshot) []byte {
	t.Helper()
	data, err := ranking.MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// exercise runs the behavior every backend must share.
func exercise(t *testing.T, st ranking.Store) {
	ctx := context.Background()

	snap, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot from empty store")
	}

	want := sample(t)
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(encode(t, got), encode(t, want)) {
		t.Fatalf("round trip mismatch:\n%s\n%s", encode(t, got), encode(t, want))
	}
	// the prior was written out, so the record is no longer legacy
	if got.NeedsMigration() {
		t.Errorf("saved snapshot still needs migration")
	}

	// a later save replaces everything
	want.Records = want.Records[:1]
	want.Ledger = want.Ledger[1:]
	if err := st.Save(ctx, want); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = st.Load(ctx)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(got.Records) != 1 || len(got.Ledger) != 1 ||
		got.Ledger[0].Label != "cape-weekly-2" || len(got.ArchivedLabels) != 1 {
		t.Fatalf("stale rows survived: %s", encode(t, got))
	}
}

// migrate checks that an engine writes a legacy snapshot back on open.
// seed must leave the raw legacy document in st.
func migrate(t *testing.T, st ranking.Store, seed func(raw []byte)) {
	ctx := context.Background()
	seed([]byte(sampleSnapshot))

	loaded, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load seeded: %v", err)
	}
	if !loaded.NeedsMigration() {
		t.Fatalf("seeded snapshot should need migration")
	}

	eng := ranking.NewEngine(nil, st, zerolog.Nop())
	if err := eng.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	snap, err := st.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !snap.RatingsMigrated || snap.NeedsMigration() {
		t.Errorf("migration not written back")
	}
	blaze, err := eng.FindPlayer("blaze")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if blaze.DisplayScore() != 1000 {
		t.Errorf("migrated record should hold the prior, got %v", blaze.DisplayScore())
	}
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())

	st := NewMemoryStore()
	migrate(t, st, func(raw []byte) { st.data = raw })
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capesmash.db")
	st, err := OpenBolt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exercise(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// data survives a reopen
	st, err = OpenBolt(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	snap, err := st.Load(context.Background())
	if err != nil || snap == nil || len(snap.Records) != 1 {
		t.Fatalf("reopened store: %v %v", snap, err)
	}

	migrate(t, st, func(raw []byte) {
		err := st.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(boltBucket).Put(snapshotKey, raw)
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	})
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "capesmash.sqlite")

	st, err := OpenSQL(ctx, DriverSQLite, dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exercise(t, st)
	st.Close()

	// migrations are idempotent across reopen
	st, err = OpenSQL(ctx, DriverSQLite, dsn, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	migrate(t, st, func(raw []byte) {
		if err := st.Save(ctx, sample(t)); err != nil {
			t.Fatalf("seed: %v", err)
		}
		// strip the rating the save wrote for Blaze
		legacy := `{"id":2,"tag":"Blaze","wins":0,"losses":1,"appearances":1}`
		st.db.MustExec(st.db.Rebind("UPDATE players SET record = ? WHERE id = ?"),
			legacy, 2)
	})
}

func TestSQLStoreRejectsDriver(t *testing.T) {
	if _, err := OpenSQL(context.Background(), "mysql", "x", zerolog.Nop()); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CAPESMASH_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("Skipping test because CAPESMASH_TEST_POSTGRES is unset")
	}
	st, err := OpenSQL(context.Background(), DriverPostgres, dsn, zerolog.Nop())
	if err != nil {
		t.Skipf("Skipping test due to lack of access to postgres: %v", err)
	}
	defer st.Close()
	// clean slate for the empty load check
	for _, table := range []string{"snapshot_meta", "players", "ledger_entries"} {
		st.db.MustExec("DELETE FROM " + table)
	}
	exercise(t, st)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("CAPESMASH_TEST_REDIS")
	if addr == "" {
		t.Skip("Skipping test because CAPESMASH_TEST_REDIS is unset")
	}
	ctx := context.Background()
	st, err := OpenRedis(ctx, &redis.Options{Addr: addr}, "capesmash-test:",
		zerolog.Nop())
	if err != nil {
		t.Skipf("Skipping test due to lack of access to redis: %v", err)
	}
	defer st.Close()
	st.client.Del(ctx, st.snapshotKey(), st.leaderboardKey())

	exercise(t, st)

	if err := st.Save(ctx, sample(t)); err != nil {
		t.Fatalf("save: %v", err)
	}
	top, err := st.TopScores(ctx, 5)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].ID != 1 || top[0].Score <= top[1].Score {
		t.Fatalf("unexpected leaderboard %+v", top)
	}

	eng := ranking.NewEngine(nil, st, zerolog.Nop())
	if err := eng.Open(ctx); err != nil {
		t.Fatalf("open: %v", err)
	}
	leaders, err := eng.TopPlayers(ctx, 1)
	if err != nil || len(leaders) != 1 || leaders[0].Tag != "Ace" {
		t.Fatalf("engine leaderboard from index: %+v %v", leaders, err)
	}
}

func TestS3Store(t *testing.T) {
	bucket := os.Getenv("CAPESMASH_TEST_BUCKET")
	if bucket == "" {
		t.Skip("Skipping test because CAPESMASH_TEST_BUCKET is unset")
	}
	ctx := context.Background()
	st, err := OpenS3(ctx, bucket, "capesmash-test/"+t.Name()+".json", zerolog.Nop())
	if err != nil {
		t.Skipf("Skipping test due to lack of access to %v: %v", bucket, err)
	}
	st.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(st.key),
	})

	exercise(t, st)
}
