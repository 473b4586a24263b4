package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/mplp-conform/pkg/config"
	"github.com/Mindburn-Labs/mplp-conform/pkg/evidence"
	"github.com/Mindburn-Labs/mplp-conform/pkg/verdict"
)

func sampleVerdict(t *testing.T, digest string) *verdict.Verdict {
	t.Helper()
	v, err := verdict.Aggregate(verdict.Input{
		PackID:         "pack-1",
		PackDigest:     digest,
		RulesetVersion: "1.0.0",
		SchemaRecords: []evidence.Record{
			{Source: evidence.SourceSchema, Rule: "document", Subject: "context.json", Outcome: evidence.OutcomePass},
		},
	})
	require.NoError(t, err)
	return v
}

// runContract exercises the behaviour every VerdictStore must share.
func runContract(t *testing.T, s VerdictStore) {
	ctx := context.Background()
	key := Key{PackDigest: "digest-a", RulesetVersion: "1.0.0"}

	_, err := s.Get(ctx, key)
	assert.True(t, errors.Is(err, ErrNotFound))

	v := sampleVerdict(t, "digest-a")
	require.NoError(t, s.Put(ctx, v))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, v.VerdictHash, got.VerdictHash)
	assert.Equal(t, v.VerdictID, got.VerdictID)
	assert.Equal(t, v.Evidence, got.Evidence)
	assert.NoError(t, verdict.Verify(got))

	// Overwrite is idempotent.
	require.NoError(t, s.Put(ctx, v))

	_, err = s.Get(ctx, Key{PackDigest: "digest-a", RulesetVersion: "2.0.0"})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Error(t, s.Put(ctx, &verdict.Verdict{}))
}

func TestMemoryStore(t *testing.T) {
	runContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	require.NoError(t, err)
	defer s.Close()

	runContract(t, s)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	defer s.Close()
	runContract(t, s)

	assert.True(t, mr.Exists(RedisKeyPrefix+"1.0.0/digest-a"))
}

func TestRedisStoreRejectsTamperedVerdict(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
	defer s.Close()
	v := sampleVerdict(t, "digest-a")
	require.NoError(t, s.Put(context.Background(), v))

	raw, err := mr.Get(RedisKeyPrefix + "1.0.0/digest-a")
	require.NoError(t, err)
	require.NoError(t, mr.Set(RedisKeyPrefix+"1.0.0/digest-a", regexp.MustCompile(`"pack-1"`).ReplaceAllString(raw, `"pack-2"`)))

	_, err = s.Get(context.Background(), KeyOf(v))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestPostgresStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()
	v := sampleVerdict(t, "digest-a")
	body, err := encode(v)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS verdicts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Migrate(ctx))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO verdicts")).
		WithArgs("digest-a", "1.0.0", v.VerdictID, v.VerdictHash, string(body)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Put(ctx, v))

	query := regexp.QuoteMeta("SELECT body FROM verdicts WHERE pack_digest = $1 AND ruleset_version = $2")
	mock.ExpectQuery(query).
		WithArgs("digest-a", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(string(body)))
	got, err := s.Get(ctx, KeyOf(v))
	require.NoError(t, err)
	assert.Equal(t, v.VerdictHash, got.VerdictHash)

	mock.ExpectQuery(query).
		WithArgs("digest-b", "1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"body"}))
	_, err = s.Get(ctx, Key{PackDigest: "digest-b", RulesetVersion: "1.0.0"})
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCompute(t *testing.T) {
	s := NewMemoryStore()
	calls := 0
	compute := func(context.Context) (*verdict.Verdict, error) {
		calls++
		return sampleVerdict(t, "digest-a"), nil
	}
	key := Key{PackDigest: "digest-a", RulesetVersion: "1.0.0"}

	first, hit, err := GetOrCompute(context.Background(), s, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)

	second, hit, err := GetOrCompute(context.Background(), s, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, first.VerdictHash, second.VerdictHash)

	boom := errors.New("boom")
	_, _, err = GetOrCompute(context.Background(), s, Key{PackDigest: "x", RulesetVersion: "1.0.0"},
		func(context.Context) (*verdict.Verdict, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestOpenFactory(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, &config.Config{VerdictStore: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, &config.Config{VerdictStore: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	s, err = Open(ctx, &config.Config{VerdictStore: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, &config.Config{VerdictStore: "etcd"})
	assert.Error(t, err)
}
