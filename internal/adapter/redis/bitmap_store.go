package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrtnsch/checkboxes/internal/bitmap"
	"github.com/mrtnsch/checkboxes/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

var _ domain.CheckboxStore = (*BitmapStore)(nil)

// BitmapStore is the Redis-backed CheckboxStore. All state lives under one key.
type BitmapStore struct {
	rdb  *goredis.Client
	key  string
	size int
}

// NewBitmapStore returns a store for size checkboxes kept at key.
func NewBitmapStore(rdb *goredis.Client, key string, size int) *BitmapStore {
	return &BitmapStore{rdb: rdb, key: key, size: size}
}

// Snapshot reads the whole value. A missing key is an all-false vector.
func (s *BitmapStore) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return bitmap.Decode(nil, s.size), nil
	}
	if err != nil {
		return domain.Snapshot{}, unavailable("get bitmap", err)
	}
	return bitmap.Decode(raw, s.size), nil
}

// SetBit is a single SETBIT, atomic on the server. Concurrent writers to
// the same index race and the last one wins.
func (s *BitmapStore) SetBit(ctx context.Context, index int, value bool) error {
	if err := bitmap.CheckIndex(index, s.size); err != nil {
		return err
	}
	if err := s.rdb.SetBit(ctx, s.key, int64(index), bitValue(value)).Err(); err != nil {
		return unavailable("set bit", err)
	}
	return nil
}

func (s *BitmapStore) GetBit(ctx context.Context, index int) (bool, error) {
	if err := bitmap.CheckIndex(index, s.size); err != nil {
		return false, err
	}
	v, err := s.rdb.GetBit(ctx, s.key, int64(index)).Result()
	if err != nil {
		return false, unavailable("get bit", err)
	}
	return v == 1, nil
}

// Count counts set bits in [0, N) with BITCOUNT over the whole bytes and the
// partial trailing byte fetched separately, in one round trip.
func (s *BitmapStore) Count(ctx context.Context) (int, error) {
	fullBytes := s.size / 8
	tailBits := s.size % 8

	pipe := s.rdb.Pipeline()
	var countCmd *goredis.IntCmd
	if fullBytes > 0 {
		countCmd = pipe.BitCount(ctx, s.key, &goredis.BitCount{Start: 0, End: int64(fullBytes - 1)})
	}
	var tailCmd *goredis.StringCmd
	if tailBits > 0 {
		tailCmd = pipe.GetRange(ctx, s.key, int64(fullBytes), int64(fullBytes))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("count bits", err)
	}

	count := 0
	if countCmd != nil {
		count = int(countCmd.Val())
	}
	if tailCmd != nil {
		count += bitmap.Count([]byte(tailCmd.Val()), tailBits)
	}
	return count, nil
}

func (s *BitmapStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return unavailable("clear bitmap", err)
	}
	return nil
}

func (s *BitmapStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *BitmapStore) Size() int {
	return s.size
}

// Key returns the Redis key holding the bitmap.
func (s *BitmapStore) Key() string {
	return s.key
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

func bitValue(v bool) int {
	if v {
		return 1
	}
	return 0
}
