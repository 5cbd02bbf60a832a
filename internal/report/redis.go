package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/askapmetry/model"
)

// DefaultTTL bounds how long published results stay in Redis.
const DefaultTTL = 7 * 24 * time.Hour

// BeamKey returns the hash key for one beam of a run:
// askapmetry:{run}:beam:{NN}.
func BeamKey(runID string, beam int) string {
	return fmt.Sprintf("askapmetry:%s:beam:%02d", runID, beam)
}

// BeamSetKey returns the set listing the beams published for a run.
func BeamSetKey(runID string) string {
	return fmt.Sprintf("askapmetry:%s:beams", runID)
}

// RedisPublisher stores summaries as per-beam Redis hashes. It is safe for
// concurrent use.
type RedisPublisher struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisPublisher connects with opts. ttl <= 0 uses DefaultTTL.
func NewRedisPublisher(opts *redis.Options, ttl time.Duration) *RedisPublisher {
	return newRedisPublisher(redis.NewClient(opts), ttl)
}

func newRedisPublisher(rdb redis.UniversalClient, ttl time.Duration) *RedisPublisher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisPublisher{rdb: rdb, ttl: ttl}
}

// Ping verifies Redis connectivity.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Publish writes every row of s in a single MULTI/EXEC transaction so a
// reader never sees half a run.
func (p *RedisPublisher) Publish(ctx context.Context, runID string, s Summary) error {
	if runID == "" {
		return fmt.Errorf("run id cannot be empty")
	}
	setKey := BeamSetKey(runID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range s.Rows {
			key := BeamKey(runID, r.Beam)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, RowToHash(r))
			pipe.Expire(ctx, key, p.ttl)
			pipe.SAdd(ctx, setKey, fmt.Sprintf("%02d", r.Beam))
		}
		pipe.Expire(ctx, setKey, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish run %s to Redis: %w", runID, err)
	}
	return nil
}

// RowToHash flattens a row into Redis hash fields. Absent offsets are left
// out rather than written as zero.
func RowToHash(r BeamRow) map[string]interface{} {
	hash := map[string]interface{}{
		"beam":   strconv.Itoa(r.Beam),
		"status": "ok",
	}
	if r.Centre != nil {
		hash["centre_ra"] = formatFloat(r.Centre.RA)
		hash["centre_dec"] = formatFloat(r.Centre.Dec)
	}
	putOffset(hash, "alignment", r.Alignment)
	putOffset(hash, "residual", r.Residual)
	putOffset(hash, "raw", r.Raw)
	putOffset(hash, "total", r.Total)
	if len(r.Errors) > 0 {
		hash["status"] = "error"
		hash["errors"] = strings.Join(r.Errors, "; ")
	}
	return hash
}

func putOffset(hash map[string]interface{}, prefix string, o *model.Offset) {
	if o == nil {
		return
	}
	hash[prefix+"_ra"] = formatFloat(o.RA)
	hash[prefix+"_dec"] = formatFloat(o.Dec)
}
