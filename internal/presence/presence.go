package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campusmatch/call-server-go/internal/model"
	redisclient "github.com/campusmatch/call-server-go/internal/redis"
)

const (
	fieldOnline   = "online"
	fieldLastSeen = "last_seen"
)

// Oracle tracks self-reported online/last-seen per user. Each heartbeat
// overwrites the previous record; derived online-ness is advisory only and
// tolerates at least one missed beat.
type Oracle struct {
	redis     *redisclient.Client
	staleness time.Duration
	now       func() time.Time
}

func NewOracle(redisClient *redisclient.Client, staleness time.Duration) *Oracle {
	return &Oracle{
		redis:     redisClient,
		staleness: staleness,
		now:       time.Now,
	}
}

// Heartbeat upserts online=true and last_seen=now. Called on the fixed
// client interval and on user-activity signals.
func (o *Oracle) Heartbeat(ctx context.Context, userID string) error {
	key := redisclient.PresenceKey(userID)
	now := o.now()

	pipe := o.redis.TxPipeline()
	pipe.HSet(ctx, key, fieldOnline, "1", fieldLastSeen, strconv.FormatInt(now.UnixMilli(), 10))
	// Self-clean abandoned records well after they stop mattering.
	pipe.Expire(ctx, key, 4*o.staleness)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	log.Debug().Str("userId", userID).Msg("presence heartbeat")
	return nil
}

// MarkOffline is called on clean disconnect. The last_seen timestamp is
// preserved for peers who want to show it.
func (o *Oracle) MarkOffline(ctx context.Context, userID string) error {
	key := redisclient.PresenceKey(userID)
	return o.redis.HSet(ctx, key, fieldOnline, "0").Err()
}

// Get returns the full presence record, or a zero offline record if the
// user has never heartbeated.
func (o *Oracle) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	key := redisclient.PresenceKey(userID)
	values, err := o.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	record := &model.PresenceRecord{UserID: userID}
	if len(values) == 0 {
		return record, nil
	}

	var lastSeen time.Time
	if raw, ok := values[fieldLastSeen]; ok {
		if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			lastSeen = time.UnixMilli(millis)
		}
	}

	record.LastSeen = lastSeen
	record.IsOnline = derivedOnline(values[fieldOnline] == "1", lastSeen, o.now(), o.staleness)
	return record, nil
}

// IsOnline derives availability as flag AND freshness. Presence can lag
// reality, so callers treat a false here as advisory, never authoritative.
func (o *Oracle) IsOnline(ctx context.Context, userID string) (bool, error) {
	record, err := o.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return record.IsOnline, nil
}

// LastSeen returns the last heartbeat time, or nil if the user has never
// been seen.
func (o *Oracle) LastSeen(ctx context.Context, userID string) (*time.Time, error) {
	record, err := o.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if record.LastSeen.IsZero() {
		return nil, nil
	}
	return &record.LastSeen, nil
}

func derivedOnline(flag bool, lastSeen, now time.Time, staleness time.Duration) bool {
	if !flag || lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) < staleness
}
