package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"relay-chat/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix = "queue:"
	deadSuffix      = ":dead"

	// readBlock bounds how long one XREADGROUP call waits for new entries.
	readBlock = 5 * time.Second

	// pendingScanInterval is how often the consumer scans its group's pending
	// entries for stalled or retryable deliveries.
	pendingScanInterval = time.Second
)

// RedisStreamQueue implements Queue on Redis Streams with consumer groups.
// XADD gives durable, buffered publishing; XREADGROUP + XACK give
// at-least-once consumption across process restarts; entries whose delivery
// count exceeds the retry budget move to a companion dead-letter stream.
type RedisStreamQueue struct {
	client *goredis.Client
	log    *logger.Logger

	mu     sync.Mutex
	groups map[string]bool // stream -> group ensured
}

func NewRedisStreamQueue(client *goredis.Client, log *logger.Logger) *RedisStreamQueue {
	return &RedisStreamQueue{
		client: client,
		log:    log,
		groups: make(map[string]bool),
	}
}

func streamKey(jobClass string) string {
	return streamKeyPrefix + jobClass
}

func deadKey(jobClass string) string {
	return streamKey(jobClass) + deadSuffix
}

// Publish appends a job to the class stream. The broker buffers entries
// whether or not a consumer is connected.
func (q *RedisStreamQueue) Publish(ctx context.Context, jobClass string, payload []byte) error {
	return q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(jobClass),
		Values: map[string]interface{}{
			"payload":     payload,
			"enqueued_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Consume runs the consumer loop until ctx is cancelled. Jobs are handled
// concurrently up to opts.Prefetch; a job is acknowledged only after its
// handler returns nil (or it is dead-lettered).
func (q *RedisStreamQueue) Consume(ctx context.Context, jobClass string, handler Handler, opts ConsumeOptions) error {
	opts = opts.withDefaults()
	stream := streamKey(jobClass)

	if err := q.ensureGroup(ctx, stream, opts.Group); err != nil {
		return err
	}

	inflight := make(chan struct{}, opts.Prefetch)
	var wg sync.WaitGroup

	retryTicker := time.NewTicker(pendingScanInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-retryTicker.C:
			q.reclaimPending(ctx, jobClass, handler, opts, inflight, &wg)
		default:
		}

		free := opts.Prefetch - len(inflight)
		if free <= 0 {
			// Backpressure: every slot is busy, do not release new work.
			time.Sleep(50 * time.Millisecond)
			continue
		}

		res, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    opts.Group,
			Consumer: opts.Consumer,
			Streams:  []string{stream, ">"},
			Count:    int64(free),
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == goredis.Nil || err == context.Canceled || ctx.Err() != nil {
				continue
			}
			q.log.Errorf("queue %s: read failed: %v", jobClass, err)
			time.Sleep(opts.RetryDelay)
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				q.dispatch(ctx, jobClass, msg, handler, opts, inflight, &wg)
			}
		}
	}
}

func (q *RedisStreamQueue) dispatch(ctx context.Context, jobClass string, msg goredis.XMessage, handler Handler, opts ConsumeOptions, inflight chan struct{}, wg *sync.WaitGroup) {
	select {
	case inflight <- struct{}{}:
	case <-ctx.Done():
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() { <-inflight }()
		q.handleOne(ctx, jobClass, msg, handler, opts)
	}()
}

func (q *RedisStreamQueue) handleOne(ctx context.Context, jobClass string, msg goredis.XMessage, handler Handler, opts ConsumeOptions) {
	stream := streamKey(jobClass)
	payload := []byte(extractPayload(msg))

	err := handler(ctx, payload)
	switch {
	case err == nil:
		if ackErr := q.client.XAck(ctx, stream, opts.Group, msg.ID).Err(); ackErr != nil {
			q.log.Errorf("queue %s: ack %s failed: %v", jobClass, msg.ID, ackErr)
		}
	case isDeadLetter(err):
		q.moveToDeadLetter(ctx, jobClass, msg.ID, payload, err.Error(), opts.Group)
	default:
		// Leave unacknowledged; the pending scan redelivers it with backoff
		// and eventually dead-letters it.
		q.log.Warnf("queue %s: job %s failed, will retry: %v", jobClass, msg.ID, err)
	}
}

// reclaimPending scans the group's pending entries. Entries past the retry
// budget move to the dead-letter stream; entries whose backoff has elapsed
// are claimed and re-handled.
func (q *RedisStreamQueue) reclaimPending(ctx context.Context, jobClass string, handler Handler, opts ConsumeOptions, inflight chan struct{}, wg *sync.WaitGroup) {
	stream := streamKey(jobClass)

	pending, err := q.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  opts.Group,
		Start:  "-",
		End:    "+",
		Count:  int64(opts.Prefetch),
	}).Result()
	if err != nil || len(pending) == 0 {
		return
	}

	for _, p := range pending {
		if int(p.RetryCount) > opts.RetryAttempts {
			claimed, err := q.claim(ctx, stream, opts.Group, opts.Consumer, p.ID, 0)
			if err != nil || claimed == nil {
				continue
			}
			q.moveToDeadLetter(ctx, jobClass, p.ID, []byte(extractPayload(*claimed)), "retry attempts exhausted", opts.Group)
			continue
		}

		if p.Idle < RetryBackoff(opts.RetryDelay, int(p.RetryCount)) {
			continue
		}

		claimed, err := q.claim(ctx, stream, opts.Group, opts.Consumer, p.ID, p.Idle)
		if err != nil || claimed == nil {
			continue // another consumer won the claim
		}
		q.dispatch(ctx, jobClass, *claimed, handler, opts, inflight, wg)
	}
}

func (q *RedisStreamQueue) claim(ctx context.Context, stream, group, consumer, id string, minIdle time.Duration) (*goredis.XMessage, error) {
	msgs, err := q.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: []string{id},
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

func (q *RedisStreamQueue) moveToDeadLetter(ctx context.Context, jobClass, id string, payload []byte, reason, group string) {
	pipe := q.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: deadKey(jobClass),
		Values: map[string]interface{}{
			"origin_id": id,
			"payload":   payload,
			"reason":    reason,
			"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	})
	pipe.XAck(ctx, streamKey(jobClass), group, id)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Errorf("queue %s: dead-letter %s failed: %v", jobClass, id, err)
		return
	}
	q.log.Warnf("queue %s: job %s dead-lettered: %s", jobClass, id, reason)
}

// DeadLetters returns the most recent dead-lettered jobs for a class.
func (q *RedisStreamQueue) DeadLetters(ctx context.Context, jobClass string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	msgs, err := q.client.XRevRangeN(ctx, deadKey(jobClass), "+", "-", int64(limit)).Result()
	if err != nil {
		return nil, err
	}

	letters := make([]DeadLetter, 0, len(msgs))
	for _, m := range msgs {
		dl := DeadLetter{ID: m.ID, JobClass: jobClass}
		if v, ok := m.Values["origin_id"].(string); ok {
			dl.ID = v
		}
		if v, ok := m.Values["payload"].(string); ok {
			dl.Payload = []byte(v)
		}
		if v, ok := m.Values["reason"].(string); ok {
			dl.Reason = v
		}
		if v, ok := m.Values["moved_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				dl.MovedAt = t
			}
		}
		letters = append(letters, dl)
	}
	return letters, nil
}

func (q *RedisStreamQueue) Close() error {
	return nil
}

func (q *RedisStreamQueue) ensureGroup(ctx context.Context, stream, group string) error {
	q.mu.Lock()
	key := stream + "/" + group
	done := q.groups[key]
	q.mu.Unlock()
	if done {
		return nil
	}

	err := q.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}

	q.mu.Lock()
	q.groups[key] = true
	q.mu.Unlock()
	return nil
}

// RetryBackoff returns the redelivery delay for a given delivery count:
// base, 2*base, 4*base... capped at one minute.
func RetryBackoff(base time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := base << uint(retryCount-1)
	if d > time.Minute || d <= 0 {
		return time.Minute
	}
	return d
}

func extractPayload(msg goredis.XMessage) string {
	if v, ok := msg.Values["payload"].(string); ok {
		return v
	}
	raw, _ := json.Marshal(msg.Values)
	return string(raw)
}

func isDeadLetter(err error) bool {
	return errors.Is(err, ErrDeadLetter)
}
