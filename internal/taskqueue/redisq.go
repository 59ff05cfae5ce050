package taskqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dispatchdomain "github.com/hashangit/seo-pro/internal/dispatch/domain"
	r "github.com/redis/go-redis/v9"
)

// message is the envelope a worker pops off the queue. The delivery
// loop POSTs Payload to Endpoint at least once.
type message struct {
	Name     string          `json:"name"`
	Endpoint string          `json:"endpoint"`
	Payload  json.RawMessage `json:"payload"`
	Enqueued time.Time       `json:"enqueued_at"`
}

// RedisQ pushes task messages onto a redis list, with a SETNX marker
// per task name so a retried Enqueue of the same name is a no-op.
type RedisQ struct {
	rdb       *r.Client
	queue     string
	dedupeTTL time.Duration
}

func New(rdb *r.Client, queue string) *RedisQ {
	if strings.TrimSpace(queue) == "" {
		queue = "seo-audit-queue"
	}
	return &RedisQ{rdb: rdb, queue: queue, dedupeTTL: 24 * time.Hour}
}

func (q *RedisQ) Enqueue(ctx context.Context, name, endpoint string, payload []byte) error {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(endpoint) == "" {
		return dispatchdomain.ErrInvalidTaskPayload
	}
	if !json.Valid(payload) {
		return dispatchdomain.ErrInvalidTaskPayload
	}

	body, err := json.Marshal(message{
		Name:     name,
		Endpoint: endpoint,
		Payload:  payload,
		Enqueued: time.Now().UTC(),
	})
	if err != nil {
		return dispatchdomain.ErrInvalidTaskPayload
	}

	ok, err := q.rdb.SetNX(ctx, "task:"+q.queue+":"+name, 1, q.dedupeTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", dispatchdomain.ErrQueueUnavailable, err)
	}
	if !ok {
		// Name already enqueued within the retention window.
		return nil
	}

	if err := q.rdb.LPush(ctx, "queue:"+q.queue, body).Err(); err != nil {
		return fmt.Errorf("%w: %v", dispatchdomain.ErrQueueUnavailable, err)
	}
	return nil
}

// Dequeue pops the next task message, blocking up to block. The
// delivery loop lives with the workers; it is exposed here so a local
// worker process can drain the same queue.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (name, endpoint string, payload []byte, err error) {
	res, err := q.rdb.BRPop(ctx, block, "queue:"+q.queue).Result()
	if err != nil {
		return "", "", nil, fmt.Errorf("%w: %v", dispatchdomain.ErrQueueUnavailable, err)
	}
	if len(res) != 2 {
		return "", "", nil, dispatchdomain.ErrQueueUnavailable
	}
	var msg message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return "", "", nil, dispatchdomain.ErrInvalidTaskPayload
	}
	return msg.Name, msg.Endpoint, msg.Payload, nil
}
