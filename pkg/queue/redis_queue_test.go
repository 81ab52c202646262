package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID, loanID := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID, loanID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	got := streams[0].Messages[0]
	if got.Values["job_id"] != jobID || got.Values["subject_id"] != loanID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID, loanID := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID, loanID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", streamLen)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string, string) {
	t.Helper()

	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client:     newTestClient(t),
		Stream:     "test:queue",
		Group:      "test-group",
		Consumer:   "consumer-1",
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	ctx := context.Background()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	job, err := q.Enqueue(ctx, "loan-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}

	msg := streams[0].Messages[0]
	return q, ctx, msg.ID, job.ID, job.SubjectID
}

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisJobQueueEnqueueOnceDeduplicates(t *testing.T) {
	q, err := NewRedisJobQueue(RedisQueueConfig{Client: newTestClient(t), Stream: "test:reminders"})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx := context.Background()
	if _, added, err := q.EnqueueOnce(ctx, "loan-1", "loan-1:2024-05-20", time.Hour); err != nil || !added {
		t.Fatalf("first enqueue: added=%v err=%v", added, err)
	}
	if _, added, err := q.EnqueueOnce(ctx, "loan-1", "loan-1:2024-05-20", time.Hour); err != nil || added {
		t.Fatalf("duplicate enqueue: added=%v err=%v", added, err)
	}
	if _, added, err := q.EnqueueOnce(ctx, "loan-1", "loan-1:2024-05-21", time.Hour); err != nil || !added {
		t.Fatalf("next day enqueue: added=%v err=%v", added, err)
	}
	n, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil || n != 2 {
		t.Fatalf("expected 2 stream entries, got %d err=%v", n, err)
	}
}

func TestRedisJobQueueRunProcessesJobs(t *testing.T) {
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Client:     newTestClient(t),
		Stream:     "test:run",
		Block:      20 * time.Millisecond,
		RetryDelay: time.Millisecond,
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.ensureGroup(ctx); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	seen := make(chan JobStatus, 4)
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, 1, func(_ context.Context, job JobStatus) error {
			seen <- job
			if job.Attempts == 1 {
				return errors.New("transient")
			}
			return nil
		})
	}()

	job, err := q.Enqueue(ctx, "loan-9")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for attempt := 1; attempt <= 2; attempt++ {
		select {
		case got := <-seen:
			if got.SubjectID != "loan-9" || got.Attempts != attempt {
				t.Fatalf("unexpected job on attempt %d: %+v", attempt, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", attempt)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		status, ok, err := q.GetJob(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if ok && status.Status == StatusDone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never finished: %+v", status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
