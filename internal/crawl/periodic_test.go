package crawl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestPeriodicJobProcessesAllItemsBeforeAfterPass(t *testing.T) {
	items := []string{"a", "b", "c"}
	var processed int32
	var afterPassAt time.Time

	job, err := NewPeriodicJob(PeriodicJobConfig{
		Name:         "test",
		Workers:      2,
		MinInterval:  50 * time.Millisecond,
		ProcessDelay: 0,
		Timeout:      time.Second,
		GetItems:     func(ctx context.Context) ([]string, error) { return items, nil },
		ProcessItem: func(ctx context.Context, item string) error {
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&processed, 1)
			return nil
		},
		AfterPass: func(ctx context.Context) error {
			afterPassAt = time.Now()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPeriodicJob: %v", err)
	}
	defer job.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := job.runPass(ctx); err != nil {
		t.Fatalf("runPass: %v", err)
	}

	if got := atomic.LoadInt32(&processed); got != int32(len(items)) {
		t.Fatalf("expected all %d items processed before runPass returned, got %d", len(items), got)
	}
	if afterPassAt.IsZero() {
		t.Fatal("expected AfterPass to run")
	}
}
