package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	got   []sentNotification
	err   error
	panic bool
}

func (s *recordingSink) Deliver(ctx context.Context, userID int64, kind string, _ any) error {
	if s.panic {
		panic("sink is broken")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, sentNotification{UserID: userID, Kind: kind})
	return s.err
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestNotifier_FanOut(t *testing.T) {
	n := NewNotifier(nullLogger())
	ws, db := &recordingSink{}, &recordingSink{}
	n.AddSink("ws", ws)
	n.AddSink("db", db)

	n.Notify(context.Background(), testBuyer, "payment_confirmed", map[string]any{"deal_id": "x"})
	n.Wait()

	assert.Equal(t, 1, ws.len())
	assert.Equal(t, 1, db.len())
	assert.Equal(t, sentNotification{UserID: testBuyer, Kind: "payment_confirmed"}, ws.got[0])
}

func TestNotifier_SinkFailureIsIsolated(t *testing.T) {
	logger, hook := test.NewNullLogger()
	n := NewNotifier(logger)
	healthy := &recordingSink{}
	n.AddSink("broken", &recordingSink{panic: true})
	n.AddSink("failing", &recordingSink{err: errors.New("kafka down")})
	n.AddSink("healthy", healthy)

	n.Notify(context.Background(), testSeller, "deal_purchased", nil)
	n.Wait()

	assert.Equal(t, 1, healthy.len())

	// паника логируется уже после Done, поэтому ждём запись в журнале
	assert.Eventually(t, func() bool {
		var warnings, errorsLogged int
		for _, e := range hook.AllEntries() {
			switch e.Level {
			case logrus.WarnLevel:
				warnings++
			case logrus.ErrorLevel:
				errorsLogged++
			}
		}
		return warnings == 1 && errorsLogged == 1
	}, time.Second, 5*time.Millisecond)
}

func TestNotifier_IgnoresCancelledCaller(t *testing.T) {
	n := NewNotifier(nullLogger())
	sink := &recordingSink{}
	n.AddSink("db", sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n.Notify(ctx, testBuyer, "deal_cancelled", nil)
	n.Wait()

	require.Equal(t, 1, sink.len())
}

func TestNotifier_SkipsAnonymous(t *testing.T) {
	n := NewNotifier(nullLogger())
	sink := &recordingSink{}
	n.AddSink("db", sink)

	n.Notify(context.Background(), 0, "deal_cancelled", nil)
	n.Wait()

	assert.Zero(t, sink.len())
}
