package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/escrow-broker/internal/goroutine"
)

const deliveryTimeout = 10 * time.Second

// NotificationSink канал доставки событий пользователю (websocket, БД, kafka).
type NotificationSink interface {
	Deliver(ctx context.Context, userID int64, kind string, payload any) error
}

// EventNotifier то, что нужно сервисам: отправить событие и не ждать доставки.
type EventNotifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload any)
}

type namedSink struct {
	name string
	sink NotificationSink
}

// Notifier рассылает событие во все зарегистрированные каналы.
// Ошибки доставки только логируются.
type Notifier struct {
	mu       sync.RWMutex
	sinks    []namedSink
	recovery *goroutine.RecoveryHandler
	log      logrus.FieldLogger
	wg       sync.WaitGroup
}

func NewNotifier(log logrus.FieldLogger) *Notifier {
	return &Notifier{
		recovery: goroutine.NewRecoveryHandler(log),
		log:      log,
	}
}

// AddSink регистрирует канал доставки.
func (n *Notifier) AddSink(name string, sink NotificationSink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, namedSink{name: name, sink: sink})
}

func (n *Notifier) Notify(ctx context.Context, userID int64, kind string, payload any) {
	if userID <= 0 {
		return
	}

	n.mu.RLock()
	sinks := append([]namedSink(nil), n.sinks...)
	n.mu.RUnlock()

	// доставка не должна зависеть от отмены запроса, который её вызвал
	base := context.WithoutCancel(ctx)
	for _, s := range sinks {
		n.wg.Add(1)
		n.recovery.SafeGo(func() {
			defer n.wg.Done()

			ctx, cancel := context.WithTimeout(base, deliveryTimeout)
			defer cancel()

			if err := s.sink.Deliver(ctx, userID, kind, payload); err != nil {
				n.log.WithFields(logrus.Fields{
					"sink":    s.name,
					"user_id": userID,
					"event":   kind,
				}).WithError(err).Warn("notifier: не удалось доставить уведомление")
			}
		})
	}
}

// Wait дожидается завершения уже запущенных доставок.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
