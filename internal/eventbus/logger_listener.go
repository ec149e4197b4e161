package eventbus

import (
	"context"

	"github.com/annel0/mmo-atlas/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог синхронизации.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.GetSyncLogger()
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		logger.Debug("[EventBus] %s %s dim=%s src=%s size=%dB", ev.ID, ev.EventType, ev.Dimension, ev.Source, len(ev.Payload))
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
