package channels

import (
	"context"
	"sync"
	"time"

	"github.com/aviv90/tasker-server-sub010/internal/bus"
	"github.com/aviv90/tasker-server-sub010/internal/channels/telegram"
	"github.com/aviv90/tasker-server-sub010/internal/config"
	"github.com/aviv90/tasker-server-sub010/internal/gateway"
	. "github.com/aviv90/tasker-server-sub010/internal/logging"
	"github.com/aviv90/tasker-server-sub010/internal/notify"
	"github.com/aviv90/tasker-server-sub010/internal/types"
)

// deliverTimeout bounds one outbound delivery, media upload included.
const deliverTimeout = 2 * time.Minute

// Manager owns the lifecycle of all delivery channels.
type Manager struct {
	gw *gateway.Gateway

	channels map[string]Channel
	mu       sync.RWMutex

	subs []bus.SubscriptionID

	// Telegram-specific retry state
	telegramRetrying bool
	telegramCancel   context.CancelFunc

	ctx context.Context
}

// NewManager creates a new channel manager
func NewManager(gw *gateway.Gateway) *Manager {
	return &Manager{
		gw:       gw,
		channels: make(map[string]Channel),
	}
}

// StartAll starts all enabled channels from config and begins routing
// outbound notices to them.
func (m *Manager) StartAll(ctx context.Context, cfg *config.Config) error {
	m.ctx = ctx

	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		if err := m.startTelegram(ctx, &cfg.Telegram); err != nil {
			L_warn("telegram: initial start failed, will retry in background", "error", err)
			m.startTelegramRetry(ctx, &cfg.Telegram)
		}
	} else {
		L_info("telegram: disabled by configuration")
	}

	m.subscribeDelivery()
	return nil
}

// startTelegram creates and starts the Telegram bot
func (m *Manager) startTelegram(ctx context.Context, cfg *config.TelegramConfig) error {
	bot, err := telegram.New(cfg, m.gw)
	if err != nil {
		return err
	}

	if err := bot.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.channels[bot.Name()] = bot
	m.mu.Unlock()

	bus.PublishEvent("channels.telegram.started", nil)
	L_info("telegram: bot ready and listening")
	return nil
}

// startTelegramRetry starts background retry for the telegram connection
func (m *Manager) startTelegramRetry(ctx context.Context, cfg *config.TelegramConfig) {
	m.mu.Lock()
	if m.telegramRetrying {
		m.mu.Unlock()
		return
	}
	m.telegramRetrying = true
	retryCtx, cancel := context.WithCancel(ctx)
	m.telegramCancel = cancel
	m.mu.Unlock()

	go func() {
		backoff := 5 * time.Second
		maxBackoff := 5 * time.Minute
		attempt := 1

		for {
			select {
			case <-retryCtx.Done():
				L_info("telegram: shutdown requested, stopping retry")
				return
			case <-time.After(backoff):
			}

			L_info("telegram: retrying connection", "attempt", attempt, "backoff", backoff)

			if err := m.startTelegram(retryCtx, cfg); err != nil {
				L_warn("telegram: connection failed", "error", err, "nextRetry", backoff)
				attempt++
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			m.mu.Lock()
			m.telegramRetrying = false
			m.mu.Unlock()
			L_info("telegram: bot ready after retry", "attempts", attempt)
			return
		}
	}()
}

// subscribeDelivery wires the notice topics to channel delivery. The
// accepted topic stays off chat channels; the immediate "working on it"
// notice covers it and the websocket stream carries the full feed.
func (m *Manager) subscribeDelivery() {
	handler := func(ev bus.Event) {
		out, ok := ev.Data.(types.Outbound)
		if !ok {
			return
		}
		m.route(out)
	}
	for _, topic := range []string{notify.TopicProgress, notify.TopicCompleted, notify.TopicFailed} {
		m.subs = append(m.subs, bus.SubscribeEvent(topic, handler))
	}
}

// route hands one outbound payload to the channel its delivery context
// names. Unknown channels are fine: api-originated notices ride the
// websocket stream instead.
func (m *Manager) route(out types.Outbound) {
	name := out.Delivery.Channel
	if name == "" {
		return
	}

	m.mu.RLock()
	ch := m.channels[name]
	m.mu.RUnlock()
	if ch == nil {
		L_trace("channels: no channel for delivery", "channel", name, "task", out.TaskID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := ch.Deliver(ctx, out); err != nil {
		L_warn("channels: delivery failed", "channel", name, "task", out.TaskID, "error", err)
	}
}

// Channel returns a started channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StopAll shuts down routing and every started channel.
func (m *Manager) StopAll() {
	for _, id := range m.subs {
		bus.UnsubscribeEvent(id)
	}
	m.subs = nil

	m.mu.Lock()
	if m.telegramCancel != nil {
		m.telegramCancel()
		m.telegramCancel = nil
	}
	chans := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		chans = append(chans, ch)
	}
	m.channels = make(map[string]Channel)
	m.mu.Unlock()

	for _, ch := range chans {
		if err := ch.Stop(); err != nil {
			L_warn("channels: stop failed", "channel", ch.Name(), "error", err)
		}
	}
}
