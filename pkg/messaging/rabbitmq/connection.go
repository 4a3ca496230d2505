package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chimera-analytics/chimera/pkg/observability"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
)

// connectionManager owns the single broker connection of a client. A
// watcher goroutine per connection reacts to close and blocked
// notifications and drives the backoff reconnect loop. Once the attempt
// budget is exhausted the manager is terminal and every caller gets
// ErrMaxReconnectAttempts.
type connectionManager struct {
	config Config
	o11y   observability.Observability

	mu           sync.RWMutex
	conn         *amqp.Connection
	connected    bool
	reconnecting bool
	terminal     bool
	closed       bool

	reconnectListeners []chan struct{}

	terminalChan chan struct{}
	closeChan    chan struct{}
	closeOnce    sync.Once
}

func newConnectionManager(config Config, o11y observability.Observability) *connectionManager {
	return &connectionManager{
		config:       config,
		o11y:         o11y,
		terminalChan: make(chan struct{}),
		closeChan:    make(chan struct{}),
	}
}

// connect dials the broker and starts the connection watcher. Calling it
// with a live connection is a no-op.
func (m *connectionManager) connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClientClosed
	}

	if m.conn != nil && !m.conn.IsClosed() {
		m.connected = true
		return nil
	}

	conn, err := amqp.DialConfig(m.config.URL, amqp.Config{
		Heartbeat: m.config.Heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(m.config.ConnectionTimeout),
	})
	if err != nil {
		m.connected = false
		return fmt.Errorf("rabbitmq: dial broker: %w", err)
	}

	m.conn = conn
	m.connected = true

	go m.watch(conn)

	m.o11y.Logger().Info(ctx, "connected to message broker",
		observability.String("heartbeat", m.config.Heartbeat.String()),
	)
	return nil
}

// watch reacts to the lifecycle notifications of one connection. Blocked
// notifications arm a watchdog; a connection blocked longer than the
// threshold is force-closed and replaced like any lost connection.
func (m *connectionManager) watch(conn *amqp.Connection) {
	ctx := context.Background()

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	blockedCh := conn.NotifyBlocked(make(chan amqp.Blocking, 1))

	var watchdog *time.Timer
	var watchdogFired <-chan time.Time
	stopWatchdog := func() {
		if watchdog != nil {
			watchdog.Stop()
			watchdog = nil
			watchdogFired = nil
		}
	}
	defer stopWatchdog()

	for {
		select {
		case amqpErr, ok := <-closeCh:
			if m.isClosed() {
				return
			}
			if !ok || amqpErr == nil {
				m.o11y.Logger().Warn(ctx, "broker connection closed")
			} else {
				m.o11y.Logger().Warn(ctx, "broker connection lost",
					observability.Error(amqpErr),
				)
			}
			m.markDisconnected()
			m.scheduleReconnect()
			return

		case blocking := <-blockedCh:
			if blocking.Active {
				if watchdog == nil {
					watchdog = time.NewTimer(m.config.BlockedThreshold)
					watchdogFired = watchdog.C
				}
				m.o11y.Logger().Warn(ctx, "broker blocked the connection",
					observability.String("reason", blocking.Reason),
				)
			} else {
				stopWatchdog()
				m.o11y.Logger().Info(ctx, "broker unblocked the connection")
			}

		case <-watchdogFired:
			m.o11y.Logger().Error(ctx, "connection blocked beyond threshold, replacing it",
				observability.String("threshold", m.config.BlockedThreshold.String()),
			)
			stopWatchdog()
			// Close surfaces on closeCh, which triggers the reconnect.
			conn.CloseDeadline(time.Now().Add(5 * time.Second))

		case <-m.closeChan:
			return
		}
	}
}

// scheduleReconnect starts the reconnect loop unless one is already
// running or the manager cannot recover anymore.
func (m *connectionManager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.terminal || m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	go m.reconnectLoop()
}

// reconnectLoop redials with exponential backoff until connected or the
// attempt budget runs out, at which point the manager turns terminal.
func (m *connectionManager) reconnectLoop() {
	ctx := context.Background()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = m.config.ReconnectInitialInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxInterval = m.config.ReconnectMaxInterval
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		if m.isClosed() {
			return backoff.Permanent(ErrClientClosed)
		}

		attempts++
		if attempts > m.config.ReconnectMaxAttempts {
			return backoff.Permanent(ErrMaxReconnectAttempts)
		}

		if err := m.connect(ctx); err != nil {
			m.o11y.Logger().Warn(ctx, "reconnect attempt failed",
				observability.Int("attempt", attempts),
				observability.Int("max_attempts", m.config.ReconnectMaxAttempts),
				observability.Error(err),
			)
			return err
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithMaxRetries(policy, uint64(m.config.ReconnectMaxAttempts)))

	m.mu.Lock()
	m.reconnecting = false
	m.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrClientClosed) {
			return
		}
		m.o11y.Logger().Error(ctx, "giving up on broker reconnection",
			observability.Int("attempts", attempts-1),
			observability.Error(err),
		)
		m.fail()
		return
	}

	m.o11y.Logger().Info(ctx, "broker connection reestablished",
		observability.Int("attempts", attempts),
	)
	reconnectsTotal.Inc()
	m.signalReconnect()
}

// notifyReconnect registers a buffered channel signalled after every
// successful reconnection. Signals to a full channel are dropped.
func (m *connectionManager) notifyReconnect(ch chan struct{}) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectListeners = append(m.reconnectListeners, ch)
	return ch
}

func (m *connectionManager) signalReconnect() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.reconnectListeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// terminated is closed once the manager gave up reconnecting.
func (m *connectionManager) terminated() <-chan struct{} {
	return m.terminalChan
}

func (m *connectionManager) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminal {
		return
	}
	m.terminal = true
	close(m.terminalChan)
}

func (m *connectionManager) markDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// connection returns the live connection or the reason there is none.
func (m *connectionManager) connection() (*amqp.Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.closed:
		return nil, ErrClientClosed
	case m.terminal:
		return nil, ErrMaxReconnectAttempts
	case m.conn == nil || !m.connected || m.conn.IsClosed():
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

func (m *connectionManager) isHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && !m.terminal && m.connected && m.conn != nil && !m.conn.IsClosed()
}

func (m *connectionManager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// close shuts the connection down. Idempotent.
func (m *connectionManager) close() error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.connected = false
		conn := m.conn
		m.mu.Unlock()

		close(m.closeChan)

		if conn != nil && !conn.IsClosed() {
			err = conn.Close()
		}
	})
	return err
}
