package database

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// EventChangesChannel はeventsテーブルのトリガーが通知するチャネル名。
// ペイロードは変更された行のorganizer_id。
const EventChangesChannel = "event_changes"

const listenerPingInterval = 90 * time.Second

// ChangeFeed はPostgreSQLのLISTEN/NOTIFYをキー単位の購読者に配信する。
// 通知ペイロードをキーとして扱い、一致する購読者にのみ配信する。
// 再接続時は取りこぼしの可能性があるため全購読者に配信する。
type ChangeFeed struct {
	listener *pq.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	subs   map[uint64]*feedSubscriber
	nextID uint64

	done      chan struct{}
	closeOnce sync.Once
}

type feedSubscriber struct {
	key string
	ch  chan struct{}
}

// NewChangeFeed は指定チャネルをLISTENするChangeFeedを生成し、配信を開始する。
func NewChangeFeed(databaseURL, channel string, logger *slog.Logger) (*ChangeFeed, error) {
	f := newChangeFeed(logger)
	f.listener = pq.NewListener(databaseURL, 10*time.Second, time.Minute, f.handleListenerEvent)

	if err := f.listener.Listen(channel); err != nil {
		f.listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", channel, err)
	}

	go f.run()

	return f, nil
}

func newChangeFeed(logger *slog.Logger) *ChangeFeed {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeFeed{
		logger: logger,
		subs:   make(map[uint64]*feedSubscriber),
		done:   make(chan struct{}),
	}
}

// Notify はkeyに一致する変更通知を受け取るチャネルを返す。
// 連続した通知は1件に集約される。cancelの呼び出し後はチャネルに送信されない。
func (f *ChangeFeed) Notify(key string) (<-chan struct{}, func()) {
	sub := &feedSubscriber{key: key, ch: make(chan struct{}, 1)}

	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = sub
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// SubscriberCount は現在の購読者数を返す。
func (f *ChangeFeed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close はLISTEN接続を閉じて配信を停止する。
func (f *ChangeFeed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		close(f.done)
		if f.listener != nil {
			err = f.listener.Close()
		}
	})
	return err
}

func (f *ChangeFeed) run() {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			// 再接続直後はnilが届く
			if n == nil {
				f.broadcast()
				continue
			}
			f.dispatch(n.Extra)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Warn("change feed ping failed", slog.String("error", err.Error()))
				}
			}()
		case <-f.done:
			return
		}
	}
}

func (f *ChangeFeed) handleListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		f.logger.Warn("change feed disconnected", slog.Any("error", err))
	case pq.ListenerEventReconnected:
		f.logger.Info("change feed reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		f.logger.Warn("change feed connection attempt failed", slog.Any("error", err))
	}
}

// dispatch はkeyに一致する購読者に通知する。
func (f *ChangeFeed) dispatch(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		if sub.key == key {
			signal(sub.ch)
		}
	}
}

func (f *ChangeFeed) broadcast() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, sub := range f.subs {
		signal(sub.ch)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
