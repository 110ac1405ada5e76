package events

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hitoshi/organizer/internal/model"
)

// DefaultSuccessDisplay は作成成功フラグを表示し続ける時間。
const DefaultSuccessDisplay = 3 * time.Second

// ErrNoOwner はサインインしていないクライアントでイベントを作成しようとした場合のエラー。
var ErrNoOwner = errors.New("events: no signed-in organizer")

// ViewState はクライアントのイベント画面の状態。
type ViewState struct {
	OwnerID string
	Events  []model.Event
	Loading bool
	Err     error
	Success bool
}

// View はクライアント1つ分のイベント一覧の状態を保持する。
// 現在のIdentityが変わるたびに購読を張り替える。
type View struct {
	repo           *Repository
	successDisplay time.Duration

	// ownerMu はSetOwnerとCloseを直列化する。
	ownerMu sync.Mutex
	dispose func()

	mu           sync.Mutex
	owner        *model.Identity
	gen          uint64
	events       []model.Event
	loading      bool
	err          error
	success      bool
	successTimer *time.Timer
	watchers     map[uint64]chan struct{}
	nextWatcher  uint64
	closed       bool
}

// NewView はViewを生成する。successDisplayが0以下の場合はDefaultSuccessDisplayを使用する。
func NewView(repo *Repository, successDisplay time.Duration) *View {
	if successDisplay <= 0 {
		successDisplay = DefaultSuccessDisplay
	}
	return &View{
		repo:           repo,
		successDisplay: successDisplay,
		watchers:       make(map[uint64]chan struct{}),
	}
}

// SetOwner は表示対象の主催者を切り替える。
// 主催者が変わった場合は古い購読を解除し、新しい主催者の購読を開始する。
// nilの場合は一覧を空にする。同じ主催者の場合はIdentityの表示情報のみ更新する。
func (v *View) SetOwner(identity *model.Identity) {
	v.ownerMu.Lock()
	defer v.ownerMu.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if sameOwner(v.owner, identity) {
		v.owner = identity
		v.mu.Unlock()
		return
	}
	v.gen++
	gen := v.gen
	v.owner = identity
	v.events = nil
	v.loading = identity != nil
	v.err = nil
	old := v.dispose
	v.dispose = nil
	v.mu.Unlock()

	if old != nil {
		old()
	}
	v.notify()

	if identity == nil {
		return
	}
	dispose := v.repo.Subscribe(context.Background(), identity.ID,
		func(list []model.Event) { v.handleSnapshot(gen, list) },
		func(err error) { v.handleError(gen, err) },
	)
	v.mu.Lock()
	v.dispose = dispose
	v.mu.Unlock()
}

// Create は現在の主催者としてイベントを作成する。
// 開始時にエラーをクリアし、成功時は成功フラグを一定時間立てる。
func (v *View) Create(ctx context.Context, input model.EventInput) (*model.Event, error) {
	v.mu.Lock()
	owner := v.owner
	v.err = nil
	v.success = false
	v.mu.Unlock()

	if owner == nil {
		return nil, ErrNoOwner
	}

	event, err := v.repo.Create(ctx, input, owner)
	if err != nil {
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		v.notify()
		return nil, err
	}

	v.mu.Lock()
	v.success = true
	if v.successTimer != nil {
		v.successTimer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(v.successDisplay, func() {
		v.mu.Lock()
		if v.successTimer != timer {
			v.mu.Unlock()
			return
		}
		v.success = false
		v.successTimer = nil
		v.mu.Unlock()
		v.notify()
	})
	v.successTimer = timer
	v.mu.Unlock()

	v.notify()
	return event, nil
}

// Delete は指定IDのイベントを削除する。失敗時はエラーを状態に記録する。
func (v *View) Delete(ctx context.Context, id string) error {
	if err := v.repo.Delete(ctx, id); err != nil {
		v.mu.Lock()
		v.err = err
		v.mu.Unlock()
		v.notify()
		return err
	}
	return nil
}

// ClearError は状態のエラーをクリアする。
func (v *View) ClearError() {
	v.mu.Lock()
	v.err = nil
	v.mu.Unlock()
	v.notify()
}

// Snapshot は現在の状態のコピーを返す。
func (v *View) Snapshot() ViewState {
	v.mu.Lock()
	defer v.mu.Unlock()

	st := ViewState{
		Events:  slices.Clone(v.events),
		Loading: v.loading,
		Err:     v.err,
		Success: v.success,
	}
	if v.owner != nil {
		st.OwnerID = v.owner.ID
	}
	if st.Events == nil {
		st.Events = []model.Event{}
	}
	return st
}

// Watch は状態変化の通知チャネルと解除関数を返す。
// 通知は未読分をまとめ、受信側はSnapshotで最新の状態を取得する。
func (v *View) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	v.mu.Lock()
	v.nextWatcher++
	id := v.nextWatcher
	v.watchers[id] = ch
	v.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.watchers, id)
			v.mu.Unlock()
		})
	}
}

// Close は購読と成功フラグのタイマーを停止する。
func (v *View) Close() {
	v.ownerMu.Lock()
	defer v.ownerMu.Unlock()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.gen++
	old := v.dispose
	v.dispose = nil
	if v.successTimer != nil {
		v.successTimer.Stop()
		v.successTimer = nil
	}
	v.mu.Unlock()

	if old != nil {
		old()
	}
}

func (v *View) handleSnapshot(gen uint64, list []model.Event) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.events = list
	v.loading = false
	v.mu.Unlock()
	v.notify()
}

func (v *View) handleError(gen uint64, err error) {
	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return
	}
	v.loading = false
	v.err = err
	v.mu.Unlock()
	v.notify()
}

func (v *View) notify() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, ch := range v.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func sameOwner(a, b *model.Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID
}
