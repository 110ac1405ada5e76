// Package events はイベントの作成・削除と、主催者単位のリアルタイム購読を提供する。
package events

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/organizer/internal/model"
	"github.com/hitoshi/organizer/internal/repository"
	"github.com/hitoshi/organizer/internal/security"
)

// AnonymousOrganizerName は表示名を持たない主催者のイベントに記録される名前。
const AnonymousOrganizerName = "Anonymous Organizer"

// ChangeNotifier は主催者単位の変更通知を提供するインターフェース。
// 通知チャネルは未読の通知をまとめ、最大1件を保持する。
type ChangeNotifier interface {
	Notify(key string) (<-chan struct{}, func())
}

// Recorder はイベント操作の結果を記録するインターフェース。
type Recorder interface {
	RecordEventCreated()
	RecordEventDeleted()
	RecordValidationFailure(reason string)
	RecordRepositoryError(op string)
	RecordSnapshot(size int)
	SubscriptionOpened()
	SubscriptionClosed()
}

// Repository はイベントストアへのアクセスと購読を提供する。全クライアントで共有される。
type Repository struct {
	store     repository.EventRepository
	notifier  ChangeNotifier
	markup    security.MarkupDetector
	recorder  Recorder
	logger    *slog.Logger
	location  *time.Location
	now       func() time.Time
}

// NewRepository はRepositoryを生成する。recorderはnilでもよい。
// locationは日付検証における「今日」の基準となるタイムゾーン。
func NewRepository(
	store repository.EventRepository,
	notifier ChangeNotifier,
	markup security.MarkupDetector,
	recorder Recorder,
	location *time.Location,
	logger *slog.Logger,
) *Repository {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		store:     store,
		notifier:  notifier,
		markup:    markup,
		recorder:  recorder,
		logger:    logger,
		location:  location,
		now:       time.Now,
	}
}

// Subscribe は主催者のイベント一覧を購読する。
// 初回の一覧と、以後の変更のたびに全件を取得し直した一覧をonNextへ渡す。
// 取得に失敗した場合はonErrorを一度だけ呼び出して購読を終了する（再試行しない）。
// 返り値の解除関数は冪等で、配信ゴルーチンの終了を待つ。コールバック内から呼び出してはならない。
func (r *Repository) Subscribe(ctx context.Context, ownerID string, onNext func([]model.Event), onError func(error)) func() {
	changes, cancelNotify := r.notifier.Notify(ownerID)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	r.recorder.SubscriptionOpened()
	go func() {
		defer close(done)
		defer r.recorder.SubscriptionClosed()
		defer cancelNotify()

		for {
			list, err := r.store.ListByOrganizer(ctx, ownerID)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				r.recorder.RecordRepositoryError(model.RepoOpSubscribe)
				r.logger.Error("event subscription failed",
					slog.String("organizer_id", ownerID),
					slog.String("error", err.Error()),
				)
				onError(model.NewRepositoryError(model.RepoOpSubscribe, err))
				return
			}

			r.recorder.RecordSnapshot(len(list))
			onNext(list)

			select {
			case <-ctx.Done():
				return
			case <-changes:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Create は入力を検証してイベントを作成する。
// テキストは前後の空白だけを除いて入力どおりに保存し、マークアップを含む場合は拒否する。
// 検証違反は*model.ValidationError、ストアの失敗は*model.RepositoryErrorを返す。
func (r *Repository) Create(ctx context.Context, input model.EventInput, owner *model.Identity) (*model.Event, error) {
	input = model.EventInput{
		Name:        strings.TrimSpace(input.Name),
		Location:    strings.TrimSpace(input.Location),
		Date:        strings.TrimSpace(input.Date),
		Description: strings.TrimSpace(input.Description),
	}

	now := r.now()
	err := Validate(input, now.In(r.location))
	if err == nil {
		err = r.checkMarkup(input)
	}
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			r.recorder.RecordValidationFailure(string(vErr.Reason))
		}
		return nil, err
	}

	organizerName := owner.DisplayName
	if organizerName == "" {
		organizerName = AnonymousOrganizerName
	}

	ts := now.UTC()
	event := &model.Event{
		Name:           input.Name,
		Location:       input.Location,
		Date:           input.Date,
		Description:    input.Description,
		CreatedAt:      ts,
		UpdatedAt:      ts,
		OrganizerID:    owner.ID,
		OrganizerName:  organizerName,
		OrganizerEmail: owner.Email,
		OrganizerPhone: owner.PhoneNumber,
		Status:         model.EventStatusPublished,
		Attendees:      0,
		MaxAttendees:   nil,
	}

	if err := r.store.Create(ctx, event); err != nil {
		r.recorder.RecordRepositoryError(model.RepoOpCreate)
		r.logger.Error("failed to create event",
			slog.String("organizer_id", owner.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewRepositoryError(model.RepoOpCreate, err)
	}

	r.recorder.RecordEventCreated()
	r.logger.Info("event created",
		slog.String("event_id", event.ID),
		slog.String("organizer_id", owner.ID),
	)
	return event, nil
}

// checkMarkup は名称、会場、説明の順にマークアップの有無を確認する。
func (r *Repository) checkMarkup(input model.EventInput) error {
	if r.markup == nil {
		return nil
	}
	for _, f := range []struct {
		field string
		value string
	}{
		{"name", input.Name},
		{"location", input.Location},
		{"description", input.Description},
	} {
		if r.markup.ContainsMarkup(f.value) {
			return model.NewValidationError(f.field, model.ValidationMarkup)
		}
	}
	return nil
}

// Delete は指定IDのイベントを削除する。所有者は確認しない。
// 存在しないIDの削除は成功として扱う。
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteByID(ctx, id); err != nil {
		r.recorder.RecordRepositoryError(model.RepoOpDelete)
		r.logger.Error("failed to delete event",
			slog.String("event_id", id),
			slog.String("error", err.Error()),
		)
		return model.NewRepositoryError(model.RepoOpDelete, err)
	}

	r.recorder.RecordEventDeleted()
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RecordEventCreated()            {}
func (nopRecorder) RecordEventDeleted()            {}
func (nopRecorder) RecordValidationFailure(string) {}
func (nopRecorder) RecordRepositoryError(string)   {}
func (nopRecorder) RecordSnapshot(int)             {}
func (nopRecorder) SubscriptionOpened()            {}
func (nopRecorder) SubscriptionClosed()            {}
