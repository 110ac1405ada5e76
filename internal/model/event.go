package model

import "time"

// DateLayout はイベント日付（暦日）の表現形式。
const DateLayout = "2006-01-02"

// EventStatusPublished は作成直後のイベントステータス。
const EventStatusPublished = "published"

// Event は主催者が公開するイベントを表す。
// ID はストアが採番し、作成後に変更されない。
type Event struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Location       string    `json:"location"`
	Date           string    `json:"date"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	OrganizerID    string    `json:"organizerId"`
	OrganizerName  string    `json:"organizerName"`
	OrganizerEmail string    `json:"organizerEmail,omitempty"`
	OrganizerPhone string    `json:"organizerPhone,omitempty"`
	Status         string    `json:"status"`
	Attendees      int       `json:"attendees"`
	MaxAttendees   *int      `json:"maxAttendees"`
}

// EventInput はイベント作成フォームの入力値を表す。
type EventInput struct {
	Name        string `json:"name"`
	Location    string `json:"location"`
	Date        string `json:"date"`
	Description string `json:"description"`
}
