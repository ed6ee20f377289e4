package model

import "time"

// Event is a calendar event as stored by the backend and served on
// /api/events. ImageURL is a server-relative path such as
// "/uploads/image-1700000000000-123456789.png".
type Event struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EventInput is the payload accepted by POST /api/events.
type EventInput struct {
	Title       string    `json:"title"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl"`
}

// Image records an uploaded file. Filename is the client-supplied name;
// Path is where the bytes live on disk.
type Image struct {
	ID        int64
	Filename  string
	Path      string
	CreatedAt time.Time
}
