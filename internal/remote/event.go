package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a backend event id. The backend emits numbers; strings are
// accepted as well.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("remote: event id %s: %w", data, err)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

// Event is one backend event as returned by GET /api/events. Date is kept
// as the raw string; its interpretation belongs to the caller.
type Event struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Date        string `json:"date"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	CreatedAt   string `json:"createdAt"`
}

// EventInput is the body of POST /api/events.
type EventInput struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// UploadedImage describes a stored upload. URL is absolute.
type UploadedImage struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}
