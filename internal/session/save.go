package session

import (
	"context"
	"strings"
	"time"

	"contentcal/internal/calendar"
	appLog "contentcal/internal/log"
	"contentcal/internal/remote"
)

const (
	// maxAttachments is how many files of one save are considered.
	maxAttachments    = 50
	defaultEventTitle = "Untitled event"
)

// Attachment is a file picked for a post.
type Attachment struct {
	Name string
	// ContentType is guessed from Name and Data when empty.
	ContentType string
	Data        []byte
}

// Draft is the user input of the "new content" form.
type Draft struct {
	Day         calendar.DayKey
	Title       string
	Status      string
	Format      string
	Caption     string
	Attachments []Attachment
}

type statusStyle struct {
	text  string
	color string
}

var statuses = map[string]statusStyle{
	"pending":  {text: "Pending", color: "orange"},
	"approved": {text: "Approved", color: "green"},
	"adjusted": {text: "Adjusted", color: "purple"},
	"adjust":   {text: "Needs adjustment", color: "red"},
}

// StatusStyle returns the label and color of a status key. Unknown keys are
// shown as given, in gray.
func StatusStyle(key string) (text, color string) {
	if st, ok := statuses[strings.ToLower(strings.TrimSpace(key))]; ok {
		return st.text, st.color
	}
	return key, "gray"
}

// SaveContent stores a new post on d.Day.
//
// Image attachments are uploaded first, one at a time; a failed upload is
// left out of the post. The record is then cached, persisted and shown.
// The session lock is held only for that step, so navigation and refreshes
// are not blocked by uploads. Finally the post is sent to the backend as an event. That last step is
// best effort: its failure is logged and the local record stays.
func (s *Session) SaveContent(ctx context.Context, d Draft) (calendar.ContentRecord, error) {
	if !d.Day.Valid() {
		return calendar.ContentRecord{}, ErrInvalidDate
	}

	images := s.uploadAttachments(ctx, d.Attachments)

	statusText, statusColor := StatusStyle(d.Status)
	now := s.now()
	rec := calendar.ContentRecord{
		ID:          calendar.NewLocalID(now, s.cache.NextCounter()),
		Day:         d.Day,
		Title:       d.Title,
		StatusText:  statusText,
		StatusColor: statusColor,
		Format:      d.Format,
		Caption:     d.Caption,
		Images:      images,
		CreatedAt:   now.UTC().Format(time.RFC3339Nano),
	}

	s.mu.Lock()
	rec, err := s.cache.Insert(rec)
	if err != nil {
		s.mu.Unlock()
		return calendar.ContentRecord{}, err
	}
	s.persist()
	if s.current.Contains(d.Day) {
		s.apply([]calendar.RenderOp{
			{Kind: calendar.OpClearPlaceholder, Day: d.Day},
			{Kind: calendar.OpInsert, Day: d.Day, Record: rec},
		})
	}
	s.mu.Unlock()

	appLog.Info("content saved", "id", rec.ID, "day", d.Day.String(), "images", len(images))

	s.pushEvent(ctx, rec)
	return rec, nil
}

func (s *Session) uploadAttachments(ctx context.Context, files []Attachment) []string {
	if len(files) > maxAttachments {
		appLog.Info("too many attachments; extra files ignored", "given", len(files), "max", maxAttachments)
		files = files[:maxAttachments]
	}
	images := make([]string, 0, len(files))
	for _, f := range files {
		ctype := f.ContentType
		if ctype == "" {
			ctype = remote.ContentType(f.Name, f.Data)
		}
		if !strings.HasPrefix(ctype, "image/") {
			appLog.Debug("attachment skipped; not an image", "file", f.Name, "content_type", ctype)
			continue
		}
		img, err := s.remote.UploadImage(ctx, f.Name, f.Data)
		if err != nil {
			appLog.Error("attachment upload failed; omitted", err, "file", f.Name)
			continue
		}
		images = append(images, img.URL)
	}
	return images
}

func (s *Session) pushEvent(ctx context.Context, rec calendar.ContentRecord) {
	in := remote.EventInput{
		Title:       rec.Title,
		Date:        rec.Day.Time(s.loc).UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Description: rec.Caption,
	}
	if in.Title == "" {
		in.Title = defaultEventTitle
	}
	if len(rec.Images) > 0 {
		in.ImageURL = s.relativeURL(rec.Images[0])
	}
	if _, err := s.remote.CreateEvent(ctx, in); err != nil {
		appLog.Error("backend event create failed; content kept locally", err, "id", rec.ID)
	}
}

// relativeURL strips the backend base URL so the stored path survives a
// change of host.
func (s *Session) relativeURL(u string) string {
	if s.baseURL != "" && strings.HasPrefix(u, s.baseURL+"/") {
		return strings.TrimPrefix(u, s.baseURL)
	}
	return u
}
