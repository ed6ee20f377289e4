package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"contentcal/internal/calendar"
	"contentcal/internal/localstore"
	"contentcal/internal/remote"
)

const baseURL = "http://api.test"

type fakeRemote struct {
	mu        sync.Mutex
	events    []remote.Event
	listErr   error
	lists     int
	created   []remote.EventInput
	createErr error
	uploads   []string
	nextImage int

	// When set, ListEvents signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	// When set, UploadImage signals uploadEntered and waits for uploadRelease.
	uploadEntered chan struct{}
	uploadRelease chan struct{}
}

func (f *fakeRemote) ListEvents(ctx context.Context) ([]remote.Event, error) {
	f.mu.Lock()
	f.lists++
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return []remote.Event{}, f.listErr
	}
	return append([]remote.Event(nil), f.events...), nil
}

func (f *fakeRemote) CreateEvent(ctx context.Context, in remote.EventInput) (*remote.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &remote.Event{ID: remote.ID(fmt.Sprint(len(f.created))), Title: in.Title, Date: in.Date}, nil
}

func (f *fakeRemote) UploadImage(ctx context.Context, filename string, data []byte) (*remote.UploadedImage, error) {
	f.mu.Lock()
	entered, release := f.uploadEntered, f.uploadRelease
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filename)
	if strings.HasPrefix(filename, "fail") {
		return nil, errors.New("upload rejected")
	}
	f.nextImage++
	return &remote.UploadedImage{
		ID:  int64(f.nextImage),
		URL: fmt.Sprintf("%s/uploads/image-%d.png", baseURL, f.nextImage),
	}, nil
}

func (f *fakeRemote) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

type fixture struct {
	remote   *fakeRemote
	slot     *localstore.MemorySlot
	store    *localstore.Adapter
	renderer *TextRenderer
	session  *Session
}

var march2024 = calendar.MonthKey{Year: 2024, Month: 3}

func newFixture(t *testing.T, fr *fakeRemote) *fixture {
	t.Helper()
	f := &fixture{
		remote:   fr,
		slot:     &localstore.MemorySlot{},
		renderer: NewTextRenderer(),
	}
	f.store = localstore.New(f.slot)
	f.session = f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) *Session {
	t.Helper()
	s, err := Open(Config{
		Remote:   f.remote,
		Store:    f.store,
		Renderer: f.renderer,
		BaseURL:  baseURL,
		Location: time.UTC,
		Now:      func() time.Time { return time.Date(2024, 3, 10, 15, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	return s
}

func TestOpenDefaultsToCurrentMonth(t *testing.T) {
	f := newFixture(t, &fakeRemote{})
	assert.Equal(t, march2024, f.session.Current())
	assert.Zero(t, f.remote.listCount(), "open does not contact the backend")
}

func TestLoadMonthReconcilesOnce(t *testing.T) {
	fr := &fakeRemote{events: []remote.Event{
		{ID: "7", Title: "Launch", Date: "2024-03-15T00:00:00.000Z", ImageURL: "/uploads/a.png"},
		{ID: "8", Title: "April", Date: "2024-04-02"},
	}}
	f := newFixture(t, fr)
	ctx := context.Background()

	require.NoError(t, f.session.LoadMonth(ctx, march2024))
	assert.True(t, f.session.Tracker().IsLoaded(march2024))

	day := calendar.DayKey{Year: 2024, Month: 3, Day: 15}
	shown := f.renderer.Day(day)
	require.Len(t, shown, 1)
	assert.Equal(t, "backend_7", shown[0].ID)
	assert.Equal(t, []string{baseURL + "/uploads/a.png"}, shown[0].Images)
	assert.False(t, f.renderer.HasPlaceholder(day))
	assert.True(t, f.renderer.HasPlaceholder(calendar.DayKey{Year: 2024, Month: 3, Day: 16}))

	_, records := f.session.Cache().Len()
	assert.Equal(t, 1, records, "April event is not merged into March")

	require.NoError(t, f.session.LoadMonth(ctx, march2024))
	assert.Equal(t, 1, fr.listCount(), "loaded month is only redisplayed")
	assert.Len(t, f.renderer.Day(day), 1)

	// Persisted: a fresh session sees the merged record.
	reopened := f.open(t)
	_, ok := reopened.Cache().Record("backend_7")
	assert.True(t, ok)
}

func TestLoadMonthFailedListKeepsMonthUnloaded(t *testing.T) {
	fr := &fakeRemote{listErr: errors.New("connection refused")}
	f := newFixture(t, fr)
	ctx := context.Background()

	saved, err := f.session.SaveContent(ctx, Draft{Day: calendar.DayKey{Year: 2024, Month: 3, Day: 4}, Title: "local"})
	require.NoError(t, err)

	err = f.session.LoadMonth(ctx, march2024)
	require.Error(t, err)
	assert.False(t, f.session.Tracker().IsLoaded(march2024))
	assert.False(t, f.session.Tracker().IsLoading(march2024))

	shown := f.renderer.Day(saved.Day)
	require.Len(t, shown, 1, "cached content stays on screen")
	assert.Equal(t, saved.ID, shown[0].ID)

	fr.mu.Lock()
	fr.listErr = nil
	fr.events = []remote.Event{{ID: "1", Date: "2024-03-04"}}
	fr.mu.Unlock()

	require.NoError(t, f.session.LoadMonth(ctx, march2024))
	assert.Equal(t, 2, fr.listCount(), "next load tries again")
	assert.Len(t, f.renderer.Day(saved.Day), 2)
}

func TestConcurrentLoadFetchesOnce(t *testing.T) {
	fr := &fakeRemote{
		events:  []remote.Event{{ID: "1", Date: "2024-03-01"}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f := newFixture(t, fr)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- f.session.LoadMonth(ctx, march2024) }()
	<-fr.entered

	assert.True(t, f.session.Tracker().IsLoading(march2024))
	require.NoError(t, f.session.LoadMonth(ctx, march2024))

	close(fr.release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, fr.listCount())
	assert.Len(t, f.renderer.Day(calendar.DayKey{Year: 2024, Month: 3, Day: 1}), 1)
}

func TestRefreshRefetches(t *testing.T) {
	fr := &fakeRemote{}
	f := newFixture(t, fr)
	ctx := context.Background()

	require.NoError(t, f.session.LoadMonth(ctx, march2024))
	fr.mu.Lock()
	fr.events = []remote.Event{{ID: "5", Date: "2024-03-20"}}
	fr.mu.Unlock()

	require.NoError(t, f.session.Refresh(ctx))
	assert.Equal(t, 2, fr.listCount())
	assert.Len(t, f.renderer.Day(calendar.DayKey{Year: 2024, Month: 3, Day: 20}), 1)
}

func TestNavigatePersistsMonth(t *testing.T) {
	fr := &fakeRemote{}
	f := newFixture(t, fr)
	ctx := context.Background()

	require.NoError(t, f.session.Navigate(ctx, -3))
	want := calendar.MonthKey{Year: 2023, Month: 12}
	assert.Equal(t, want, f.session.Current())
	assert.True(t, f.session.Tracker().IsLoaded(want))

	reopened := f.open(t)
	assert.Equal(t, want, reopened.Current())

	assert.Error(t, f.session.GoTo(ctx, calendar.MonthKey{Year: 2024, Month: 13}))
}

func TestSaveContent(t *testing.T) {
	fr := &fakeRemote{}
	f := newFixture(t, fr)
	ctx := context.Background()
	require.NoError(t, f.session.LoadMonth(ctx, march2024))

	day := calendar.DayKey{Year: 2024, Month: 3, Day: 21}
	rec, err := f.session.SaveContent(ctx, Draft{
		Day:     day,
		Title:   "Spring post",
		Status:  "approved",
		Format:  "Carousel",
		Caption: "hello",
		Attachments: []Attachment{
			{Name: "a.png", Data: []byte("png")},
			{Name: "notes.txt", Data: []byte("plain text")},
			{Name: "fail.jpg", Data: []byte("jpg")},
			{Name: "b.bin", ContentType: "image/webp", Data: []byte("webp")},
		},
	})
	require.NoError(t, err)

	assert.Regexp(t, `^content_\d+_1_[0-9a-z]{9}$`, rec.ID)
	assert.Equal(t, "Approved", rec.StatusText)
	assert.Equal(t, "green", rec.StatusColor)
	assert.Equal(t, []string{baseURL + "/uploads/image-1.png", baseURL + "/uploads/image-2.png"}, rec.Images)
	assert.Equal(t, []string{"a.png", "fail.jpg", "b.bin"}, fr.uploads, "non-image files are not uploaded")

	shown := f.renderer.Day(day)
	require.Len(t, shown, 1)
	assert.Equal(t, rec.ID, shown[0].ID)

	require.Len(t, fr.created, 1)
	assert.Equal(t, remote.EventInput{
		Title:       "Spring post",
		Date:        "2024-03-21T00:00:00.000Z",
		Description: "hello",
		ImageURL:    "/uploads/image-1.png",
	}, fr.created[0])

	reopened := f.open(t)
	got, err := reopened.View(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Spring post", got.Title)
}

func TestSaveContentKeepsLocalRecordWhenBackendFails(t *testing.T) {
	fr := &fakeRemote{createErr: errors.New("503")}
	f := newFixture(t, fr)

	rec, err := f.session.SaveContent(context.Background(), Draft{Day: calendar.DayKey{Year: 2024, Month: 5, Day: 1}})
	require.NoError(t, err)
	require.Len(t, fr.created, 1)
	assert.Equal(t, "Untitled event", fr.created[0].Title)

	_, err = f.session.View(rec.ID)
	assert.NoError(t, err)
	assert.Empty(t, f.renderer.Day(rec.Day), "other months are not drawn")
}

func TestSaveContentRejectsMissingDate(t *testing.T) {
	f := newFixture(t, &fakeRemote{})
	_, err := f.session.SaveContent(context.Background(), Draft{Title: "x"})
	assert.ErrorIs(t, err, ErrInvalidDate)
	_, err = f.session.SaveContent(context.Background(), Draft{Day: calendar.DayKey{Year: 2024, Month: 2, Day: 30}})
	assert.ErrorIs(t, err, ErrInvalidDate)
	assert.Zero(t, f.slot.Writes())
}

func TestSaveContentCapsAttachments(t *testing.T) {
	fr := &fakeRemote{}
	f := newFixture(t, fr)

	files := make([]Attachment, 60)
	for i := range files {
		files[i] = Attachment{Name: fmt.Sprintf("%d.png", i), Data: []byte("x")}
	}
	rec, err := f.session.SaveContent(context.Background(), Draft{Day: calendar.DayKey{Year: 2024, Month: 3, Day: 2}, Attachments: files})
	require.NoError(t, err)
	assert.Len(t, fr.uploads, 50)
	assert.Len(t, rec.Images, 50)
}

func TestDeleteContent(t *testing.T) {
	fr := &fakeRemote{}
	f := newFixture(t, fr)
	ctx := context.Background()
	require.NoError(t, f.session.LoadMonth(ctx, march2024))

	day := calendar.DayKey{Year: 2024, Month: 3, Day: 8}
	a, err := f.session.SaveContent(ctx, Draft{Day: day, Title: "a"})
	require.NoError(t, err)
	b, err := f.session.SaveContent(ctx, Draft{Day: day, Title: "b"})
	require.NoError(t, err)

	require.NoError(t, f.session.DeleteContent(a.ID))
	assert.Len(t, f.renderer.Day(day), 1)
	assert.False(t, f.renderer.HasPlaceholder(day))

	require.NoError(t, f.session.DeleteContent(b.ID))
	assert.Empty(t, f.renderer.Day(day))
	assert.True(t, f.renderer.HasPlaceholder(day))

	assert.ErrorIs(t, f.session.DeleteContent(b.ID), ErrNotFound)
	_, err = f.session.View(b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, fr.created, 2, "delete is local only")
}

func TestStatusStyle(t *testing.T) {
	for key, want := range map[string][2]string{
		"pending":  {"Pending", "orange"},
		"APPROVED": {"Approved", "green"},
		"adjusted": {"Adjusted", "purple"},
		"adjust":   {"Needs adjustment", "red"},
		"draft":    {"draft", "gray"},
	} {
		text, color := StatusStyle(key)
		assert.Equal(t, want, [2]string{text, color}, key)
	}
}

func TestTextRendererPrint(t *testing.T) {
	fr := &fakeRemote{events: []remote.Event{{ID: "7", Title: "Launch", Date: "2024-03-15"}}}
	f := newFixture(t, fr)
	require.NoError(t, f.session.LoadMonth(context.Background(), march2024))

	var buf bytes.Buffer
	require.NoError(t, f.renderer.Print(&buf, false))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "March 2024\n"))
	assert.Contains(t, out, "Fri 15  Launch [From backend] Static  backend_7")
	assert.Equal(t, 2, strings.Count(out, "\n"))

	buf.Reset()
	require.NoError(t, f.renderer.Print(&buf, true))
	assert.Equal(t, 32, strings.Count(buf.String(), "\n"))
}

func TestRunAutoRefreshStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	fr := &fakeRemote{}
	f := newFixture(t, fr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.session.RunAutoRefresh(ctx, "@every 1s") }()

	require.Eventually(t, func() bool { return fr.listCount() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, f.session.RunAutoRefresh(context.Background(), "not a schedule"))
}

func TestSaveContentDoesNotBlockNavigationDuringUpload(t *testing.T) {
	fr := &fakeRemote{
		uploadEntered: make(chan struct{}),
		uploadRelease: make(chan struct{}),
	}
	f := newFixture(t, fr)
	ctx := context.Background()
	require.NoError(t, f.session.GoTo(ctx, march2024))

	type result struct {
		rec calendar.ContentRecord
		err error
	}
	saved := make(chan result, 1)
	go func() {
		rec, err := f.session.SaveContent(ctx, Draft{
			Day:         march2024.Day(5),
			Title:       "Slow upload",
			Attachments: []Attachment{{Name: "a.png", ContentType: "image/png", Data: []byte("png")}},
		})
		saved <- result{rec, err}
	}()
	<-fr.uploadEntered

	navigated := make(chan error, 1)
	go func() { navigated <- f.session.Navigate(ctx, 1) }()
	select {
	case err := <-navigated:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		close(fr.uploadRelease)
		t.Fatal("navigation blocked while an upload was in flight")
	}
	assert.Equal(t, march2024.Add(1), f.session.Current())

	close(fr.uploadRelease)
	res := <-saved
	require.NoError(t, res.err)
	assert.True(t, f.session.Cache().Contains(march2024.Day(5), res.rec.ID))
	assert.Len(t, res.rec.Images, 1)
}
