package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentcal/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndListEventsOrderedByDate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	later, err := s.CreateEvent(ctx, model.EventInput{
		Title: "Launch",
		Date:  time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	earlier, err := s.CreateEvent(ctx, model.EventInput{
		Title:       "Teaser",
		Date:        time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Description: "first look",
		ImageURL:    "/uploads/a.png",
	})
	require.NoError(t, err)
	assert.NotEqual(t, later.ID, earlier.ID)
	assert.False(t, earlier.CreatedAt.IsZero())

	events, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Teaser", events[0].Title)
	assert.Equal(t, "/uploads/a.png", events[0].ImageURL)
	assert.True(t, events[0].Date.Equal(earlier.Date))
	assert.Equal(t, "Launch", events[1].Title)

	n, err := s.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListEventsEmptyIsNotNil(t *testing.T) {
	s := newTestStore(t)
	events, err := s.ListEvents(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestCreateEventValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateEvent(ctx, model.EventInput{Title: "  ", Date: time.Now()})
	assert.Error(t, err)

	_, err = s.CreateEvent(ctx, model.EventInput{Title: "x"})
	assert.Error(t, err)
}

func TestGetEvent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created, err := s.CreateEvent(ctx, model.EventInput{Title: "A", Date: time.Now()})
	require.NoError(t, err)

	got, err := s.GetEvent(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Title)

	_, err = s.GetEvent(ctx, created.ID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateImage(t *testing.T) {
	s := newTestStore(t)
	img, err := s.CreateImage(context.Background(), "cat.png", "/tmp/uploads/image-1.png")
	require.NoError(t, err)
	assert.Positive(t, img.ID)
	assert.Equal(t, "cat.png", img.Filename)
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	_, err = s.CreateEvent(context.Background(), model.EventInput{Title: "mem", Date: time.Now()})
	require.NoError(t, err)
}
