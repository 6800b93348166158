package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/dom"
)

const imgA = "https://img.example/a.jpg"

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestLifecycleHappyPath(t *testing.T) {
	s := New()

	st, err := s.MarkPending(imgA, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st.Status)
	assert.Equal(t, dom.ElementID(1), st.Element)

	_, err = s.MarkAnalyzing(imgA, 1)
	require.NoError(t, err)

	st, err = s.MarkCompleted(imgA, "흰색 셔츠 상세 이미지", 1)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, st.Status)
	assert.Empty(t, st.LastError)

	text, ok := s.CachedAltText(imgA)
	assert.True(t, ok)
	assert.Equal(t, "흰색 셔츠 상세 이미지", text)
}

func TestErrorThenRetry(t *testing.T) {
	s := New()
	_, _ = s.MarkPending(imgA, 1)
	_, _ = s.MarkAnalyzing(imgA, 1)

	st, err := s.MarkError(imgA, "timeout", 1)
	require.NoError(t, err)
	assert.Equal(t, "timeout", st.LastError)
	_, ok := s.CachedAltText(imgA)
	assert.False(t, ok)

	st, err = s.MarkPending(imgA, 1)
	require.NoError(t, err)
	assert.Empty(t, st.LastError)

	st, err = s.MarkAnalyzing(imgA, 1)
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
}

func TestInvalidTransitions(t *testing.T) {
	s := New()

	_, err := s.MarkAnalyzing(imgA, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition, "analyzing requires pending")

	_, err = s.MarkCompleted(imgA, "x", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, _ = s.MarkPending(imgA, 1)
	_, _ = s.MarkAnalyzing(imgA, 1)
	_, _ = s.MarkCompleted(imgA, "x", 1)

	_, err = s.MarkPending(imgA, 2)
	assert.ErrorIs(t, err, ErrInvalidTransition, "completed entries are never reset")
	text, ok := s.CachedAltText(imgA)
	assert.True(t, ok)
	assert.Equal(t, "x", text)

	_, err = s.MarkPending("", 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	s := New(WithClock(fixedClock()))

	a, _ := s.MarkPending(imgA, 1)
	b, _ := s.MarkAnalyzing(imgA, 1)
	c, _ := s.MarkError(imgA, "boom", 1)

	assert.True(t, b.UpdatedAt.After(a.UpdatedAt))
	assert.True(t, c.UpdatedAt.After(b.UpdatedAt))
}

func TestBindReturnsPreviousAndUnbindsOldIdentity(t *testing.T) {
	s := New()
	const imgB = "https://img.example/b.jpg"

	_, _ = s.MarkPending(imgA, 7)
	assert.Equal(t, "", s.Bind(7, imgA))
	assert.Equal(t, imgA, s.Bind(7, imgA))

	assert.Equal(t, imgA, s.Bind(7, imgB))
	st, _ := s.Get(imgA)
	assert.Zero(t, st.Element, "old identity no longer references the element")

	url, ok := s.URLFor(7)
	assert.True(t, ok)
	assert.Equal(t, imgB, url)
}

func TestBindingKeepsOtherElementsReference(t *testing.T) {
	s := New()
	_, _ = s.MarkPending(imgA, 1)
	s.Bind(1, imgA)
	s.Bind(2, imgA)

	assert.Equal(t, imgA, s.Unbind(1))
	st, _ := s.Get(imgA)
	assert.Equal(t, dom.ElementID(2), st.Element)

	assert.Equal(t, "", s.Unbind(1))
}

func TestSnapshotOrdered(t *testing.T) {
	s := New()
	_, _ = s.MarkPending("https://img.example/z.jpg", 0)
	_, _ = s.MarkPending(imgA, 0)

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, imgA, snap[0].URL)
	assert.Equal(t, 2, s.Len())
}
