package livechat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAppendKeepsInsertionOrder(t *testing.T) {
	s := NewStore()
	now := time.Now()
	require.True(t, s.Append(Message{ID: "b", CreatedAt: now}))
	require.True(t, s.Append(Message{ID: "a", CreatedAt: now.Add(-time.Hour)}))
	assert.False(t, s.Append(Message{}), "zero message is rejected")

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].ID)
	assert.Equal(t, "a", msgs[1].ID)
}

func TestStoreReplace(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "srv-0"})
	s.Append(Message{ID: "tmp-1", Body: "gm", Status: StatusPending})
	s.Append(Message{ID: "srv-2"})

	t.Run("KeepsPosition", func(t *testing.T) {
		ok := s.Replace("tmp-1", Message{ID: "srv-1", Body: "gm", Status: StatusPending})
		require.True(t, ok)
		msgs := s.Messages()
		assert.Equal(t, "srv-1", msgs[1].ID)
		assert.Equal(t, StatusConfirmed, msgs[1].Status)
	})

	t.Run("MissingTempIDIsNoop", func(t *testing.T) {
		before := s.Messages()
		assert.False(t, s.Replace("tmp-9", Message{ID: "srv-9"}))
		assert.Equal(t, before, s.Messages())
	})
}

func TestStoreSetStatusNeverReopensConfirmed(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "srv-1", Status: StatusConfirmed})
	assert.False(t, s.SetStatus("srv-1", StatusPending, nil))
	m, _ := s.Find("srv-1")
	assert.Equal(t, StatusConfirmed, m.Status)
}

func TestStoreFindUnconfirmedByContent(t *testing.T) {
	s := NewStore()
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Append(Message{ID: "tmp-1", AuthorID: "u1", Body: "hi", CreatedAt: at, Status: StatusPending})

	_, ok := s.FindUnconfirmedByContent("u1", "hi", at.Add(5*time.Second), 10*time.Second)
	assert.True(t, ok)
	_, ok = s.FindUnconfirmedByContent("u1", "hi", at.Add(time.Minute), 10*time.Second)
	assert.False(t, ok, "outside window")
	_, ok = s.FindUnconfirmedByContent("u2", "hi", at, 10*time.Second)
	assert.False(t, ok, "other author")
}

func TestShouldAppend(t *testing.T) {
	s := NewStore()
	s.Append(Message{ID: "srv-42"})
	assert.False(t, ShouldAppend(Message{ID: "srv-42"}, s))
	assert.True(t, ShouldAppend(Message{ID: "srv-43"}, s))
}
