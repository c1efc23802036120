package store

import (
	"context"
	"testing"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/common"
	"github.com/stretchr/testify/require"
)

func TestNotes_AddAssignsStrictlyIncreasingTimes(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t, WithClock(fixedClock(1_000)))
	n := s.Notes("alice-bob")

	t1, err := n.Add(ctx, &models.Note{Text: "one"})
	require.NoError(t, err)
	t2, err := n.Add(ctx, &models.Note{Text: "two"})
	require.NoError(t, err)
	t3, err := n.Add(ctx, &models.Note{Time: 500, Text: "older"})
	require.NoError(t, err)

	require.Equal(t, int64(1_000), t1)
	require.Equal(t, int64(1_001), t2)
	require.Equal(t, int64(1_002), t3)

	got, err := n.Get(ctx, t2)
	require.NoError(t, err)
	require.Equal(t, "two", got.Text)
	require.Equal(t, "alice-bob", got.SessionID)
}

func TestNotes_TimesSurviveReopen(t *testing.T) {
	ctx := context.Background()
	s, path := openTemp(t, WithClock(fixedClock(1_000)))
	_, err := s.Notes("c").Add(ctx, &models.Note{Text: "a"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(ctx, path, testPass, nil, WithClock(fixedClock(1_000)))
	require.NoError(t, err)
	defer s2.Close()
	tm, err := s2.Notes("c").Add(ctx, &models.Note{Text: "b"})
	require.NoError(t, err)
	require.Equal(t, int64(1_001), tm)
}

func TestNotes_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s, _ := openTemp(t, WithClock(fixedClock(5_000)))
	n := s.Notes("alice-bob")

	c := models.BuildChat(alice(), bob(), nil)
	out := models.NewOutgoing(c, "hello")
	tm, err := n.Add(ctx, &out)
	require.NoError(t, err)

	_, err = n.Add(ctx, &models.Note{Received: 4_000, From: "bob@example.org", Text: "hi"})
	require.NoError(t, err)

	unsent, err := n.Unsent(ctx)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	require.Equal(t, tm, unsent[0].Time)
	require.Zero(t, unsent[0].Sent)

	require.NoError(t, n.MarkSent(ctx, tm, 6_000))
	require.ErrorIs(t, n.MarkSent(ctx, tm, 7_000), common.ErrAlreadySent)

	got, err := n.Get(ctx, tm)
	require.NoError(t, err)
	require.Equal(t, int64(6_000), got.Sent)

	unsent, err = n.Unsent(ctx)
	require.NoError(t, err)
	require.Empty(t, unsent)

	last, err := n.LastReceived(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(4_000), last)

	all, err := n.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestNotes_MarkSentUnknown(t *testing.T) {
	s, _ := openTemp(t)
	err := s.Notes("x").MarkSent(context.Background(), 42, 1)
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestNotes_PutRequiresTime(t *testing.T) {
	s, _ := openTemp(t)
	require.Error(t, s.Notes("x").Put(context.Background(), models.Note{Text: "no key"}))
}

func TestNotes_SameHandle(t *testing.T) {
	s, _ := openTemp(t)
	require.Same(t, s.Notes("x"), s.Notes("x"))
	require.NotSame(t, s.Notes("x"), s.Notes("y"))
}
