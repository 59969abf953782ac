package conversation_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	conversation "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
)

func completedStatus() *model.Status {
	s := model.StatusCompleted
	return &s
}

func TestStoreGetConversation(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "space-1")
	if err != nil {
		t.Fatalf("CreateConversation err: %v", err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation err: %v", err)
	}
	if got.ID != conv.ID {
		t.Fatalf("unexpected conversation ID: got %s want %s", got.ID, conv.ID)
	}
	if got.SpaceID != "space-1" {
		t.Fatalf("unexpected space ID: got %s", got.SpaceID)
	}
}

func TestStoreGetConversationNotFound(t *testing.T) {
	store := conversation.NewStore()

	_, err := store.GetConversation(context.Background(), "missing")
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestStoreAppendTurnUnknownConversation(t *testing.T) {
	store := conversation.NewStore()

	_, err := store.AppendTurn(context.Background(), "missing", "hello")
	require.ErrorIs(t, err, conversation.ErrConversationNotFound)
}

func TestStoreAppendTurnRequiresQuestion(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "space")

	_, err := store.AppendTurn(ctx, conv.ID, "   ")
	require.ErrorIs(t, err, conversation.ErrQuestionRequired)
}

func TestStoreAppendPreservesOrder(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, "space")
	require.NoError(t, err)

	questions := []string{"first", "second", "third", "fourth"}
	for _, q := range questions {
		turn, err := store.AppendTurn(ctx, conv.ID, q)
		require.NoError(t, err)
		_, err = store.UpdateTurn(ctx, turn.Handle(), model.TurnUpdate{Status: completedStatus()})
		require.NoError(t, err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, len(questions))
	for i, q := range questions {
		require.Equal(t, q, got.Turns[i].Question)
	}
}

func TestStoreRejectsAppendWhilePending(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "space")

	_, err := store.AppendTurn(ctx, conv.ID, "first")
	require.NoError(t, err)

	_, err = store.AppendTurn(ctx, conv.ID, "second")
	require.ErrorIs(t, err, conversation.ErrConversationBusy)

	got, _ := store.GetConversation(ctx, conv.ID)
	require.Len(t, got.Turns, 1)
}

func TestStoreUpdateTurnFinalizes(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "space")
	turn, _ := store.AppendTurn(ctx, conv.ID, "q")

	answer := "1,204 shipments"
	updated, err := store.UpdateTurn(ctx, turn.Handle(), model.TurnUpdate{
		Answer: &answer,
		Rows:   []model.Row{{"count": 1204}},
		Status: completedStatus(),
	})
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, updated.Status)
	require.NotNil(t, updated.CompletedAt)

	other := "changed"
	_, err = store.UpdateTurn(ctx, turn.Handle(), model.TurnUpdate{Answer: &other})
	require.ErrorIs(t, err, conversation.ErrTurnFinalized)

	got, _ := store.GetTurn(ctx, turn.Handle())
	require.Equal(t, answer, got.Answer)
}

func TestStoreSnapshotIsDetached(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "space")
	turn, _ := store.AppendTurn(ctx, conv.ID, "q")
	_, err := store.UpdateTurn(ctx, turn.Handle(), model.TurnUpdate{
		SuggestedQuestions: []string{"a", "b"},
	})
	require.NoError(t, err)

	snap, _ := store.GetConversation(ctx, conv.ID)
	snap.Turns[0].SuggestedQuestions[0] = "mutated"
	snap.Turns[0].Question = "mutated"

	again, _ := store.GetConversation(ctx, conv.ID)
	require.Equal(t, "q", again.Turns[0].Question)
	require.Equal(t, "a", again.Turns[0].SuggestedQuestions[0])
}

func TestStoreRowsAreDetached(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "space")
	turn, _ := store.AppendTurn(ctx, conv.ID, "q")

	source := []model.Row{{"month": "2024-05", "count": 1204}}
	updated, err := store.UpdateTurn(ctx, turn.Handle(), model.TurnUpdate{
		Columns: []model.Column{{Name: "month"}, {Name: "count"}},
		Rows:    source,
		Status:  completedStatus(),
	})
	require.NoError(t, err)

	source[0]["count"] = 0
	updated.Rows[0]["count"] = -1
	snap, _ := store.GetTurn(ctx, turn.Handle())
	snap.Rows[0]["month"] = "mutated"

	again, err := store.GetTurn(ctx, turn.Handle())
	require.NoError(t, err)
	require.Equal(t, model.Row{"month": "2024-05", "count": 1204}, again.Rows[0])
}

func TestStoreListConversationsCreationOrder(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		conv, err := store.CreateConversation(ctx, "space")
		require.NoError(t, err)
		ids = append(ids, conv.ID)
	}
	require.NoError(t, store.DeleteConversation(ctx, ids[2]))

	list := store.ListConversations(ctx)
	require.Len(t, list, 4)
	require.Equal(t, []string{ids[0], ids[1], ids[3], ids[4]}, []string{list[0].ID, list[1].ID, list[2].ID, list[3].ID})
}

func TestStoreFeedbackAndRemoteBinding(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "space")
	turn, _ := store.AppendTurn(ctx, conv.ID, "q")

	require.NoError(t, store.BindRemote(ctx, conv.ID, "remote-1"))
	got, err := store.SetFeedback(ctx, turn.Handle(), model.FeedbackPositive)
	require.NoError(t, err)
	require.Equal(t, model.FeedbackPositive, got.Feedback)

	snap, _ := store.GetConversation(ctx, conv.ID)
	require.Equal(t, "remote-1", snap.RemoteID)

	_, err = store.SetFeedback(ctx, model.TurnHandle{ConversationID: conv.ID, TurnID: "nope"}, model.FeedbackNegative)
	require.ErrorIs(t, err, conversation.ErrTurnNotFound)
}

func TestStoreConcurrentReadersSeeWholeTurns(t *testing.T) {
	store := conversation.NewStore()
	ctx := context.Background()

	convs := make([]string, 8)
	for i := range convs {
		conv, _ := store.CreateConversation(ctx, "space")
		convs[i] = conv.ID
	}

	var wg sync.WaitGroup
	for i, id := range convs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				turn, err := store.AppendTurn(ctx, id, fmt.Sprintf("q-%d-%d", i, j))
				if err != nil {
					t.Errorf("AppendTurn err: %v", err)
					return
				}
				if _, err := store.UpdateTurn(ctx, turn.Handle(), model.TurnUpdate{Status: completedStatus()}); err != nil {
					t.Errorf("UpdateTurn err: %v", err)
					return
				}
			}
		}(i, id)

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				snap, err := store.GetConversation(ctx, id)
				if err != nil {
					t.Errorf("GetConversation err: %v", err)
					return
				}
				for _, turn := range snap.Turns {
					if turn.Question == "" || turn.ID == "" {
						t.Errorf("observed partially written turn: %+v", turn)
						return
					}
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range convs {
		snap, _ := store.GetConversation(ctx, id)
		require.Len(t, snap.Turns, 50)
	}
}
