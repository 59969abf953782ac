package conversation

import (
	"context"
	"errors"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTurnNotFound         = errors.New("turn not found")
	ErrConversationBusy     = errors.New("conversation has a pending turn")
	ErrTurnFinalized        = errors.New("turn already finalized")
	ErrQuestionRequired     = errors.New("question is required")
)

type record struct {
	conversation conversation.Conversation
	turns        []conversation.Turn
}

// Store keeps conversations in memory for the lifetime of the process.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*record
	order         []string
	now           func() time.Time
}

// NewStore bootstraps an empty in-memory store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*record),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// CreateConversation provisions an empty conversation against a Genie space.
func (s *Store) CreateConversation(_ context.Context, spaceID string) (conversation.Conversation, error) {
	conv := conversation.Conversation{
		ID:        uuid.NewString(),
		SpaceID:   spaceID,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.conversations[conv.ID] = &record{
		conversation: conv,
		turns:        make([]conversation.Turn, 0, 8),
	}
	s.order = append(s.order, conv.ID)
	s.mu.Unlock()

	conv.Turns = []conversation.Turn{}
	return conv, nil
}

// AppendTurn adds a pending turn. Only one turn per conversation may be pending.
func (s *Store) AppendTurn(_ context.Context, conversationID, question string) (conversation.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return conversation.Turn{}, ErrQuestionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return conversation.Turn{}, ErrConversationNotFound
	}
	if n := len(rec.turns); n > 0 && rec.turns[n-1].Status == conversation.StatusPending {
		return conversation.Turn{}, ErrConversationBusy
	}

	now := s.now()
	turn := conversation.Turn{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Question:       question,
		Status:         conversation.StatusPending,
		Feedback:       conversation.FeedbackNone,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	rec.turns = append(rec.turns, turn)
	return copyTurn(turn), nil
}

// UpdateTurn applies a partial update to a pending turn.
func (s *Store) UpdateTurn(_ context.Context, handle conversation.TurnHandle, update conversation.TurnUpdate) (conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn, err := s.lookupLocked(handle)
	if err != nil {
		return conversation.Turn{}, err
	}
	if turn.Status.Terminal() {
		return copyTurn(*turn), ErrTurnFinalized
	}

	if update.MessageID != nil {
		turn.MessageID = *update.MessageID
	}
	if update.Answer != nil {
		turn.Answer = *update.Answer
	}
	if update.QueryDescription != nil {
		turn.QueryDescription = *update.QueryDescription
	}
	if update.SQL != nil {
		turn.SQL = *update.SQL
	}
	if update.Columns != nil {
		turn.Columns = append([]conversation.Column(nil), update.Columns...)
	}
	if update.Rows != nil {
		turn.Rows = copyRows(update.Rows)
	}
	if update.SuggestedQuestions != nil {
		turn.SuggestedQuestions = append([]string(nil), update.SuggestedQuestions...)
	}
	if update.Failure != nil {
		failure := *update.Failure
		turn.Failure = &failure
	}

	now := s.now()
	turn.UpdatedAt = now
	if update.Status != nil {
		turn.Status = *update.Status
		if turn.Status.Terminal() {
			turn.CompletedAt = &now
		}
	}

	return copyTurn(*turn), nil
}

// SetFeedback records the user's rating of a turn.
func (s *Store) SetFeedback(_ context.Context, handle conversation.TurnHandle, feedback conversation.Feedback) (conversation.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn, err := s.lookupLocked(handle)
	if err != nil {
		return conversation.Turn{}, err
	}
	turn.Feedback = feedback
	turn.UpdatedAt = s.now()
	return copyTurn(*turn), nil
}

// BindRemote stores the Genie conversation id once the first turn is dispatched.
func (s *Store) BindRemote(_ context.Context, conversationID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	rec.conversation.RemoteID = remoteID
	return nil
}

// GetConversation returns a snapshot of the conversation with its turns in order.
func (s *Store) GetConversation(_ context.Context, conversationID string) (conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.conversations[conversationID]
	if !ok {
		return conversation.Conversation{}, ErrConversationNotFound
	}
	return snapshot(rec), nil
}

// GetTurn returns a snapshot of a single turn.
func (s *Store) GetTurn(_ context.Context, handle conversation.TurnHandle) (conversation.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turn, err := s.lookupLocked(handle)
	if err != nil {
		return conversation.Turn{}, err
	}
	return copyTurn(*turn), nil
}

// ListConversations returns every conversation in creation order.
func (s *Store) ListConversations(_ context.Context) []conversation.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]conversation.Conversation, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, snapshot(s.conversations[id]))
	}
	return items
}

// DeleteConversation destroys a conversation and its turns.
func (s *Store) DeleteConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, conversationID)
	for i, id := range s.order {
		if id == conversationID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) lookupLocked(handle conversation.TurnHandle) (*conversation.Turn, error) {
	rec, ok := s.conversations[handle.ConversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	for i := range rec.turns {
		if rec.turns[i].ID == handle.TurnID {
			return &rec.turns[i], nil
		}
	}
	return nil, ErrTurnNotFound
}

func snapshot(rec *record) conversation.Conversation {
	conv := rec.conversation
	conv.Turns = make([]conversation.Turn, len(rec.turns))
	for i, turn := range rec.turns {
		conv.Turns[i] = copyTurn(turn)
	}
	return conv
}

// copyTurn detaches slices and pointers so callers can't reach into the store.
func copyTurn(t conversation.Turn) conversation.Turn {
	if t.Columns != nil {
		t.Columns = append([]conversation.Column(nil), t.Columns...)
	}
	if t.Rows != nil {
		t.Rows = copyRows(t.Rows)
	}
	if t.SuggestedQuestions != nil {
		t.SuggestedQuestions = append([]string(nil), t.SuggestedQuestions...)
	}
	if t.Failure != nil {
		failure := *t.Failure
		t.Failure = &failure
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		t.CompletedAt = &completed
	}
	return t
}

func copyRows(rows []conversation.Row) []conversation.Row {
	out := make([]conversation.Row, len(rows))
	for i, row := range rows {
		out[i] = maps.Clone(row)
	}
	return out
}
