// Package orchestrator drives each turn through Genie: it dispatches the
// question, polls the message until it settles and records every change in
// the conversation store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/metrics"
	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	store "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/events"
	"github.com/zhouzirui/genie-room/backend/internal/service/genie"
)

var (
	ErrClosed             = errors.New("orchestrator is closed")
	ErrTurnNotRetryable   = errors.New("only failed turns can be retried")
	ErrFeedbackNotAllowed = errors.New("feedback requires a completed turn")
)

// Genie is the subset of the Genie adapter the orchestrator drives.
type Genie interface {
	StartConversation(ctx context.Context, spaceID, question string) (genie.PollHandle, error)
	SendMessage(ctx context.Context, spaceID, conversationID, question string) (genie.PollHandle, error)
	PollStatus(ctx context.Context, handle genie.PollHandle) (genie.PollResult, error)
	SendFeedback(ctx context.Context, handle genie.PollHandle, rating string) error
}

// Publisher receives a snapshot after every turn change.
type Publisher interface {
	Publish(evt events.Event)
}

// Options tunes polling and retry behaviour.
type Options struct {
	SpaceID         string
	PollInterval    time.Duration
	PollMaxAttempts int
	Retry           RetryPolicy
}

// DefaultOptions polls every two seconds for up to a minute.
func DefaultOptions() Options {
	return Options{
		PollInterval:    2 * time.Second,
		PollMaxAttempts: 30,
		Retry:           DefaultRetryPolicy(),
	}
}

// Orchestrator owns the background loop of every in-flight turn.
type Orchestrator struct {
	store  *store.Store
	genie  Genie
	events Publisher
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]*loop
	closed bool
}

type loop struct {
	turn   conversation.TurnHandle
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an orchestrator. publisher may be nil.
func New(st *store.Store, client Genie, publisher Publisher, opts Options) *Orchestrator {
	defaults := DefaultOptions()
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = defaults.PollMaxAttempts
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = defaults.Retry
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:  st,
		genie:  client,
		events: publisher,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*loop),
	}
}

// Submit appends a pending turn and answers it in the background. An empty
// conversationID starts a new conversation.
func (o *Orchestrator) Submit(ctx context.Context, conversationID, question string) (conversation.Turn, error) {
	turn, _, err := o.submit(ctx, conversationID, question)
	return turn, err
}

// Ask submits a question and waits until its turn is completed or failed.
// If ctx ends first the pending snapshot is returned with ctx's error and the
// turn keeps going in the background.
func (o *Orchestrator) Ask(ctx context.Context, conversationID, question string) (conversation.Turn, error) {
	turn, l, err := o.submit(ctx, conversationID, question)
	if err != nil {
		return turn, err
	}

	select {
	case <-l.done:
	case <-ctx.Done():
		latest, getErr := o.store.GetTurn(ctx, turn.Handle())
		if getErr == nil {
			turn = latest
		}
		return turn, ctx.Err()
	}
	return o.store.GetTurn(ctx, turn.Handle())
}

// StartConversation opens a fresh conversation, optionally asking its first
// question. The conversation named by replaces is abandoned and removed.
func (o *Orchestrator) StartConversation(ctx context.Context, question, replaces string) (conversation.Conversation, error) {
	if o.isClosed() {
		return conversation.Conversation{}, ErrClosed
	}

	if replaces != "" {
		o.Abandon(replaces)
		if err := o.store.DeleteConversation(ctx, replaces); err != nil && !errors.Is(err, store.ErrConversationNotFound) {
			return conversation.Conversation{}, err
		}
		log.Info().Str("conversation_id", replaces).Msg("conversation replaced")
	}

	conv, err := o.store.CreateConversation(ctx, o.opts.SpaceID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if strings.TrimSpace(question) == "" {
		return conv, nil
	}

	return o.askFirst(ctx, conv, question)
}

// askFirst submits the opening question of a conversation just created. A
// conversation whose question could not be submitted is removed again.
func (o *Orchestrator) askFirst(ctx context.Context, conv conversation.Conversation, question string) (conversation.Conversation, error) {
	if _, err := o.Submit(ctx, conv.ID, question); err != nil {
		if delErr := o.store.DeleteConversation(context.Background(), conv.ID); delErr != nil && !errors.Is(delErr, store.ErrConversationNotFound) {
			log.Warn().Err(delErr).Str("conversation_id", conv.ID).Msg("could not remove unused conversation")
		}
		return conversation.Conversation{}, err
	}
	return o.store.GetConversation(ctx, conv.ID)
}

// Abandon stops polling the conversation's pending turn, if any, and waits
// for its loop to record the cancellation. The Genie request already sent is
// left alone.
func (o *Orchestrator) Abandon(conversationID string) bool {
	o.mu.Lock()
	l, ok := o.active[conversationID]
	o.mu.Unlock()
	if !ok {
		return false
	}

	l.cancel()
	<-l.done
	log.Info().
		Str("conversation_id", conversationID).
		Str("turn_id", l.turn.TurnID).
		Msg("turn abandoned")
	return true
}

// DeleteConversation abandons any pending turn and removes the conversation.
func (o *Orchestrator) DeleteConversation(ctx context.Context, conversationID string) error {
	o.Abandon(conversationID)
	return o.store.DeleteConversation(ctx, conversationID)
}

// Retry asks a failed turn's question again as a new turn.
func (o *Orchestrator) Retry(ctx context.Context, handle conversation.TurnHandle) (conversation.Turn, error) {
	turn, err := o.store.GetTurn(ctx, handle)
	if err != nil {
		return conversation.Turn{}, err
	}
	if turn.Status != conversation.StatusFailed {
		return conversation.Turn{}, ErrTurnNotRetryable
	}
	return o.Submit(ctx, handle.ConversationID, turn.Question)
}

// SendFeedback forwards the user's rating of a completed turn to Genie and
// records it locally once Genie accepted it.
func (o *Orchestrator) SendFeedback(ctx context.Context, handle conversation.TurnHandle, feedback conversation.Feedback) (conversation.Turn, error) {
	conv, err := o.store.GetConversation(ctx, handle.ConversationID)
	if err != nil {
		return conversation.Turn{}, err
	}
	turn, err := o.store.GetTurn(ctx, handle)
	if err != nil {
		return conversation.Turn{}, err
	}
	if turn.Status != conversation.StatusCompleted || turn.MessageID == "" || conv.RemoteID == "" {
		return conversation.Turn{}, ErrFeedbackNotAllowed
	}

	poll := genie.PollHandle{SpaceID: conv.SpaceID, ConversationID: conv.RemoteID, MessageID: turn.MessageID}
	_, err = withRetry(ctx, o.opts.Retry, "send_feedback", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.genie.SendFeedback(ctx, poll, rating(feedback))
	})
	if err != nil {
		return conversation.Turn{}, err
	}

	updated, err := o.store.SetFeedback(ctx, handle, feedback)
	if err != nil {
		return conversation.Turn{}, err
	}
	o.publish(events.Event{Type: events.TurnUpdated, ConversationID: updated.ConversationID, Turn: updated})
	return updated, nil
}

// Close cancels every loop and waits for them to record their turns.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) submit(ctx context.Context, conversationID, question string) (conversation.Turn, *loop, error) {
	if strings.TrimSpace(question) == "" {
		return conversation.Turn{}, nil, store.ErrQuestionRequired
	}
	if o.isClosed() {
		return conversation.Turn{}, nil, ErrClosed
	}

	if conversationID == "" {
		conv, err := o.store.CreateConversation(ctx, o.opts.SpaceID)
		if err != nil {
			return conversation.Turn{}, nil, err
		}
		conversationID = conv.ID
	}

	turn, err := o.store.AppendTurn(ctx, conversationID, question)
	if err != nil {
		return conversation.Turn{}, nil, err
	}
	o.publish(events.Event{Type: events.TurnCreated, ConversationID: conversationID, Turn: turn})

	l, err := o.launch(turn)
	if err != nil {
		failed := o.finish(turn.Handle(), conversation.StatusFailed, conversation.TurnUpdate{
			Failure: &conversation.Failure{Kind: conversation.FailureCancelled, Message: "The server is shutting down"},
		}, 0)
		return failed, nil, err
	}
	return turn, l, nil
}

func (o *Orchestrator) launch(turn conversation.Turn) (*loop, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(o.ctx)
	l := &loop{turn: turn.Handle(), cancel: cancel, done: make(chan struct{})}
	o.active[turn.ConversationID] = l
	o.wg.Add(1)

	go o.run(ctx, l, turn)
	return l, nil
}

func (o *Orchestrator) release(l *loop) {
	o.mu.Lock()
	if o.active[l.turn.ConversationID] == l {
		delete(o.active, l.turn.ConversationID)
	}
	o.mu.Unlock()
	l.cancel()
}

func (o *Orchestrator) run(ctx context.Context, l *loop, turn conversation.Turn) {
	defer o.wg.Done()
	defer close(l.done)
	defer o.release(l)

	logger := log.With().
		Str("conversation_id", turn.ConversationID).
		Str("turn_id", turn.ID).
		Logger()

	polls := 0
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("turn loop panicked")
			o.finish(l.turn, conversation.StatusFailed, conversation.TurnUpdate{
				Failure: &conversation.Failure{Kind: conversation.FailureInternal, Message: "Something went wrong while answering this question"},
			}, polls)
		}
	}()

	handle, err := o.dispatch(ctx, turn)
	if err != nil {
		logger.Warn().Err(err).Msg("dispatch failed")
		o.fail(ctx, l.turn, err, polls)
		return
	}
	messageID := handle.MessageID
	o.update(l.turn, conversation.TurnUpdate{MessageID: &messageID})
	logger = logger.With().Str("message_id", messageID).Logger()

	var last genie.PollResult
	for polls < o.opts.PollMaxAttempts {
		if polls > 0 {
			if err := sleep(ctx, o.opts.PollInterval); err != nil {
				o.fail(ctx, l.turn, err, polls)
				return
			}
		}
		polls++

		result, err := withRetry(ctx, o.opts.Retry, "poll_status", func(ctx context.Context) (genie.PollResult, error) {
			return o.genie.PollStatus(ctx, handle)
		})
		if err != nil {
			logger.Warn().Err(err).Int("attempt", polls).Msg("poll failed")
			o.fail(ctx, l.turn, err, polls)
			return
		}

		switch result.Status {
		case genie.StatusCompleted:
			o.finish(l.turn, conversation.StatusCompleted, resultUpdate(result), polls)
			logger.Info().Int("polls", polls).Msg("turn completed")
			return
		case genie.StatusFailed:
			update := resultUpdate(result)
			update.Failure = &conversation.Failure{Kind: conversation.FailureUpstream, Message: result.Error}
			o.finish(l.turn, conversation.StatusFailed, update, polls)
			logger.Info().Str("remote_status", result.RemoteStatus).Msg("genie reported failure")
			return
		default:
			if changed(last, result) {
				o.update(l.turn, resultUpdate(result))
			}
			last = result
		}
	}

	logger.Warn().Int("polls", polls).Msg("turn timed out")
	o.finish(l.turn, conversation.StatusFailed, conversation.TurnUpdate{
		Failure: &conversation.Failure{
			Kind:      conversation.FailureTimeout,
			Message:   fmt.Sprintf("Genie did not answer within %s", time.Duration(o.opts.PollMaxAttempts)*o.opts.PollInterval),
			Retryable: true,
		},
	}, polls)
}

// dispatch sends the question, starting the remote conversation on the first turn.
func (o *Orchestrator) dispatch(ctx context.Context, turn conversation.Turn) (genie.PollHandle, error) {
	conv, err := o.store.GetConversation(ctx, turn.ConversationID)
	if err != nil {
		return genie.PollHandle{}, err
	}

	if conv.RemoteID != "" {
		return withRetry(ctx, o.opts.Retry, "send_message", func(ctx context.Context) (genie.PollHandle, error) {
			return o.genie.SendMessage(ctx, conv.SpaceID, conv.RemoteID, turn.Question)
		})
	}

	handle, err := withRetry(ctx, o.opts.Retry, "start_conversation", func(ctx context.Context) (genie.PollHandle, error) {
		return o.genie.StartConversation(ctx, conv.SpaceID, turn.Question)
	})
	if err != nil {
		return genie.PollHandle{}, err
	}
	if err := o.store.BindRemote(ctx, conv.ID, handle.ConversationID); err != nil {
		return genie.PollHandle{}, err
	}
	return handle, nil
}

func (o *Orchestrator) update(handle conversation.TurnHandle, update conversation.TurnUpdate) {
	turn, err := o.store.UpdateTurn(o.ctx, handle, update)
	if err != nil {
		log.Debug().Err(err).Str("turn_id", handle.TurnID).Msg("turn update skipped")
		return
	}
	o.publish(events.ForTurn(turn))
}

func (o *Orchestrator) finish(handle conversation.TurnHandle, status conversation.Status, update conversation.TurnUpdate, polls int) conversation.Turn {
	update.Status = &status
	turn, err := o.store.UpdateTurn(context.Background(), handle, update)
	if err != nil {
		log.Debug().Err(err).Str("turn_id", handle.TurnID).Msg("turn already settled")
		return turn
	}

	kind := ""
	if turn.Failure != nil {
		kind = string(turn.Failure.Kind)
	}
	metrics.ObserveTurn(string(status), kind, polls)
	o.publish(events.ForTurn(turn))
	return turn
}

func (o *Orchestrator) fail(ctx context.Context, handle conversation.TurnHandle, err error, polls int) {
	failure := failureFor(err)
	if ctx.Err() != nil {
		failure = conversation.Failure{Kind: conversation.FailureCancelled, Message: "The question was cancelled"}
	}
	o.finish(handle, conversation.StatusFailed, conversation.TurnUpdate{Failure: &failure}, polls)
}

func (o *Orchestrator) publish(evt events.Event) {
	if o.events != nil {
		o.events.Publish(evt)
	}
}

func failureFor(err error) conversation.Failure {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return conversation.Failure{Kind: conversation.FailureCancelled, Message: "The question was cancelled"}
	}

	kind, ok := genie.KindOf(err)
	if !ok {
		return conversation.Failure{Kind: conversation.FailureInternal, Message: "Something went wrong while answering this question"}
	}
	switch kind {
	case genie.KindTransient:
		return conversation.Failure{Kind: conversation.FailureTransient, Message: "Genie is temporarily unavailable. Please try again.", Retryable: true}
	case genie.KindPermission:
		return conversation.Failure{Kind: conversation.FailurePermission, Message: "Access to the Genie space was denied. Check the app's permissions on the space and warehouse."}
	case genie.KindNotFound:
		return conversation.Failure{Kind: conversation.FailureNotFound, Message: "The Genie space or conversation could not be found."}
	case genie.KindMalformed:
		return conversation.Failure{Kind: conversation.FailureMalformed, Message: "Genie returned a response that could not be read."}
	default:
		return conversation.Failure{Kind: conversation.FailureRejected, Message: "Genie rejected the question."}
	}
}

func resultUpdate(result genie.PollResult) conversation.TurnUpdate {
	update := conversation.TurnUpdate{
		SuggestedQuestions: result.SuggestedQuestions,
		Columns:            result.Columns,
		Rows:               result.Rows,
	}
	if result.Answer != "" {
		update.Answer = &result.Answer
	}
	if result.QueryDescription != "" {
		update.QueryDescription = &result.QueryDescription
	}
	if result.SQL != "" {
		update.SQL = &result.SQL
	}
	if result.MessageID != "" {
		update.MessageID = &result.MessageID
	}
	return update
}

func changed(prev, next genie.PollResult) bool {
	return prev.RemoteStatus != next.RemoteStatus ||
		prev.Answer != next.Answer ||
		prev.SQL != next.SQL ||
		prev.QueryDescription != next.QueryDescription ||
		len(prev.SuggestedQuestions) != len(next.SuggestedQuestions)
}

func rating(feedback conversation.Feedback) string {
	switch feedback {
	case conversation.FeedbackPositive:
		return "POSITIVE"
	case conversation.FeedbackNegative:
		return "NEGATIVE"
	default:
		return "NONE"
	}
}
