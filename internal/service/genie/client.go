package genie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/metrics"
	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/model/space"
)

const (
	apiPrefix              = "/api/2.0/genie/spaces"
	defaultResultCacheSize = 256
	maxErrorBody           = 512
	userAgent              = "genie-room/1.0"
)

// TokenSource supplies the bearer token for each call.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config describes the Genie workspace the client talks to.
type Config struct {
	Host            string
	SpaceID         string
	// WarehouseID is reported for the space when Genie does not name one.
	WarehouseID     string
	Timeout         time.Duration
	ResultCacheSize int
}

// Client wraps the Genie conversation REST API.
type Client struct {
	http        *resty.Client
	spaceID     string
	warehouseID string
	tokens      TokenSource
	results     *lru.Cache
}

type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		base := c.http.BaseURL
		c.http = resty.NewWithClient(httpClient).
			SetBaseURL(base).
			SetHeader("User-Agent", userAgent)
	}
}

// NewClient creates a Client for one workspace host.
func NewClient(cfg Config, tokens TokenSource, opts ...Option) (*Client, error) {
	base, err := hostURL(cfg.Host)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		return nil, errors.New("genie: token source must not be nil")
	}

	size := cfg.ResultCacheSize
	if size <= 0 {
		size = defaultResultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("genie: create result cache: %w", err)
	}

	httpClient := resty.New().
		SetBaseURL(base).
		SetHeader("User-Agent", userAgent)
	if cfg.Timeout > 0 {
		httpClient.SetTimeout(cfg.Timeout)
	}

	c := &Client{
		http:        httpClient,
		spaceID:     strings.TrimSpace(cfg.SpaceID),
		warehouseID: strings.TrimSpace(cfg.WarehouseID),
		tokens:      tokens,
		results:     cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SpaceID returns the default space the client was configured with.
func (c *Client) SpaceID() string {
	return c.spaceID
}

func hostURL(host string) (string, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return "", errors.New("genie: host must not be empty")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if _, err := url.Parse(host); err != nil {
		return "", fmt.Errorf("genie: invalid host %q: %w", host, err)
	}
	return strings.TrimRight(host, "/"), nil
}

func (c *Client) resolveSpace(spaceID string) string {
	if s := strings.TrimSpace(spaceID); s != "" {
		return s
	}
	return c.spaceID
}

func spacePath(spaceID string, parts ...string) string {
	segments := append([]string{apiPrefix, url.PathEscape(spaceID)}, parts...)
	return strings.Join(segments, "/")
}

// StartConversation opens a new Genie conversation with its first question.
func (c *Client) StartConversation(ctx context.Context, spaceID, question string) (PollHandle, error) {
	const op = "start_conversation"
	spaceID = c.resolveSpace(spaceID)

	var resp startConversationResponse
	if err := c.do(ctx, op, http.MethodPost, spacePath(spaceID, "start-conversation"), contentRequest{Content: question}, &resp); err != nil {
		return PollHandle{}, err
	}

	handle := PollHandle{SpaceID: spaceID, ConversationID: resp.ConversationID, MessageID: resp.MessageID}
	if handle.ConversationID == "" && resp.Conversation != nil {
		handle.ConversationID = resp.Conversation.ID
	}
	if handle.MessageID == "" && resp.Message != nil {
		handle.MessageID = resp.Message.messageID()
	}
	if handle.ConversationID == "" || handle.MessageID == "" {
		return PollHandle{}, malformed(op, errors.New("conversation_id or message_id missing"))
	}
	return handle, nil
}

// SendMessage posts a follow-up question to an existing conversation.
func (c *Client) SendMessage(ctx context.Context, spaceID, conversationID, question string) (PollHandle, error) {
	const op = "send_message"
	spaceID = c.resolveSpace(spaceID)

	var msg wireMessage
	path := spacePath(spaceID, "conversations", url.PathEscape(conversationID), "messages")
	if err := c.do(ctx, op, http.MethodPost, path, contentRequest{Content: question}, &msg); err != nil {
		return PollHandle{}, err
	}

	handle := PollHandle{SpaceID: spaceID, ConversationID: conversationID, MessageID: msg.messageID()}
	if handle.MessageID == "" {
		return PollHandle{}, malformed(op, errors.New("message_id missing"))
	}
	return handle, nil
}

// PollStatus fetches the message and, once complete, its query result.
// Terminal results are cached so repeated polls return identical fields.
func (c *Client) PollStatus(ctx context.Context, handle PollHandle) (PollResult, error) {
	const op = "get_message"
	handle.SpaceID = c.resolveSpace(handle.SpaceID)

	if cached, ok := c.results.Get(handle.key()); ok {
		return cached.(PollResult), nil
	}

	var msg wireMessage
	path := spacePath(handle.SpaceID, "conversations", url.PathEscape(handle.ConversationID), "messages", url.PathEscape(handle.MessageID))
	if err := c.do(ctx, op, http.MethodGet, path, nil, &msg); err != nil {
		return PollResult{}, err
	}

	result, err := normalizeMessage(op, msg)
	if err != nil {
		return PollResult{}, err
	}
	if result.MessageID == "" {
		result.MessageID = handle.MessageID
	}

	if result.RemoteStatus == remoteResultExpired && result.queryAttachmentID != "" {
		if err := c.ExecuteQuery(ctx, handle, result.queryAttachmentID); err != nil {
			return PollResult{}, err
		}
		log.Info().
			Str("conversation_id", handle.ConversationID).
			Str("message_id", handle.MessageID).
			Msg("query result expired, re-executing")
		result.Status = StatusPending
		result.Error = ""
		return result, nil
	}

	if result.Status == StatusCompleted && len(result.SuggestedQuestions) == 0 {
		result.SuggestedQuestions = c.lookupSuggestions(ctx, handle)
	}

	if result.Status == StatusCompleted && result.queryAttachmentID != "" {
		columns, rows, err := c.GetQueryResult(ctx, handle, result.queryAttachmentID)
		if err != nil {
			return PollResult{}, err
		}
		result.Columns = columns
		result.Rows = rows
	}

	if result.Status.Terminal() {
		c.results.Add(handle.key(), result)
	}
	return result, nil
}

// Message is a conversation message as listed by Genie.
type Message struct {
	ID                 string
	Status             string
	SuggestedQuestions []string
}

// ListMessages returns every message of a conversation, oldest first. The
// listing carries suggested questions that a single message fetch may omit.
func (c *Client) ListMessages(ctx context.Context, spaceID, conversationID string) ([]Message, error) {
	const op = "list_messages"
	spaceID = c.resolveSpace(spaceID)

	var resp listMessagesResponse
	if err := c.do(ctx, op, http.MethodGet, spacePath(spaceID, "conversations", url.PathEscape(conversationID), "messages"), nil, &resp); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, msg := range resp.Messages {
		m := Message{ID: msg.messageID(), Status: strings.ToUpper(msg.Status)}
		for _, attachment := range msg.Attachments {
			if questions, ok := parseSuggestedQuestions(attachment.SuggestedQuestions); ok {
				m.SuggestedQuestions = questions
			}
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// lookupSuggestions finds the suggested questions for a completed message in
// the conversation listing. Failures only cost the suggestions.
func (c *Client) lookupSuggestions(ctx context.Context, handle PollHandle) []string {
	messages, err := c.ListMessages(ctx, handle.SpaceID, handle.ConversationID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("conversation_id", handle.ConversationID).
			Str("message_id", handle.MessageID).
			Msg("could not list messages for suggested questions")
		return nil
	}
	return suggestionsFor(messages, handle.MessageID)
}

// suggestionsFor prefers the message itself, then the reply that follows it,
// then the newest message in the conversation.
func suggestionsFor(messages []Message, messageID string) []string {
	for i, msg := range messages {
		if msg.ID != messageID {
			continue
		}
		if len(msg.SuggestedQuestions) > 0 {
			return msg.SuggestedQuestions
		}
		if i+1 < len(messages) {
			return messages[i+1].SuggestedQuestions
		}
		return nil
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].SuggestedQuestions
	}
	return nil
}

// GetQueryResult returns the columns and rows produced by a query attachment.
func (c *Client) GetQueryResult(ctx context.Context, handle PollHandle, attachmentID string) ([]conversation.Column, []conversation.Row, error) {
	const op = "get_query_result"
	handle.SpaceID = c.resolveSpace(handle.SpaceID)

	var resp queryResultResponse
	path := spacePath(handle.SpaceID, "conversations", url.PathEscape(handle.ConversationID),
		"messages", url.PathEscape(handle.MessageID), "attachments", url.PathEscape(attachmentID), "query-result")
	if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return nil, nil, err
	}
	return normalizeQueryResult(op, resp)
}

// ExecuteQuery asks Genie to run an attachment's SQL again.
func (c *Client) ExecuteQuery(ctx context.Context, handle PollHandle, attachmentID string) error {
	const op = "execute_query"
	handle.SpaceID = c.resolveSpace(handle.SpaceID)

	path := spacePath(handle.SpaceID, "conversations", url.PathEscape(handle.ConversationID),
		"messages", url.PathEscape(handle.MessageID), "attachments", url.PathEscape(attachmentID), "execute-query")
	return c.do(ctx, op, http.MethodPost, path, nil, nil)
}

// SendFeedback rates a Genie answer. rating is POSITIVE, NEGATIVE or NONE.
func (c *Client) SendFeedback(ctx context.Context, handle PollHandle, rating string) error {
	const op = "send_feedback"
	handle.SpaceID = c.resolveSpace(handle.SpaceID)

	path := spacePath(handle.SpaceID, "conversations", url.PathEscape(handle.ConversationID),
		"messages", url.PathEscape(handle.MessageID), "feedback")
	return c.do(ctx, op, http.MethodPost, path, feedbackRequest{Rating: rating}, nil)
}

// GetSpace fetches the configured space's title, description and sample questions.
func (c *Client) GetSpace(ctx context.Context) (space.Info, error) {
	const op = "get_space"

	var resp spaceResponse
	path := spacePath(c.spaceID) + "?include_serialized_space=true"
	if err := c.do(ctx, op, http.MethodGet, path, nil, &resp); err != nil {
		return space.Info{}, err
	}
	info := normalizeSpace(resp, c.spaceID)
	if info.WarehouseID == "" {
		info.WarehouseID = c.warehouseID
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	start := time.Now()
	err := c.execute(ctx, op, method, path, body, out)
	metrics.ObserveGenieRequest(op, outcome(err), time.Since(start))
	if err != nil {
		log.Debug().Err(err).Str("operation", op).Str("path", path).Msg("genie call failed")
	}
	return err
}

func (c *Client) execute(ctx context.Context, op, method, path string, body, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		var gerr *Error
		if errors.As(err, &gerr) {
			return err
		}
		return &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("resolve token: %w", err)}
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if token != "" {
		req.SetAuthToken(token)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &Error{Kind: KindTransient, Op: op, Err: err}
	}

	if resp.IsError() {
		return &Error{
			Kind:       classifyStatus(resp.StatusCode()),
			Op:         op,
			StatusCode: resp.StatusCode(),
			Body:       truncate(strings.TrimSpace(resp.String()), maxErrorBody),
		}
	}

	if out == nil {
		return nil
	}
	raw := resp.Body()
	if len(raw) == 0 {
		return malformed(op, errors.New("empty response body"))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Error().
			Err(err).
			Str("operation", op).
			Str("body", truncate(string(raw), maxErrorBody)).
			Msg("unexpected Genie response shape")
		return malformed(op, err)
	}
	return nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := KindOf(err); ok {
		return string(kind)
	}
	return "cancelled"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
