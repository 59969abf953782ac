package genie

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/model/space"
)

// Status is the adapter's three-way view of a Genie message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether polling can stop.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

const (
	remoteCompleted      = "COMPLETED"
	remoteFailed         = "FAILED"
	remoteError          = "ERROR"
	remoteCancelled      = "CANCELLED"
	remoteResultExpired  = "QUERY_RESULT_EXPIRED"
	defaultFailureReason = "Genie could not answer this question"
)

// PollHandle addresses an in-flight Genie message.
type PollHandle struct {
	SpaceID        string `json:"spaceId"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (h PollHandle) key() string {
	return h.SpaceID + "/" + h.ConversationID + "/" + h.MessageID
}

// PollResult is a Genie message normalized into turn fields.
type PollResult struct {
	Status             Status
	RemoteStatus       string
	MessageID          string
	Answer             string
	QueryDescription   string
	SQL                string
	Columns            []conversation.Column
	Rows               []conversation.Row
	SuggestedQuestions []string
	Error              string

	queryAttachmentID string
}

func mapStatus(remote string) Status {
	switch strings.ToUpper(remote) {
	case remoteCompleted:
		return StatusCompleted
	case remoteFailed, remoteError, remoteCancelled, remoteResultExpired:
		return StatusFailed
	default:
		return StatusPending
	}
}

func normalizeMessage(op string, msg wireMessage) (PollResult, error) {
	if strings.TrimSpace(msg.Status) == "" {
		return PollResult{}, malformed(op, errors.New("message status missing"))
	}

	result := PollResult{
		Status:       mapStatus(msg.Status),
		RemoteStatus: strings.ToUpper(msg.Status),
		MessageID:    msg.messageID(),
	}

	textFound := false
	for idx, attachment := range msg.Attachments {
		if questions, ok := parseSuggestedQuestions(attachment.SuggestedQuestions); ok {
			result.SuggestedQuestions = questions
		} else if len(attachment.SuggestedQuestions) > 0 {
			log.Warn().
				Int("attachment", idx).
				Str("message_id", result.MessageID).
				Msg("suggested_questions has unexpected shape")
		}

		if attachment.Text != nil && !textFound {
			result.Answer = attachment.Text.Content
			textFound = true
		}
		if attachment.Query != nil && result.SQL == "" {
			result.SQL = attachment.Query.Query
			result.QueryDescription = attachment.Query.Description
			result.queryAttachmentID = attachment.AttachmentID
		}
	}

	if !textFound {
		switch {
		case result.QueryDescription != "":
			result.Answer = result.QueryDescription
		case len(msg.Attachments) == 0 && msg.Content != nil && result.SQL == "":
			result.Answer = *msg.Content
		}
	}

	if result.Status == StatusFailed {
		switch {
		case msg.Error != nil && msg.Error.Error != "":
			result.Error = msg.Error.Error
		case result.RemoteStatus == remoteCancelled:
			result.Error = "The question was cancelled before Genie answered"
		case result.RemoteStatus == remoteResultExpired:
			result.Error = "The query result has expired"
		default:
			result.Error = defaultFailureReason
		}
	}

	if result.Status == StatusCompleted && result.Answer == "" && result.SQL == "" {
		result.Answer = "No response available"
	}

	return result, nil
}

// parseSuggestedQuestions accepts {"questions": [...]} and reports false for any other shape.
func parseSuggestedQuestions(raw json.RawMessage) ([]string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	var payload struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Questions == nil {
		return nil, false
	}
	return payload.Questions, true
}

func normalizeQueryResult(op string, resp queryResultResponse) ([]conversation.Column, []conversation.Row, error) {
	if resp.StatementResponse == nil {
		return nil, nil, malformed(op, errors.New("statement_response missing"))
	}

	var columns []conversation.Column
	if m := resp.StatementResponse.Manifest; m != nil && m.Schema != nil {
		for _, col := range m.Schema.Columns {
			columns = append(columns, conversation.Column{Name: col.Name, Type: col.TypeName})
		}
	}

	var data [][]any
	if resp.StatementResponse.Result != nil {
		data = resp.StatementResponse.Result.DataArray
	}

	if len(columns) == 0 && len(data) > 0 {
		for i := range data[0] {
			columns = append(columns, conversation.Column{Name: fmt.Sprintf("column_%d", i)})
		}
	}

	rows := make([]conversation.Row, 0, len(data))
	for i, values := range data {
		if len(values) > len(columns) {
			return nil, nil, malformed(op, fmt.Errorf("row %d has %d values for %d columns", i, len(values), len(columns)))
		}
		row := make(conversation.Row, len(columns))
		for j, col := range columns {
			if j < len(values) {
				row[col.Name] = values[j]
			} else {
				row[col.Name] = nil
			}
		}
		rows = append(rows, row)
	}

	return columns, rows, nil
}

func normalizeSpace(resp spaceResponse, fallbackID string) space.Info {
	info := space.Info{
		ID:              resp.SpaceID,
		Title:           resp.Title,
		Description:     resp.Description,
		WarehouseID:     resp.WarehouseID,
		SampleQuestions: []string{},
	}
	if info.ID == "" {
		info.ID = fallbackID
	}
	if info.Title == "" {
		info.Title = resp.DisplayName
	}
	if info.Title == "" {
		info.Title = resp.Name
	}

	if resp.SerializedSpace == "" {
		return info
	}

	var cfg serializedSpace
	if err := json.Unmarshal([]byte(resp.SerializedSpace), &cfg); err != nil {
		log.Error().Err(err).Str("space_id", info.ID).Msg("failed to parse serialized_space")
		return info
	}

	if info.Description == "" {
		info.Description = cfg.Config.Description
	}
	for _, item := range cfg.Config.SampleQuestions {
		if q, ok := firstQuestion(item.Question); ok {
			info.SampleQuestions = append(info.SampleQuestions, q)
		}
	}
	return info
}

// firstQuestion reads a sample question stored either as a string or a list of strings.
func firstQuestion(raw json.RawMessage) (string, bool) {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) > 0 && list[0] != "" {
			return list[0], true
		}
		return "", false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return single, true
	}
	return "", false
}
