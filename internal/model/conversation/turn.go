package conversation

import "time"

// Status is the lifecycle state of a turn.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Feedback is the user's rating of an answer.
type Feedback string

const (
	FeedbackNone     Feedback = "none"
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// ParseFeedback validates a rating supplied by the presentation layer.
func ParseFeedback(raw string) (Feedback, bool) {
	switch Feedback(raw) {
	case FeedbackNone, FeedbackPositive, FeedbackNegative:
		return Feedback(raw), true
	case "":
		return FeedbackNone, true
	default:
		return "", false
	}
}

// FailureKind classifies why a turn failed.
type FailureKind string

const (
	FailureTransient  FailureKind = "transient"
	FailurePermission FailureKind = "permission"
	FailureNotFound   FailureKind = "not_found"
	FailureTimeout    FailureKind = "timeout"
	FailureMalformed  FailureKind = "malformed"
	FailureRejected   FailureKind = "rejected"
	FailureUpstream   FailureKind = "upstream"
	FailureCancelled  FailureKind = "cancelled"
	FailureInternal   FailureKind = "internal"
)

// Failure is the user-visible explanation attached to a failed turn.
type Failure struct {
	Kind      FailureKind `json:"kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

// Column describes one column of a result set, in result order.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Row maps column names to values. The store hands out copies, so changing
// a row never reaches stored or cached results.
type Row map[string]any

// Turn is one question/answer exchange.
type Turn struct {
	ID                 string     `json:"id"`
	ConversationID     string     `json:"conversationId"`
	MessageID          string     `json:"messageId,omitempty"`
	Question           string     `json:"question"`
	Answer             string     `json:"answer,omitempty"`
	QueryDescription   string     `json:"queryDescription,omitempty"`
	SQL                string     `json:"sql,omitempty"`
	Columns            []Column   `json:"columns,omitempty"`
	Rows               []Row      `json:"rows,omitempty"`
	SuggestedQuestions []string   `json:"suggestedQuestions,omitempty"`
	Status             Status     `json:"status"`
	Failure            *Failure   `json:"failure,omitempty"`
	Feedback           Feedback   `json:"feedback"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// Handle returns the address of the turn within its conversation.
func (t Turn) Handle() TurnHandle {
	return TurnHandle{ConversationID: t.ConversationID, TurnID: t.ID}
}

// TurnHandle addresses a turn inside a conversation.
type TurnHandle struct {
	ConversationID string `json:"conversationId"`
	TurnID         string `json:"turnId"`
}

// TurnUpdate carries a partial update; nil fields are left untouched.
type TurnUpdate struct {
	MessageID          *string
	Answer             *string
	QueryDescription   *string
	SQL                *string
	Columns            []Column
	Rows               []Row
	SuggestedQuestions []string
	Status             *Status
	Failure            *Failure
}
