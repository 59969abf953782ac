package genie

import "encoding/json"

type contentRequest struct {
	Content string `json:"content"`
}

type feedbackRequest struct {
	Rating string `json:"rating"`
}

type startConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Conversation   *struct {
		ID string `json:"id"`
	} `json:"conversation,omitempty"`
	Message *wireMessage `json:"message,omitempty"`
}

type wireMessage struct {
	ID             string           `json:"id"`
	MessageID      string           `json:"message_id"`
	ConversationID string           `json:"conversation_id"`
	Status         string           `json:"status"`
	Content        *string          `json:"content,omitempty"`
	Attachments    []wireAttachment `json:"attachments"`
	Error          *wireError       `json:"error,omitempty"`
}

type listMessagesResponse struct {
	Messages []wireMessage `json:"messages"`
}

func (m wireMessage) messageID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.ID
}

type wireError struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

type wireAttachment struct {
	AttachmentID string `json:"attachment_id"`
	Text         *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
	Query *struct {
		Query       string `json:"query"`
		Description string `json:"description"`
		Title       string `json:"title"`
		StatementID string `json:"statement_id"`
	} `json:"query,omitempty"`
	SuggestedQuestions json.RawMessage `json:"suggested_questions,omitempty"`
}

type queryResultResponse struct {
	StatementResponse *struct {
		Manifest *struct {
			Schema *struct {
				Columns []struct {
					Name     string `json:"name"`
					TypeName string `json:"type_name"`
				} `json:"columns"`
			} `json:"schema,omitempty"`
		} `json:"manifest,omitempty"`
		Result *struct {
			DataArray [][]any `json:"data_array"`
		} `json:"result,omitempty"`
	} `json:"statement_response,omitempty"`
}

type spaceResponse struct {
	SpaceID         string `json:"space_id"`
	Title           string `json:"title"`
	DisplayName     string `json:"display_name"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	WarehouseID     string `json:"warehouse_id"`
	SerializedSpace string `json:"serialized_space"`
}

type serializedSpace struct {
	Config struct {
		Description     string `json:"description"`
		SampleQuestions []struct {
			ID       string          `json:"id"`
			Question json.RawMessage `json:"question"`
		} `json:"sample_questions"`
	} `json:"config"`
}
