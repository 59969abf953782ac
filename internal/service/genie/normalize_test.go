package genie

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMapStatus(t *testing.T) {
	require.Equal(t, StatusCompleted, mapStatus("COMPLETED"))
	require.Equal(t, StatusFailed, mapStatus("FAILED"))
	require.Equal(t, StatusFailed, mapStatus("ERROR"))
	require.Equal(t, StatusFailed, mapStatus("CANCELLED"))
	for _, s := range []string{"SUBMITTED", "FETCHING_METADATA", "FILTERING_CONTEXT", "ASKING_AI", "PENDING_WAREHOUSE", "EXECUTING_QUERY"} {
		require.Equal(t, StatusPending, mapStatus(s), s)
	}
}

func TestNormalizeMessage_TextAttachmentWins(t *testing.T) {
	msg := wireMessage{ID: "m1", Status: "COMPLETED", Content: strPtr("question echo")}
	msg.Attachments = make([]wireAttachment, 1)
	msg.Attachments[0].Text = &struct {
		Content string `json:"content"`
	}{Content: "There were 1,204 shipments."}

	res, err := normalizeMessage("test", msg)
	require.NoError(t, err)
	require.Equal(t, "There were 1,204 shipments.", res.Answer)
	require.Empty(t, res.SQL)
}

func TestNormalizeMessage_ContentWithoutAttachments(t *testing.T) {
	res, err := normalizeMessage("test", wireMessage{ID: "m1", Status: "COMPLETED", Content: strPtr("Hello")})
	require.NoError(t, err)
	require.Equal(t, "Hello", res.Answer)
}

func TestNormalizeMessage_NoResponse(t *testing.T) {
	res, err := normalizeMessage("test", wireMessage{ID: "m1", Status: "COMPLETED"})
	require.NoError(t, err)
	require.Equal(t, "No response available", res.Answer)
}

func TestNormalizeMessage_FailedDefaultReason(t *testing.T) {
	res, err := normalizeMessage("test", wireMessage{ID: "m1", Status: "FAILED"})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, res.Status)
	require.Equal(t, defaultFailureReason, res.Error)
}

func TestNormalizeMessage_IgnoresOddSuggestedQuestions(t *testing.T) {
	msg := wireMessage{ID: "m1", Status: "ASKING_AI", Attachments: []wireAttachment{{SuggestedQuestions: []byte(`["bare","list"]`)}}}
	res, err := normalizeMessage("test", msg)
	require.NoError(t, err)
	require.Nil(t, res.SuggestedQuestions)
}

func TestNormalizeQueryResult_GenericColumns(t *testing.T) {
	var resp queryResultResponse
	require.NoError(t, json.Unmarshal([]byte(`{"statement_response":{"result":{"data_array":[["a","1"],["b","2"]]}}}`), &resp))

	columns, rows, err := normalizeQueryResult("test", resp)
	require.NoError(t, err)
	require.Equal(t, "column_0", columns[0].Name)
	require.Equal(t, "column_1", columns[1].Name)
	require.Len(t, rows, 2)
	require.Equal(t, "b", rows[1]["column_0"])
}

func TestNormalizeQueryResult_RowWiderThanSchema(t *testing.T) {
	var resp queryResultResponse
	require.NoError(t, json.Unmarshal([]byte(`{"statement_response":{
		"manifest":{"schema":{"columns":[{"name":"only","type_name":"STRING"}]}},
		"result":{"data_array":[["a","extra"]]}}}`), &resp))

	_, _, err := normalizeQueryResult("test", resp)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestNormalizeQueryResult_MissingStatement(t *testing.T) {
	_, _, err := normalizeQueryResult("test", queryResultResponse{})
	require.ErrorIs(t, err, ErrMalformed)
}
