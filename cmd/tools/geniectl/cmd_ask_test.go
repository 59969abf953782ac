package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
)

func TestRenderTurnCompleted(t *testing.T) {
	turn := conversation.Turn{
		Question: "What were total shipments last month?",
		Answer:   "1,204 shipments",
		SQL:      "SELECT month,\n  count(*) FROM shipments",
		Columns:  []conversation.Column{{Name: "month"}, {Name: "count"}},
		Rows: []conversation.Row{
			{"month": "2024-05", "count": 1204},
			{"month": "2024-04", "count": nil},
		},
		SuggestedQuestions: []string{"By region?"},
		Status:             conversation.StatusCompleted,
	}

	var buf bytes.Buffer
	renderTurn(&buf, turn, 10)
	out := buf.String()

	assert.Contains(t, out, "A: 1,204 shipments")
	assert.Contains(t, out, "  SELECT month,\n    count(*) FROM shipments")
	assert.Contains(t, out, "MONTH")
	assert.Contains(t, out, "2024-05  1204")
	assert.Contains(t, out, "  - By region?")
}

func TestRenderTurnFailed(t *testing.T) {
	turn := conversation.Turn{
		Question: "q",
		Status:   conversation.StatusFailed,
		Failure:  &conversation.Failure{Kind: conversation.FailurePermission, Message: "denied"},
	}

	var buf bytes.Buffer
	renderTurn(&buf, turn, 10)
	assert.Contains(t, buf.String(), "denied (permission)")
}

func TestRenderTableTruncates(t *testing.T) {
	rows := make([]conversation.Row, 5)
	for i := range rows {
		rows[i] = conversation.Row{"n": i}
	}

	var buf bytes.Buffer
	renderTable(&buf, []conversation.Column{{Name: "n"}}, rows, 2)
	out := buf.String()

	assert.Equal(t, 4, strings.Count(out, "\n"))
	assert.Contains(t, out, "... 3 more rows")
}
