package conversation

import "time"

// Conversation is a thread of turns exchanged with one Genie space.
type Conversation struct {
	ID        string    `json:"id"`
	RemoteID  string    `json:"remoteId,omitempty"`
	SpaceID   string    `json:"spaceId"`
	CreatedAt time.Time `json:"createdAt"`
	Turns     []Turn    `json:"turns"`
}

// LastTurn returns the most recent turn, if any.
func (c Conversation) LastTurn() (Turn, bool) {
	if len(c.Turns) == 0 {
		return Turn{}, false
	}
	return c.Turns[len(c.Turns)-1], true
}

// Pending reports whether the conversation has a turn still awaiting Genie.
func (c Conversation) Pending() bool {
	last, ok := c.LastTurn()
	return ok && last.Status == StatusPending
}
