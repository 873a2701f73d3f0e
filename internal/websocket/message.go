package websocket

import "github.com/isdelr/clinicops/internal/models"

// Message defines the structure for websocket messages.
type Message struct {
	Action  string      `json:"action"`
	Payload interface{} `json:"payload"`
}

const ActionEvent = "event"

// NewEventMessage wraps a journal event.
func NewEventMessage(e models.Event) Message {
	return Message{Action: ActionEvent, Payload: e}
}
