package conversation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/compai/avatar-relay/internal/rpa"
)

// Inbound is a message received from the client. The concrete type is one of
// TaskMessage, WelcomeMessage or CloseMessage.
type Inbound interface {
	inbound()
}

// TaskMessage is a user utterance. QuestionCase is set when the user picked
// a predefined billing case.
type TaskMessage struct {
	Text         string `json:"text"`
	QuestionCase string `json:"question_case,omitempty"`
}

// WelcomeMessage asks the avatar to speak Text verbatim.
type WelcomeMessage struct {
	Text string `json:"text"`
}

// CloseMessage asks the relay to tear down the remote session.
type CloseMessage struct{}

func (TaskMessage) inbound()    {}
func (WelcomeMessage) inbound() {}
func (CloseMessage) inbound()   {}

var (
	// ErrMalformedMessage is returned for frames that are not JSON objects.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownMessageType is returned for a type outside the inbound union.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// DecodeInbound parses a client frame.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type         string `json:"type"`
		Text         string `json:"text"`
		QuestionCase string `json:"question_case"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	switch envelope.Type {
	case "task":
		return TaskMessage{Text: envelope.Text, QuestionCase: envelope.QuestionCase}, nil
	case "welcome_message":
		return WelcomeMessage{Text: envelope.Text}, nil
	case "close":
		return CloseMessage{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}
}

// EventType tags an outbound event.
type EventType string

const (
	EventSessionInfo    EventType = "session_info"
	EventProcessing     EventType = "processing"
	EventUiPathSuccess  EventType = "uipath_success"
	EventUiPathError    EventType = "uipath_error"
	EventTaskSent       EventType = "task_sent"
	EventSessionExpired EventType = "session_expired"
	EventWelcomeSent    EventType = "welcome_sent"
	EventError          EventType = "error"
)

// Event is a message pushed to the client. The concrete type is one of
// SessionInfoEvent, NoticeEvent or TaskSentEvent.
type Event interface {
	EventType() EventType
}

// SessionInfo carries the media transport credentials.
type SessionInfo struct {
	SessionID    string `json:"session_id"`
	LivekitURL   string `json:"livekit_url"`
	LivekitToken string `json:"livekit_token"`
}

// SessionInfoEvent is sent once when the channel opens.
type SessionInfoEvent struct {
	Type EventType   `json:"type"`
	Data SessionInfo `json:"data"`
}

// NoticeEvent is a typed status message.
type NoticeEvent struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
	JobID   int64     `json:"job_id,omitempty"`
}

// TaskSentEvent closes a successful turn.
type TaskSentEvent struct {
	Type            EventType          `json:"type"`
	Message         string             `json:"message"`
	TurnID          string             `json:"turn_id"`
	UserInput       string             `json:"user_input"`
	OpenAIResponse  string             `json:"openai_response"`
	UiPathTriggered bool               `json:"uipath_triggered"`
	UiPathResult    *rpa.TriggerResult `json:"uipath_result"`
}

func (e SessionInfoEvent) EventType() EventType { return e.Type }
func (e NoticeEvent) EventType() EventType      { return e.Type }
func (e TaskSentEvent) EventType() EventType    { return e.Type }

func notice(t EventType, msg string) NoticeEvent {
	return NoticeEvent{Type: t, Message: msg}
}
