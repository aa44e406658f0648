package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/collabcode/relay/internal/types"
)

// Event types accepted from clients. Unknown types are rejected with an
// error event rather than silently dropped.
const (
	EventJoinProject      = "join-project"
	EventLeaveProject     = "leave-project"
	EventMessage          = "message"
	EventTyping           = "typing"
	EventCursorUpdate     = "cursor-update"
	EventSelectionUpdate  = "selection-update"
	EventCodeChange       = "code-change"
	EventPresenceUpdate   = "presence-update"
	EventCurrentFile      = "current-file"
	EventFileShare        = "file-share"
	EventScreenShareStart = "screen-share-start"
	EventScreenShareStop  = "screen-share-stop"
	EventVoiceChatStart   = "voice-chat-start"
	EventVoiceChatStop    = "voice-chat-stop"
	EventPing             = "ping"
)

// Event types emitted by the server.
const (
	EventConnectionEstablished = "connection-established"
	EventUserJoined            = "user-joined"
	EventUserLeft              = "user-left"
	EventFileChange            = "file-change"
	EventScreenShareStarted    = "screen-share-started"
	EventScreenShareStopped    = "screen-share-stopped"
	EventVoiceChatStarted      = "voice-chat-started"
	EventVoiceChatStopped      = "voice-chat-stopped"
	EventPong                  = "pong"
	EventError                 = "error"
)

// ClientEvent is the inbound wire envelope. The payload shape depends on
// Type and is decoded into one of the typed payload structs below.
type ClientEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type JoinPayload struct {
	ProjectId string `json:"projectId"`
}

type LeavePayload struct {
	ProjectId string `json:"projectId"`
}

type MessagePayload struct {
	ProjectId   string `json:"projectId"`
	Content     string `json:"content"`
	MessageType string `json:"messageType,omitempty"`
}

type TypingPayload struct {
	ProjectId string `json:"projectId"`
	File      string `json:"file"`
	IsTyping  bool   `json:"isTyping"`
}

type CursorPayload struct {
	ProjectId string         `json:"projectId"`
	File      string         `json:"file,omitempty"`
	Position  types.Position `json:"position"`
	Selection *types.Range   `json:"selection,omitempty"`
}

type SelectionPayload struct {
	ProjectId string      `json:"projectId"`
	File      string      `json:"file,omitempty"`
	Selection types.Range `json:"selection"`
}

// CodeChangePayload carries an opaque edit operation. The relay stamps a
// server timestamp and fans it out; it does not attempt to transform or
// merge concurrent edits (last writer wins above this layer).
type CodeChangePayload struct {
	ProjectId string          `json:"projectId"`
	File      string          `json:"file,omitempty"`
	Changes   json.RawMessage `json:"changes"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

type StatusPayload struct {
	Status types.Status `json:"status"`
}

type CurrentFilePayload struct {
	Filename string `json:"filename"`
}

type FileSharePayload struct {
	ProjectId string `json:"projectId"`
	Name      string `json:"name"`
	Size      int64  `json:"size,omitempty"`
	MimeType  string `json:"mimeType,omitempty"`
	Url       string `json:"url,omitempty"`
}

type CallPayload struct {
	ProjectId string `json:"projectId"`
}

// ServerEvent is the outbound wire envelope. The sender identity and the
// server-assigned timestamp live on the envelope so every payload carries
// them uniformly.
type ServerEvent struct {
	Type      string    `json:"type"`
	ProjectId string    `json:"projectId,omitempty"`
	UserId    string    `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeValidation       = "validation_error"
	errCodeNotFound         = "not_found"
	errCodeCapacityExceeded = "capacity_exceeded"
)

type WelcomePayload struct {
	Message      string `json:"message"`
	ConnectionId string `json:"connectionId"`
	UserId       string `json:"userId"`
	Username     string `json:"username"`
}

type MessageBroadcast struct {
	Id          string        `json:"id"`
	Content     string        `json:"content"`
	MessageType string        `json:"messageType,omitempty"`
	Metadata    *FileMetadata `json:"metadata,omitempty"`
}

type FileMetadata struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Url      string `json:"url,omitempty"`
}

type TypingBroadcast struct {
	File     string `json:"file"`
	IsTyping bool   `json:"isTyping"`
}

type FileChangeBroadcast struct {
	Filename string `json:"filename"`
}

func validationError(msg string) *ServerEvent {
	return &ServerEvent{
		Type:      EventError,
		Timestamp: Now(),
		Payload:   ErrorPayload{Code: errCodeValidation, Message: msg},
	}
}

func notFoundError(msg string) *ServerEvent {
	return &ServerEvent{
		Type:      EventError,
		Timestamp: Now(),
		Payload:   ErrorPayload{Code: errCodeNotFound, Message: msg},
	}
}

func capacityError(msg string) *ServerEvent {
	return &ServerEvent{
		Type:      EventError,
		Timestamp: Now(),
		Payload:   ErrorPayload{Code: errCodeCapacityExceeded, Message: msg},
	}
}

// parseClientEvent decodes and validates an inbound frame at the boundary.
// It returns the envelope plus the typed payload for the event kind.
func parseClientEvent(raw []byte) (*ClientEvent, any, error) {
	var ev ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, nil, fmt.Errorf("malformed event: %w", err)
	}

	if ev.Type == "" {
		return nil, nil, fmt.Errorf("missing event type")
	}

	switch ev.Type {
	case EventJoinProject:
		var p JoinPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		return &ev, &p, nil
	case EventLeaveProject:
		var p LeavePayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		return &ev, &p, nil
	case EventMessage:
		var p MessagePayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		if p.Content == "" {
			return nil, nil, fmt.Errorf("%s: missing content", ev.Type)
		}
		return &ev, &p, nil
	case EventTyping:
		var p TypingPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		if p.File == "" {
			return nil, nil, fmt.Errorf("%s: missing file", ev.Type)
		}
		return &ev, &p, nil
	case EventCursorUpdate:
		var p CursorPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		return &ev, &p, nil
	case EventSelectionUpdate:
		var p SelectionPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		return &ev, &p, nil
	case EventCodeChange:
		var p CodeChangePayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		if len(p.Changes) == 0 {
			return nil, nil, fmt.Errorf("%s: missing changes", ev.Type)
		}
		return &ev, &p, nil
	case EventPresenceUpdate:
		var p StatusPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if !p.Status.Valid() {
			return nil, nil, fmt.Errorf("%s: invalid status %q", ev.Type, p.Status)
		}
		return &ev, &p, nil
	case EventCurrentFile:
		var p CurrentFilePayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.Filename == "" {
			return nil, nil, fmt.Errorf("%s: missing filename", ev.Type)
		}
		return &ev, &p, nil
	case EventFileShare:
		var p FileSharePayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		if p.Name == "" {
			return nil, nil, fmt.Errorf("%s: missing name", ev.Type)
		}
		return &ev, &p, nil
	case EventScreenShareStart, EventScreenShareStop, EventVoiceChatStart, EventVoiceChatStop:
		var p CallPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return nil, nil, err
		}
		if p.ProjectId == "" {
			return nil, nil, fmt.Errorf("%s: missing projectId", ev.Type)
		}
		return &ev, &p, nil
	case EventPing:
		return &ev, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	return json.Unmarshal(raw, v)
}

func serializeEvent(ev *ServerEvent) ([]byte, error) {
	return json.Marshal(ev)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
