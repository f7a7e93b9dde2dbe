package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

type MessageType string

// Wire message types. Subscribe, unsubscribe and pong travel client to server,
// the rest server to client.
const (
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeSubscribed   MessageType = "subscribed"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypeEvent        MessageType = "event"
	TypeError        MessageType = "error"
)

var (
	ErrInvalidFormat      = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidGameID      = errors.New("invalid gameId format")
	ErrInvalidRoom        = errors.New("invalid room name")
	ErrMissingTarget      = errors.New("either gameId or room is required")
)

// UnknownTypeError is returned by Decode for a well-formed frame of an unknown type.
type UnknownTypeError struct {
	Type MessageType
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownMessageType
}

// Message is one variant of the wire protocol.
type Message interface {
	Type() MessageType
}

type (
	Ping struct{}
	Pong struct{}

	// Target addresses either a single game or a global list room.
	Target struct {
		GameID string
		Room   string
	}

	Subscribe    struct{ Target }
	Unsubscribe  struct{ Target }
	Subscribed   struct{ Target }
	Unsubscribed struct{ Target }

	Event struct {
		EventType EventType
		GameID    string
		Data      json.RawMessage
		Timestamp string
	}

	Error struct {
		Message string
	}
)

func (Ping) Type() MessageType         { return TypePing }
func (Pong) Type() MessageType         { return TypePong }
func (Subscribe) Type() MessageType    { return TypeSubscribe }
func (Unsubscribe) Type() MessageType  { return TypeUnsubscribe }
func (Subscribed) Type() MessageType   { return TypeSubscribed }
func (Unsubscribed) Type() MessageType { return TypeUnsubscribed }
func (Event) Type() MessageType        { return TypeEvent }
func (Error) Type() MessageType        { return TypeError }

// RoomID validates the target and returns the room it refers to.
// gameId wins when both fields are set.
func (t Target) RoomID() (string, error) {
	switch {
	case t.GameID != "":
		if !ValidGameID(t.GameID) {
			return "", ErrInvalidGameID
		}
		return GameRoom(t.GameID), nil
	case t.Room != "":
		if !ValidListRoom(t.Room) {
			return "", ErrInvalidRoom
		}
		return t.Room, nil
	default:
		return "", ErrMissingTarget
	}
}

// envelope is the flat JSON shape shared by every variant.
type envelope struct {
	Type      MessageType     `json:"type"`
	GameID    string          `json:"gameId,omitempty"`
	Room      string          `json:"room,omitempty"`
	EventType EventType       `json:"eventType,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	env := envelope{Type: m.Type()}
	switch v := m.(type) {
	case Ping, Pong:
	case Subscribe:
		env.GameID, env.Room = v.GameID, v.Room
	case Unsubscribe:
		env.GameID, env.Room = v.GameID, v.Room
	case Subscribed:
		env.GameID, env.Room = v.GameID, v.Room
	case Unsubscribed:
		env.GameID, env.Room = v.GameID, v.Room
	case Event:
		env.EventType = v.EventType
		env.GameID = v.GameID
		env.Data = v.Data
		env.Timestamp = v.Timestamp
	case Error:
		env.Message = v.Message
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, m)
	}
	return json.Marshal(&env)
}

func Decode(b []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Join(ErrInvalidFormat, err)
	}
	target := Target{GameID: env.GameID, Room: env.Room}
	switch env.Type {
	case "":
		return nil, ErrInvalidFormat
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return Pong{}, nil
	case TypeSubscribe:
		return Subscribe{target}, nil
	case TypeUnsubscribe:
		return Unsubscribe{target}, nil
	case TypeSubscribed:
		return Subscribed{target}, nil
	case TypeUnsubscribed:
		return Unsubscribed{target}, nil
	case TypeEvent:
		return Event{
			EventType: env.EventType,
			GameID:    env.GameID,
			Data:      env.Data,
			Timestamp: env.Timestamp,
		}, nil
	case TypeError:
		return Error{Message: env.Message}, nil
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}
}
