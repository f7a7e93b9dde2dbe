package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"time"
)

// EventType is a game lifecycle event emitted by the minority rule contract.
type EventType string

const (
	EventGameCreated        EventType = "GameCreated"
	EventPlayerJoined       EventType = "PlayerJoined"
	EventVoteCommitted      EventType = "VoteCommitted"
	EventVoteRevealed       EventType = "VoteRevealed"
	EventRoundCompleted     EventType = "RoundCompleted"
	EventGameCompleted      EventType = "GameCompleted"
	EventCommitPhaseStarted EventType = "CommitPhaseStarted"
	EventRevealPhaseStarted EventType = "RevealPhaseStarted"
)

var eventTypes = map[EventType]struct{}{
	EventGameCreated:        {},
	EventPlayerJoined:       {},
	EventVoteCommitted:      {},
	EventVoteRevealed:       {},
	EventRoundCompleted:     {},
	EventGameCompleted:      {},
	EventCommitPhaseStarted: {},
	EventRevealPhaseStarted: {},
}

func (et EventType) Valid() bool {
	_, ok := eventTypes[et]
	return ok
}

// Global list rooms.
const (
	RoomActiveList    = "list:active"
	RoomCompletedList = "list:completed"

	gameRoomPrefix = "game:"
)

// TimestampLayout is ISO-8601 with millisecond precision, as browsers produce it.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var (
	ErrInvalidNotification = errors.New("invalid notification")
	ErrUnknownEventType    = errors.New("unknown event type")
	ErrInvalidData         = errors.New("data must be a json object")

	gameIDRe   = regexp.MustCompile(`^\d+$`)
	listRoomRe = regexp.MustCompile(`^list:(active|completed)$`)
)

func ValidGameID(gameID string) bool {
	return gameIDRe.MatchString(gameID)
}

func ValidListRoom(room string) bool {
	return listRoomRe.MatchString(room)
}

// GameRoom returns the room that receives per-game updates.
func GameRoom(gameID string) string {
	return gameRoomPrefix + gameID
}

// ListRooms returns the global list rooms that must also learn about an event.
// Clients re-query their lists themselves, the relay only signals a change.
func ListRooms(et EventType) []string {
	switch et {
	case EventGameCreated:
		return []string{RoomActiveList}
	case EventGameCompleted:
		return []string{RoomActiveList, RoomCompletedList}
	default:
		return nil
	}
}

// Session is one live client connection as seen by the relay.
type Session interface {
	ID() string
	// Send queues b for delivery. It must not block.
	Send(b []byte) error
	IsOpen() bool
	// Terminate forcibly closes the underlying transport.
	Terminate()
}

// Delivery counts the outcome of a single broadcast.
type Delivery struct {
	Sent   int
	Failed int
}

// Notification is what the upstream indexer posts for every observed contract event.
// Data is passed through to clients untouched.
type Notification struct {
	EventType EventType       `json:"eventType"`
	GameID    string          `json:"gameId"`
	Data      json.RawMessage `json:"data"`
}

func (n *Notification) Validate() error {
	if !n.EventType.Valid() {
		return errors.Join(ErrInvalidNotification, ErrUnknownEventType)
	}
	if !ValidGameID(n.GameID) {
		return errors.Join(ErrInvalidNotification, ErrInvalidGameID)
	}
	data := bytes.TrimSpace(n.Data)
	if len(data) == 0 || data[0] != '{' || !json.Valid(data) {
		return errors.Join(ErrInvalidNotification, ErrInvalidData)
	}
	return nil
}

// Rooms lists every room the notification must be broadcast to, game room first.
func (n *Notification) Rooms() []string {
	return append([]string{GameRoom(n.GameID)}, ListRooms(n.EventType)...)
}

// Event builds the outbound event stamped with now.
func (n *Notification) Event(now time.Time) Event {
	return Event{
		EventType: n.EventType,
		GameID:    n.GameID,
		Data:      n.Data,
		Timestamp: now.UTC().Format(TimestampLayout),
	}
}
