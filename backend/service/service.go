package service

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

type (
	RoomIndex interface {
		Subscribe(s model.Session, roomID string) bool
		Unsubscribe(s model.Session, roomID string) bool
		UnsubscribeAll(s model.Session) []string
		Rooms() map[string]int
	}

	Broadcaster interface {
		Broadcast(roomID string, msg model.Message) model.Delivery
	}

	// Service is the relay: it keeps the registry of live sessions, applies
	// their control frames to the room index and turns notifications into broadcasts.
	Service struct {
		index  RoomIndex
		sw     Broadcaster
		now    func() time.Time
		logger zerolog.Logger

		mx      *sync.Mutex
		clients map[string]*client
	}

	Config struct {
		RoomIndex   RoomIndex
		Broadcaster Broadcaster
		Logger      *zerolog.Logger
		// Clock defaults to time.Now.
		Clock func() time.Time
	}

	Stats struct {
		Connections int
		Rooms       map[string]int
	}

	client struct {
		session model.Session
		alive   bool
	}
)

func NewService(cfg Config) *Service {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		index:   cfg.RoomIndex,
		sw:      cfg.Broadcaster,
		now:     now,
		logger:  cfg.Logger.With().Str("component", "relay").Logger(),
		mx:      &sync.Mutex{},
		clients: make(map[string]*client),
	}
}

// Connect registers a freshly accepted session and sends it a ping.
func (svc *Service) Connect(s model.Session) {
	svc.mx.Lock()
	svc.clients[s.ID()] = &client{session: s, alive: true}
	svc.mx.Unlock()

	svc.logger.Debug().Str("session", s.ID()).Msg("session connected")
	svc.reply(s, model.Ping{})
}

// Disconnect drops the session from the registry and from every room it joined.
// It is safe to call more than once.
func (svc *Service) Disconnect(s model.Session) {
	svc.mx.Lock()
	_, ok := svc.clients[s.ID()]
	delete(svc.clients, s.ID())
	left := svc.index.UnsubscribeAll(s)
	svc.mx.Unlock()

	if ok {
		svc.logger.Debug().
			Str("session", s.ID()).
			Strs("rooms", left).
			Msg("session disconnected")
	}
}

// HandleFrame applies one inbound frame. Malformed frames are answered with an
// error frame and never close the session.
func (svc *Service) HandleFrame(s model.Session, frame []byte) {
	msg, err := model.Decode(frame)
	if err != nil {
		svc.logger.Debug().Err(err).Str("session", s.ID()).Msg("bad frame")
		svc.reply(s, model.Error{Message: errorText(err)})
		return
	}

	switch m := msg.(type) {
	case model.Subscribe:
		svc.subscribe(s, m.Target)
	case model.Unsubscribe:
		svc.unsubscribe(s, m.Target)
	case model.Pong:
		svc.markAlive(s)
	default:
		svc.reply(s, model.Error{Message: errorText(&model.UnknownTypeError{Type: m.Type()})})
	}
}

func (svc *Service) subscribe(s model.Session, target model.Target) {
	roomID, err := target.RoomID()
	if err != nil {
		svc.reply(s, model.Error{Message: errorText(err)})
		return
	}

	svc.mx.Lock()
	_, registered := svc.clients[s.ID()]
	if registered {
		svc.index.Subscribe(s, roomID)
	}
	svc.mx.Unlock()

	if !registered {
		svc.logger.Debug().Str("session", s.ID()).Msg("subscribe from disconnected session ignored")
		return
	}
	svc.logger.Debug().Str("session", s.ID()).Str("room", roomID).Msg("subscribed")
	svc.reply(s, model.Subscribed{Target: ackTarget(target)})
}

func (svc *Service) unsubscribe(s model.Session, target model.Target) {
	roomID, err := target.RoomID()
	if err != nil {
		svc.reply(s, model.Error{Message: errorText(err)})
		return
	}

	svc.index.Unsubscribe(s, roomID)
	svc.logger.Debug().Str("session", s.ID()).Str("room", roomID).Msg("unsubscribed")
	svc.reply(s, model.Unsubscribed{Target: ackTarget(target)})
}

// CloseAll terminates every registered session.
func (svc *Service) CloseAll() {
	svc.mx.Lock()
	sessions := make([]model.Session, 0, len(svc.clients))
	for id, c := range svc.clients {
		sessions = append(sessions, c.session)
		delete(svc.clients, id)
		svc.index.UnsubscribeAll(c.session)
	}
	svc.mx.Unlock()

	for _, s := range sessions {
		s.Terminate()
	}
	svc.logger.Info().Int("sessions", len(sessions)).Msg("all sessions closed")
}

func (svc *Service) markAlive(s model.Session) {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	if c, ok := svc.clients[s.ID()]; ok {
		c.alive = true
	}
}

// Notify validates n and broadcasts it to its game room and, for lifecycle
// transitions, to the global list rooms.
func (svc *Service) Notify(n model.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	ev := n.Event(svc.now())
	for _, roomID := range n.Rooms() {
		svc.sw.Broadcast(roomID, ev)
	}
	return nil
}

func (svc *Service) Stats() Stats {
	svc.mx.Lock()
	defer svc.mx.Unlock()
	return Stats{
		Connections: len(svc.clients),
		Rooms:       svc.index.Rooms(),
	}
}

func (svc *Service) reply(s model.Session, msg model.Message) {
	b, err := model.Encode(msg)
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to marshal reply")
		return
	}
	if err = s.Send(b); err != nil {
		svc.logger.Warn().
			Err(err).
			Str("session", s.ID()).
			Str("type", string(msg.Type())).
			Msg("failed to send reply")
	}
}

// ackTarget keeps only the field the subscription was resolved from.
func ackTarget(t model.Target) model.Target {
	if t.GameID != "" {
		return model.Target{GameID: t.GameID}
	}
	return model.Target{Room: t.Room}
}

func errorText(err error) string {
	var unknown *model.UnknownTypeError
	switch {
	case errors.As(err, &unknown):
		return "Unknown message type: " + string(unknown.Type)
	case errors.Is(err, model.ErrInvalidGameID):
		return "Invalid gameId format"
	case errors.Is(err, model.ErrInvalidRoom):
		return "Invalid room name"
	case errors.Is(err, model.ErrMissingTarget):
		return "Either gameId or room is required"
	default:
		return "Invalid message format"
	}
}
