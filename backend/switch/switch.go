package _switch

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

var (
	ErrSendPanic = errors.New("session panicked during send")
)

type RoomIndex interface {
	Members(roomID string) []model.Session
}

// Switch fans messages out to room members. Delivery is best effort and
// at most once: failed sends are logged and never retried.
type Switch struct {
	logger zerolog.Logger
	index  RoomIndex
}

func NewSwitch(logger *zerolog.Logger, index RoomIndex) *Switch {
	return &Switch{
		logger: logger.With().Str("component", "broadcaster").Logger(),
		index:  index,
	}
}

func (sw *Switch) Broadcast(roomID string, msg model.Message) model.Delivery {
	var (
		d      model.Delivery
		logger = sw.logger.With().
			Str("room", roomID).
			Str("type", string(msg.Type())).Logger()
	)
	if ev, ok := msg.(model.Event); ok {
		logger = logger.With().Str("eventType", string(ev.EventType)).Logger()
	}

	b, err := model.Encode(msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal broadcast message")
		return d
	}

	for _, s := range sw.index.Members(roomID) {
		if !s.IsOpen() {
			continue
		}
		if err = send(s, b); err != nil {
			d.Failed++
			logger.Warn().Err(err).Str("session", s.ID()).Msg("failed to deliver message")
			continue
		}
		d.Sent++
	}

	logger.Info().
		Int("sent", d.Sent).
		Int("failed", d.Failed).
		Msg("broadcast done")
	return d
}

func send(s model.Session, b []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSendPanic, r)
		}
	}()
	return s.Send(b)
}
