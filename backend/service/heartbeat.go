package service

import (
	"context"
	"time"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

// Heartbeat runs one liveness round. Sessions that did not answer the previous
// ping are terminated, every other session is marked pending and pinged again.
func (svc *Service) Heartbeat() {
	var dead, pending []model.Session

	svc.mx.Lock()
	for id, c := range svc.clients {
		if !c.alive {
			dead = append(dead, c.session)
			delete(svc.clients, id)
			svc.index.UnsubscribeAll(c.session)
			continue
		}
		c.alive = false
		pending = append(pending, c.session)
	}
	svc.mx.Unlock()

	for _, s := range dead {
		svc.logger.Info().Str("session", s.ID()).Msg("terminating unresponsive session")
		s.Terminate()
	}
	for _, s := range pending {
		svc.reply(s, model.Ping{})
	}
	svc.logger.Trace().
		Int("pinged", len(pending)).
		Int("terminated", len(dead)).
		Msg("heartbeat")
}

// RunHeartbeat calls Heartbeat every interval until ctx is done.
func (svc *Service) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	svc.logger.Debug().Dur("interval", interval).Msg("heartbeat started")
	for {
		select {
		case <-ctx.Done():
			svc.logger.Debug().Msg("heartbeat stopped")
			return
		case <-ticker.C:
			svc.Heartbeat()
		}
	}
}
