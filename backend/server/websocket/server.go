package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agyn-ub/eth-minority-rule-sub000/backend/model"
)

const (
	defaultWebsocketReadBufferSize     = 4096
	defaultWebsocketWriteBufferSize    = 4096
	defaultWebSocketHandshakeTimeout   = 3 * time.Second
	defaultWebSocketCloseWriteDeadline = 2 * time.Second

	defaultSendBuffer     = 64
	defaultWriteTimeout   = 5 * time.Second
	defaultMaxMessageSize = 4096
)

type (
	RelayService interface {
		Connect(s model.Session)
		Disconnect(s model.Session)
		HandleFrame(s model.Session, frame []byte)
	}

	Config struct {
		Logger       *zerolog.Logger
		RelayService RelayService

		// SendBuffer is the per-session outbox depth. A full outbox fails the send.
		SendBuffer     int
		WriteTimeout   time.Duration
		MaxMessageSize int64
	}

	// Server upgrades HTTP requests and pumps frames between each websocket
	// and the relay service.
	Server struct {
		svc RelayService
		ws  *websocket.Upgrader

		sendBuffer     int
		writeTimeout   time.Duration
		maxMessageSize int64

		logger zerolog.Logger
	}
)

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:         cfg.Logger.With().Str("component", "websocket-server").Logger(),
		svc:            cfg.RelayService,
		sendBuffer:     cfg.SendBuffer,
		writeTimeout:   cfg.WriteTimeout,
		maxMessageSize: cfg.MaxMessageSize,
		ws: &websocket.Upgrader{
			HandshakeTimeout: defaultWebSocketHandshakeTimeout,
			ReadBufferSize:   defaultWebsocketReadBufferSize,
			WriteBufferSize:  defaultWebsocketWriteBufferSize,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	if srv.sendBuffer <= 0 {
		srv.sendBuffer = defaultSendBuffer
	}
	if srv.writeTimeout <= 0 {
		srv.writeTimeout = defaultWriteTimeout
	}
	if srv.maxMessageSize <= 0 {
		srv.maxMessageSize = defaultMaxMessageSize
	}
	return srv
}

// IsUpgrade reports whether r asks for a websocket.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.ws.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response
		srv.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	s := newSession(uuid.NewString(), conn, srv.sendBuffer)
	logger := srv.logger.With().
		Str("session", s.ID()).
		Str("remote", r.RemoteAddr).
		Logger()
	logger.Debug().Msg("websocket accepted")

	go srv.handleWSConn(s, &logger)
}

func (srv *Server) handleWSConn(s *session, logger *zerolog.Logger) {
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		if !srv.webSocketSender(wg, s, logger) {
			s.Terminate()
		}
	}()

	srv.svc.Connect(s)
	srv.webSocketReceiver(s, logger)

	srv.svc.Disconnect(s)
	s.close()
	wg.Wait()
	webSocketCloser(s.conn, logger)
	logger.Debug().Msg("websocket finished")
}

// webSocketSender drains the session outbox. It returns false if it stopped
// because of a write failure rather than a closed session.
func (srv *Server) webSocketSender(wg *sync.WaitGroup, s *session, logger *zerolog.Logger) bool {
	defer wg.Done()
SendLoop:
	for {
		select {
		case <-s.done:
			return true
		case b := <-s.tx:
			wsErr := s.conn.SetWriteDeadline(time.Now().Add(srv.writeTimeout))
			if wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to set websocket write deadline")
				break SendLoop
			}
			wsW, wsErr := s.conn.NextWriter(websocket.TextMessage)
			if wsErr != nil {
				logger.Debug().Err(wsErr).Msg("failed to get websocket text writer")
				break SendLoop
			}
			if _, wsErr = wsW.Write(b); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to write outgoing message")
				break SendLoop
			}
			if wsErr = wsW.Close(); wsErr != nil {
				logger.Error().Err(wsErr).Msg("failed to close websocket writer")
				break SendLoop
			}
		}
	}
	return false
}

func (srv *Server) webSocketReceiver(s *session, logger *zerolog.Logger) {
	s.conn.SetReadLimit(srv.maxMessageSize)
	for {
		_, msg, wsErr := s.conn.ReadMessage()
		if wsErr != nil {
			switch {
			case websocket.IsCloseError(wsErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				logger.Debug().Err(wsErr).Msg("connection closed")
			case !s.IsOpen():
				logger.Debug().Err(wsErr).Msg("connection terminated")
			default:
				logger.Warn().Err(wsErr).Msg("unexpected error during receive")
			}
			return
		}
		logger.Trace().Bytes("frame", msg).Msg("frame received")
		srv.svc.HandleFrame(s, msg)
	}
}

func webSocketCloser(conn *websocket.Conn, logger *zerolog.Logger) {
	wsErr := conn.SetWriteDeadline(time.Now().Add(defaultWebSocketCloseWriteDeadline))
	if wsErr == nil {
		wsErr = conn.WriteMessage(websocket.CloseMessage, []byte{})
	}
	if wsErr != nil {
		logger.Trace().Err(wsErr).Msg("close frame not sent")
	}
	if wsErr = conn.Close(); wsErr != nil {
		logger.Trace().Err(wsErr).Msg("websocket already closed")
	}
}
