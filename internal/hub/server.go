package hub

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"carebridge/pkg/models"
)

const readWait = 60 * time.Second

// CallRouter is the slice of the call state machine the user channel needs.
type CallRouter interface {
	Initiate(callerID string, env *Envelope) error
	Accept(callID, userID string) error
	Reject(callID, userID string) error
	End(callID, userID string) error
	Relay(fromUserID string, env *Envelope) error
	HandleDisconnect(userID string)
}

// UserServer terminates WebSocket connections from patient and caregiver
// apps, binds each one to a user id in the registry and routes the tagged
// message stream to the call machine.
type UserServer struct {
	registry     *Registry
	calls        CallRouter
	authenticate func(token string) (string, error)
	upgrader     websocket.Upgrader
}

func NewUserServer(registry *Registry, calls CallRouter, authenticate func(token string) (string, error), originAllowed func(string) bool) *UserServer {
	return &UserServer{
		registry:     registry,
		calls:        calls,
		authenticate: authenticate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"))
			},
		},
	}
}

func (s *UserServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ websocket upgrade failed: %v", err)
		return
	}

	client := NewWSConn(conn)
	userID := ""

	// A token on the upgrade request binds the connection immediately.
	// Clients without one must send registerUser before anything else.
	if token := r.URL.Query().Get("token"); token != "" {
		id, err := s.authenticate(token)
		if err != nil {
			log.Printf("⛔ websocket auth rejected: %v", err)
			client.Close("authentication failed")
			return
		}
		userID = id
		s.registry.Register(userID, client)
		s.registry.SendJSON(userID, Envelope{Type: MsgRegistered, UserID: userID, Success: true})
	}

	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		if userID != "" {
			s.registry.MarkAlive(userID)
		}
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		conn.SetReadDeadline(time.Now().Add(readWait))
		if userID != "" {
			s.registry.MarkAlive(userID)
		}

		if messageType != websocket.TextMessage {
			continue
		}

		userID = s.handleMessage(client, message, userID)
	}

	if userID != "" {
		s.registry.UnregisterConn(userID, client)
	}
}

// handleMessage routes one inbound frame. Returns the user id the
// connection is bound to, which changes only on registerUser.
func (s *UserServer) handleMessage(client *WSConn, message []byte, userID string) string {
	var env Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		log.Printf("⚠️ discarding malformed frame: %v", err)
		return userID
	}

	switch env.Type {
	case MsgRegisterUser:
		if env.UserID == "" {
			s.sendError(client, "registerUser requires userId")
			return userID
		}
		// Rebinding drops the old id first, otherwise the stale entry
		// shares this conn and the sweeper would close it.
		if userID != "" && userID != env.UserID {
			s.registry.UnregisterConn(userID, client)
		}
		userID = env.UserID
		s.registry.Register(userID, client)
		s.registry.SendJSON(userID, Envelope{Type: MsgRegistered, UserID: userID, Success: true})
		return userID

	case MsgPing:
		s.sendEnvelope(client, Envelope{Type: MsgPong, Timestamp: time.Now().UnixMilli()})
		return userID

	case MsgInitiateCall:
		if userID == "" {
			s.sendError(client, "not registered")
			return userID
		}
		if err := s.calls.Initiate(userID, &env); err != nil {
			if errors.Is(err, models.ErrPeerOffline) {
				s.sendEnvelope(client, Envelope{Type: MsgUserOffline, ReceiverID: env.ReceiverID})
				return userID
			}
			log.Printf("⚠️ initiate-call from %s: %v", userID, err)
			s.sendError(client, err.Error())
		}
		return userID

	case MsgAcceptCall:
		s.route(client, userID, env.CallID, s.calls.Accept)
		return userID

	case MsgRejectCall:
		s.route(client, userID, env.CallID, s.calls.Reject)
		return userID

	case MsgEndCall:
		s.route(client, userID, env.CallID, s.calls.End)
		return userID

	case MsgWebRTCOffer, MsgWebRTCAnswer, MsgWebRTCCandidate:
		if userID == "" {
			s.sendError(client, "not registered")
			return userID
		}
		if err := s.calls.Relay(userID, &env); err != nil {
			log.Printf("⚠️ relay %s from %s: %v", env.Type, userID, err)
		}
		return userID

	default:
		log.Printf("⚠️ unknown message type %q from %s", env.Type, userID)
		return userID
	}
}

func (s *UserServer) route(client *WSConn, userID, callID string, fn func(callID, userID string) error) {
	if userID == "" {
		s.sendError(client, "not registered")
		return
	}
	if err := fn(callID, userID); err != nil {
		log.Printf("⚠️ call %s action by %s: %v", callID, userID, err)
		s.sendError(client, err.Error())
	}
}

func (s *UserServer) sendEnvelope(client *WSConn, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	if err := client.Send(data); err != nil {
		log.Printf("❌ direct send failed: %v", err)
	}
}

func (s *UserServer) sendError(client *WSConn, msg string) {
	s.sendEnvelope(client, Envelope{Type: MsgError, Error: msg})
}
