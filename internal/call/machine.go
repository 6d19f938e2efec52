package call

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"carebridge/internal/hub"
	"carebridge/pkg/models"

	"github.com/google/uuid"
)

// Store persists terminal call records. The machine writes exactly one row
// per call, when the call leaves the ringing/active states.
type Store interface {
	SaveCall(ctx context.Context, c *models.Call) error
}

// MissedCallNotifier pushes a missed-call notice to a receiver who has no
// live socket or who let the call ring out.
type MissedCallNotifier interface {
	NotifyMissedCall(ctx context.Context, receiverID int64, callerName string)
}

type session struct {
	callID     string
	callerID   string
	receiverID string
	callerName string
	callType   string
	startTime  time.Time
	acceptTime *time.Time
	active     bool
	ringTimer  *time.Timer
}

func (s *session) peerOf(userID string) (string, bool) {
	switch userID {
	case s.callerID:
		return s.receiverID, true
	case s.receiverID:
		return s.callerID, true
	}
	return "", false
}

// Machine tracks in-flight calls between two registered users. All state is
// in-process: a restart drops live calls, which is acceptable since the
// media path is peer-to-peer anyway.
type Machine struct {
	users       *hub.Registry
	store       Store
	ringTimeout time.Duration
	missed      MissedCallNotifier

	mu       sync.Mutex
	sessions map[string]*session
}

func NewMachine(users *hub.Registry, store Store, ringTimeout time.Duration) *Machine {
	return &Machine{
		users:       users,
		store:       store,
		ringTimeout: ringTimeout,
		sessions:    make(map[string]*session),
	}
}

// SetMissedCallNotifier installs the push fallback for unreachable or
// unanswering receivers. Optional.
func (m *Machine) SetMissedCallNotifier(n MissedCallNotifier) {
	m.missed = n
}

func (m *Machine) notifyMissed(receiverID, callerName string) {
	if m.missed == nil {
		return
	}
	id, err := strconv.ParseInt(receiverID, 10, 64)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.missed.NotifyMissedCall(ctx, id, callerName)
}

// Initiate starts a call. An offline receiver is not an error surfaced to
// the transport: the caller is told user-offline and no session is created.
func (m *Machine) Initiate(callerID string, env *hub.Envelope) error {
	receiverID := env.ReceiverID
	if receiverID == "" {
		return models.ErrValidation
	}

	if !m.users.IsOnline(receiverID) {
		log.Printf("📵 call from %s to offline user %s", callerID, receiverID)
		m.notifyMissed(receiverID, env.CallerName)
		return models.ErrPeerOffline
	}

	callType := env.CallType
	if callType == "" {
		callType = models.CallTypeVideo
	}

	s := &session{
		callID:     uuid.NewString(),
		callerID:   callerID,
		receiverID: receiverID,
		callerName: env.CallerName,
		callType:   callType,
		startTime:  time.Now(),
	}

	m.mu.Lock()
	m.sessions[s.callID] = s
	m.mu.Unlock()

	s.ringTimer = time.AfterFunc(m.ringTimeout, func() { m.ringExpired(s.callID) })

	log.Printf("📞 call %s: %s -> %s (%s)", s.callID, callerID, receiverID, callType)

	m.users.SendJSON(receiverID, hub.Envelope{
		Type:       hub.MsgIncomingCall,
		CallID:     s.callID,
		CallerID:   callerID,
		CallerName: env.CallerName,
		CallType:   callType,
		Offer:      env.Offer,
	})
	m.users.SendJSON(callerID, hub.Envelope{
		Type:       hub.MsgCallInitiated,
		CallID:     s.callID,
		ReceiverID: receiverID,
	})

	return nil
}

// Accept transitions ringing -> active. Only the receiver may accept.
func (m *Machine) Accept(callID, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return models.ErrNotFound
	}
	if s.receiverID != userID {
		m.mu.Unlock()
		return models.ErrUnauthorized
	}
	if s.active {
		m.mu.Unlock()
		return models.ErrTerminalState
	}
	now := time.Now()
	s.active = true
	s.acceptTime = &now
	timer := s.ringTimer
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	log.Printf("✅ call %s accepted by %s", callID, userID)

	m.users.SendJSON(s.callerID, hub.Envelope{
		Type:   hub.MsgCallAccepted,
		CallID: callID,
		UserID: userID,
	})
	return nil
}

// Reject ends a ringing call. Only the receiver may reject.
func (m *Machine) Reject(callID, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return models.ErrNotFound
	}
	if s.receiverID != userID {
		m.mu.Unlock()
		return models.ErrUnauthorized
	}
	if s.active {
		m.mu.Unlock()
		return models.ErrTerminalState
	}
	delete(m.sessions, callID)
	m.mu.Unlock()

	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}

	log.Printf("🚫 call %s rejected by %s", callID, userID)

	m.users.SendJSON(s.callerID, hub.Envelope{
		Type:   hub.MsgCallRejected,
		CallID: callID,
	})
	m.persist(s, models.CallRejected)
	return nil
}

// End terminates a call from either side, ringing or active.
func (m *Machine) End(callID, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return models.ErrNotFound
	}
	peer, party := s.peerOf(userID)
	if !party {
		m.mu.Unlock()
		return models.ErrUnauthorized
	}
	delete(m.sessions, callID)
	m.mu.Unlock()

	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}

	log.Printf("📴 call %s ended by %s", callID, userID)

	m.users.SendJSON(peer, hub.Envelope{
		Type:   hub.MsgCallEnded,
		CallID: callID,
		UserID: userID,
	})
	m.persist(s, models.CallEnded)
	return nil
}

// Relay forwards WebRTC signaling frames between the two parties untouched.
// Frames for unknown calls are dropped with a log line only.
func (m *Machine) Relay(fromUserID string, env *hub.Envelope) error {
	m.mu.Lock()
	s, ok := m.sessions[env.CallID]
	m.mu.Unlock()

	if !ok {
		log.Printf("⚠️ %s for unknown call %s from %s", env.Type, env.CallID, fromUserID)
		return nil
	}

	peer, party := s.peerOf(fromUserID)
	if !party {
		return models.ErrUnauthorized
	}

	m.users.SendJSON(peer, hub.Envelope{
		Type:      env.Type,
		CallID:    env.CallID,
		CallerID:  fromUserID,
		Offer:     env.Offer,
		Answer:    env.Answer,
		Candidate: env.Candidate,
	})
	return nil
}

// HandleDisconnect force-ends every call the user is part of. Hooked into
// the registry eviction path so timed-out sockets clean up the same way.
func (m *Machine) HandleDisconnect(userID string) {
	m.mu.Lock()
	var affected []*session
	for id, s := range m.sessions {
		if _, party := s.peerOf(userID); party {
			affected = append(affected, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range affected {
		if s.ringTimer != nil {
			s.ringTimer.Stop()
		}

		peer, _ := s.peerOf(userID)
		log.Printf("🔌 call %s force-ended, %s disconnected", s.callID, userID)

		m.users.SendJSON(peer, hub.Envelope{
			Type:   hub.MsgCallEnded,
			CallID: s.callID,
			UserID: userID,
			Reason: "user-disconnected",
		})
		m.persist(s, models.CallEnded)
	}
}

// ActiveCalls reports how many sessions are in flight.
func (m *Machine) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Machine) ringExpired(callID string) {
	m.mu.Lock()
	s, ok := m.sessions[callID]
	if !ok || s.active {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, callID)
	m.mu.Unlock()

	log.Printf("⏰ call %s unanswered after %s", callID, m.ringTimeout)

	env := hub.Envelope{Type: hub.MsgCallEnded, CallID: callID, Reason: "no-answer"}
	m.users.SendJSON(s.callerID, env)
	m.users.SendJSON(s.receiverID, env)
	m.notifyMissed(s.receiverID, s.callerName)
	m.persist(s, models.CallMissed)
}

// persist writes the terminal record. Duration counts whole seconds from
// initiation to the terminal transition, ring time included.
func (m *Machine) persist(s *session, status string) {
	now := time.Now()
	duration := int64(now.Sub(s.startTime) / time.Second)

	callerID, err := strconv.ParseInt(s.callerID, 10, 64)
	if err != nil {
		log.Printf("⚠️ call %s: bad caller id %q", s.callID, s.callerID)
		return
	}
	receiverID, err := strconv.ParseInt(s.receiverID, 10, 64)
	if err != nil {
		log.Printf("⚠️ call %s: bad receiver id %q", s.callID, s.receiverID)
		return
	}

	record := &models.Call{
		CallID:     s.callID,
		CallerID:   callerID,
		ReceiverID: receiverID,
		CallerName: s.callerName,
		CallType:   s.callType,
		Status:     status,
		StartTime:  s.startTime,
		AcceptTime: s.acceptTime,
		EndTime:    &now,
		Duration:   duration,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.store.SaveCall(ctx, record); err != nil {
		log.Printf("❌ failed to save call %s: %v", s.callID, err)
	}
}
