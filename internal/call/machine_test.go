package call

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"carebridge/internal/hub"
	"carebridge/pkg/models"
)

type recordingConn struct {
	mu   sync.Mutex
	msgs []hub.Envelope
}

func (c *recordingConn) Send(data []byte) error {
	var env hub.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, env)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) Ping() error  { return nil }
func (c *recordingConn) Close(string) {}

func (c *recordingConn) last() (hub.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return hub.Envelope{}, false
	}
	return c.msgs[len(c.msgs)-1], true
}

func (c *recordingConn) byType(msgType string) (hub.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.msgs {
		if m.Type == msgType {
			return m, true
		}
	}
	return hub.Envelope{}, false
}

type fakeCallStore struct {
	mu    sync.Mutex
	saved []*models.Call
}

func (s *fakeCallStore) SaveCall(_ context.Context, c *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, c)
	return nil
}

func (s *fakeCallStore) records() []*models.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Call(nil), s.saved...)
}

func setup(t *testing.T, ringTimeout time.Duration) (*Machine, *hub.Registry, *fakeCallStore, *recordingConn, *recordingConn) {
	t.Helper()
	users := hub.NewRegistry("users")
	store := &fakeCallStore{}
	m := NewMachine(users, store, ringTimeout)

	caller := &recordingConn{}
	receiver := &recordingConn{}
	users.Register("1", caller)
	users.Register("2", receiver)
	return m, users, store, caller, receiver
}

func initiate(t *testing.T, m *Machine, receiver *recordingConn) string {
	t.Helper()
	if err := m.Initiate("1", &hub.Envelope{ReceiverID: "2", CallerName: "Ana", CallType: models.CallTypeVideo}); err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	env, ok := receiver.byType(hub.MsgIncomingCall)
	if !ok {
		t.Fatalf("receiver did not get incoming-call")
	}
	return env.CallID
}

func TestInitiateNotifiesBothParties(t *testing.T) {
	m, _, store, caller, receiver := setup(t, time.Minute)

	callID := initiate(t, m, receiver)

	env, _ := receiver.byType(hub.MsgIncomingCall)
	if env.CallerID != "1" || env.CallerName != "Ana" || env.CallType != models.CallTypeVideo {
		t.Fatalf("incoming-call payload wrong: %+v", env)
	}

	ack, ok := caller.byType(hub.MsgCallInitiated)
	if !ok || ack.CallID != callID {
		t.Fatalf("caller did not get call-initiated with matching id")
	}

	if m.ActiveCalls() != 1 {
		t.Fatalf("ActiveCalls = %d, want 1", m.ActiveCalls())
	}
	if len(store.records()) != 0 {
		t.Fatalf("ringing call must not be persisted yet")
	}
}

func TestInitiateToOfflineReceiver(t *testing.T) {
	users := hub.NewRegistry("users")
	store := &fakeCallStore{}
	m := NewMachine(users, store, time.Minute)

	caller := &recordingConn{}
	users.Register("1", caller)

	if err := m.Initiate("1", &hub.Envelope{ReceiverID: "9"}); err != models.ErrPeerOffline {
		t.Fatalf("offline receiver: err = %v, want ErrPeerOffline", err)
	}

	if _, ok := caller.byType(hub.MsgIncomingCall); ok {
		t.Fatalf("nothing should ring for an offline receiver")
	}
	if m.ActiveCalls() != 0 {
		t.Fatalf("no session should exist for an offline receiver")
	}
	if len(store.records()) != 0 {
		t.Fatalf("nothing should be persisted")
	}
}

func TestOnlyReceiverMayAccept(t *testing.T) {
	m, _, _, _, receiver := setup(t, time.Minute)
	callID := initiate(t, m, receiver)

	if err := m.Accept(callID, "1"); err != models.ErrUnauthorized {
		t.Fatalf("caller accepting own call: err = %v, want ErrUnauthorized", err)
	}
	if err := m.Accept("no-such-call", "2"); err != models.ErrNotFound {
		t.Fatalf("accept on unknown call: err = %v, want ErrNotFound", err)
	}
	if err := m.Accept(callID, "2"); err != nil {
		t.Fatalf("receiver accept: %v", err)
	}
	if err := m.Accept(callID, "2"); err != models.ErrTerminalState {
		t.Fatalf("double accept: err = %v, want ErrTerminalState", err)
	}
}

func TestAcceptThenEndPersistsDuration(t *testing.T) {
	m, _, store, caller, receiver := setup(t, time.Minute)
	callID := initiate(t, m, receiver)

	if err := m.Accept(callID, "2"); err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if _, ok := caller.byType(hub.MsgCallAccepted); !ok {
		t.Fatalf("caller should be told the call was accepted")
	}

	if err := m.End(callID, "1"); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, ok := receiver.byType(hub.MsgCallEnded); !ok {
		t.Fatalf("receiver should be told the call ended")
	}

	recs := store.records()
	if len(recs) != 1 {
		t.Fatalf("persisted %d records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != models.CallEnded {
		t.Fatalf("status = %s, want ended", rec.Status)
	}
	if rec.CallerID != 1 || rec.ReceiverID != 2 {
		t.Fatalf("party ids = %d/%d, want 1/2", rec.CallerID, rec.ReceiverID)
	}
	if rec.AcceptTime == nil || rec.EndTime == nil {
		t.Fatalf("accepted call must record accept and end times")
	}
	if rec.Duration < 0 {
		t.Fatalf("duration = %d, want >= 0", rec.Duration)
	}
	if m.ActiveCalls() != 0 {
		t.Fatalf("session should be gone after end")
	}
}

func TestRejectPersistsWithoutAcceptTime(t *testing.T) {
	m, _, store, caller, receiver := setup(t, time.Minute)
	callID := initiate(t, m, receiver)

	if err := m.Reject(callID, "2"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, ok := caller.byType(hub.MsgCallRejected); !ok {
		t.Fatalf("caller should be told the call was rejected")
	}

	recs := store.records()
	if len(recs) != 1 || recs[0].Status != models.CallRejected {
		t.Fatalf("want one rejected record, got %+v", recs)
	}
	if recs[0].AcceptTime != nil {
		t.Fatalf("rejected call must have no accept time")
	}
	if recs[0].Duration < 0 {
		t.Fatalf("duration = %d, want >= 0", recs[0].Duration)
	}
}

func TestRingTimeoutMarksMissed(t *testing.T) {
	m, _, store, caller, receiver := setup(t, 30*time.Millisecond)
	callID := initiate(t, m, receiver)

	time.Sleep(150 * time.Millisecond)

	env, ok := caller.byType(hub.MsgCallEnded)
	if !ok || env.Reason != "no-answer" {
		t.Fatalf("caller should get call-ended/no-answer, got %+v", env)
	}
	if _, ok := receiver.byType(hub.MsgCallEnded); !ok {
		t.Fatalf("receiver should also get call-ended")
	}

	recs := store.records()
	if len(recs) != 1 || recs[0].Status != models.CallMissed {
		t.Fatalf("want one missed record, got %+v", recs)
	}
	if recs[0].CallID != callID {
		t.Fatalf("record call id mismatch")
	}
	if m.ActiveCalls() != 0 {
		t.Fatalf("timed-out session should be removed")
	}
}

type fakeMissedNotifier struct {
	mu       sync.Mutex
	notified []int64
}

func (n *fakeMissedNotifier) NotifyMissedCall(_ context.Context, receiverID int64, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, receiverID)
}

func (n *fakeMissedNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

func TestMissedCallNotifierFires(t *testing.T) {
	m, _, _, _, receiver := setup(t, 30*time.Millisecond)
	notifier := &fakeMissedNotifier{}
	m.SetMissedCallNotifier(notifier)

	// Offline receiver: the notifier is the only way to reach them.
	if err := m.Initiate("1", &hub.Envelope{ReceiverID: "5", CallerName: "Ana"}); err != models.ErrPeerOffline {
		t.Fatalf("err = %v, want ErrPeerOffline", err)
	}
	if notifier.count() != 1 || notifier.notified[0] != 5 {
		t.Fatalf("notified = %v, want [5]", notifier.notified)
	}

	// Unanswered ring: the online receiver gets a push too.
	initiate(t, m, receiver)
	time.Sleep(150 * time.Millisecond)
	if notifier.count() != 2 || notifier.notified[1] != 2 {
		t.Fatalf("notified = %v, want [5 2]", notifier.notified)
	}
}

func TestRelayForwardsToPeer(t *testing.T) {
	m, _, _, caller, receiver := setup(t, time.Minute)
	callID := initiate(t, m, receiver)

	offer := json.RawMessage(`{"sdp":"v=0"}`)
	if err := m.Relay("1", &hub.Envelope{Type: hub.MsgWebRTCOffer, CallID: callID, Offer: offer}); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	env, ok := receiver.byType(hub.MsgWebRTCOffer)
	if !ok {
		t.Fatalf("receiver did not get the offer")
	}
	if string(env.Offer) != string(offer) {
		t.Fatalf("offer payload altered: %s", env.Offer)
	}

	// Unknown call ids are dropped silently.
	if err := m.Relay("1", &hub.Envelope{Type: hub.MsgWebRTCAnswer, CallID: "ghost"}); err != nil {
		t.Fatalf("relay for unknown call should be a no-op, got %v", err)
	}

	// A third party may not inject signaling.
	if err := m.Relay("99", &hub.Envelope{Type: hub.MsgWebRTCCandidate, CallID: callID}); err != models.ErrUnauthorized {
		t.Fatalf("outsider relay: err = %v, want ErrUnauthorized", err)
	}
	_ = caller
}

func TestDisconnectForceEndsCall(t *testing.T) {
	m, _, store, _, receiver := setup(t, time.Minute)
	callID := initiate(t, m, receiver)

	if err := m.Accept(callID, "2"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	m.HandleDisconnect("1")

	env, ok := receiver.byType(hub.MsgCallEnded)
	if !ok || env.Reason != "user-disconnected" {
		t.Fatalf("peer should get call-ended/user-disconnected, got %+v", env)
	}

	recs := store.records()
	if len(recs) != 1 || recs[0].Status != models.CallEnded {
		t.Fatalf("disconnect should persist an ended record, got %+v", recs)
	}
	if m.ActiveCalls() != 0 {
		t.Fatalf("session should be removed on disconnect")
	}
}
