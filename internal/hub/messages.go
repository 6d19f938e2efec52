package hub

import "encoding/json"

// Envelope is the framing for every JSON message on the user channel.
// Type selects the variant; the remaining fields are populated per variant
// and omitted otherwise.
type Envelope struct {
	Type       string          `json:"type"`
	UserID     string          `json:"userId,omitempty"`
	ReceiverID string          `json:"receiverId,omitempty"`
	CallerID   string          `json:"callerId,omitempty"`
	CallerName string          `json:"callerName,omitempty"`
	CallType   string          `json:"callType,omitempty"`
	CallID     string          `json:"callId,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
	Message    string          `json:"message,omitempty"`
	Success    bool            `json:"success,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Inbound message types accepted on the user channel.
const (
	MsgRegisterUser    = "registerUser"
	MsgPing            = "ping"
	MsgInitiateCall    = "initiate-call"
	MsgAcceptCall      = "accept-call"
	MsgRejectCall      = "reject-call"
	MsgEndCall         = "end-call"
	MsgWebRTCOffer     = "webrtc-offer"
	MsgWebRTCAnswer    = "webrtc-answer"
	MsgWebRTCCandidate = "webrtc-ice-candidate"
)

// Outbound message types.
const (
	MsgPong          = "pong"
	MsgRegistered    = "registered"
	MsgIncomingCall  = "incoming-call"
	MsgCallInitiated = "call-initiated"
	MsgCallAccepted  = "call-accepted"
	MsgCallRejected  = "call-rejected"
	MsgCallEnded     = "call-ended"
	MsgUserOffline   = "user-offline"
	MsgEmergency     = "emergency"
	MsgReminder      = "reminder"
	MsgDeviceStatus  = "device-status"
	MsgError         = "error"
)
