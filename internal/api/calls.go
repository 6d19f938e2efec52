package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"carebridge/internal/middleware"
	"carebridge/pkg/models"
)

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	page, limit := pagination(r)

	calls, err := s.db.ListCallsForUser(r.Context(), claims.UserID, page, limit)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"calls": calls,
		"page":  page,
		"limit": limit,
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	callID := mux.Vars(r)["callId"]
	call, err := s.db.GetCallByCallID(r.Context(), callID)
	if err != nil {
		respondError(w, err)
		return
	}

	if call.CallerID != claims.UserID && call.ReceiverID != claims.UserID {
		respondError(w, models.ErrUnauthorized)
		return
	}

	respondJSON(w, http.StatusOK, call)
}

// handleICEServers hands clients the STUN configuration for peer setup.
// Media never touches this server.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"iceServers": []map[string]interface{}{
			{"urls": []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			}},
		},
	})
}
