package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"carebridge/internal/middleware"
	"carebridge/pkg/models"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || len(req.Password) < 6 {
		respondError(w, fmt.Errorf("%w: name, email and a password of 6+ characters are required", models.ErrValidation))
		return
	}

	switch req.Role {
	case models.RolePatient, models.RoleCaregiver, models.RoleFamily:
	default:
		respondError(w, fmt.Errorf("%w: invalid role %q", models.ErrValidation, req.Role))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, fmt.Errorf("failed to hash password: %w", err))
		return
	}

	user := &models.User{Name: req.Name, Email: req.Email, Role: req.Role}
	if err := s.db.CreateUser(r.Context(), user, string(hash)); err != nil {
		respondError(w, err)
		return
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		respondError(w, err)
		return
	}

	log.Printf("👤 user %d registered as %s", user.ID, user.Role)
	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	user, hash, err := s.db.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		// Same response for unknown email and wrong password.
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
		return
	}

	token, err := s.auth.GenerateToken(user)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	user, err := s.db.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if len(req.NewPassword) < 6 {
		respondError(w, fmt.Errorf("%w: new password must be 6+ characters", models.ErrValidation))
		return
	}

	user, err := s.db.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondError(w, err)
		return
	}

	_, hash, err := s.db.GetUserByEmail(r.Context(), user.Email)
	if err != nil {
		respondError(w, err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.CurrentPassword)) != nil {
		respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "current password is wrong"})
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, fmt.Errorf("failed to hash password: %w", err))
		return
	}
	if err := s.db.UpdateUserPassword(r.Context(), claims.UserID, string(newHash)); err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDeviceToken(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if err := s.db.UpdateUserDeviceToken(r.Context(), claims.UserID, req.Token); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleAssignCaregiver(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		PatientID    int64  `json:"patient_id"`
		CaregiverID  int64  `json:"caregiver_id"`
		Relationship string `json:"relationship"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	// Caregivers link themselves; patients link their own circle.
	if claims.Role == models.RoleCaregiver {
		req.CaregiverID = claims.UserID
	} else if claims.Role == models.RolePatient {
		req.PatientID = claims.UserID
	}
	if req.PatientID == 0 || req.CaregiverID == 0 {
		respondError(w, fmt.Errorf("%w: patient_id and caregiver_id are required", models.ErrValidation))
		return
	}

	if err := s.db.AssignCaregiver(r.Context(), req.CaregiverID, req.PatientID, req.Relationship); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func (s *Server) handleLinkFamily(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		PatientID    int64  `json:"patient_id"`
		FamilyID     int64  `json:"family_id"`
		Relationship string `json:"relationship"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	if claims.Role == models.RoleFamily {
		req.FamilyID = claims.UserID
	} else if claims.Role == models.RolePatient {
		req.PatientID = claims.UserID
	}
	if req.PatientID == 0 || req.FamilyID == 0 {
		respondError(w, fmt.Errorf("%w: patient_id and family_id are required", models.ErrValidation))
		return
	}

	if err := s.db.LinkFamily(r.Context(), req.FamilyID, req.PatientID, req.Relationship); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]bool{"success": true})
}
