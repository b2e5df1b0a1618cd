package sandbox

import (
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"escrowkit/services/auth"
)

type pinBody struct {
	UserID string `json:"userId"`
	Pin    string `json:"pin"`
	OldPin string `json:"oldPin"`
	NewPin string `json:"newPin"`
}

type deviceBody struct {
	UserID   string `json:"userId"`
	DeviceID string `json:"deviceId"`
	Token    string `json:"token"`
}

func (s *Server) findUser(r *http.Request, id string) (*User, error) {
	var user User
	err := s.db.WithContext(r.Context()).First(&user, "id = ?", strings.TrimSpace(id)).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Server) verifyTxPin(w http.ResponseWriter, r *http.Request) {
	s.verifyPIN(w, r, func(u *User) string { return u.TxPinHash })
}

func (s *Server) verifyLoginPin(w http.ResponseWriter, r *http.Request) {
	s.verifyPIN(w, r, func(u *User) string { return u.LoginPinHash })
}

func (s *Server) verifyPIN(w http.ResponseWriter, r *http.Request, stored func(*User) string) {
	var req pinBody
	if err := decodeBody(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId and pin are required.")
		return
	}
	user, err := s.findUser(r, req.UserID)
	if err != nil || !s.creds.checkPIN(user.ID, req.Pin, stored(user)) {
		writeError(w, http.StatusUnauthorized, "Invalid PIN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "message": "PIN verified"})
}

func (s *Server) createLoginPin(w http.ResponseWriter, r *http.Request) {
	var req pinBody
	if err := decodeBody(r, &req); err != nil || auth.ValidatePIN(req.Pin) != nil {
		writeError(w, http.StatusBadRequest, "PIN must be 6 digits.")
		return
	}
	user, err := s.findUser(r, req.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found.")
		return
	}
	if user.LoginPinHash != "" {
		writeError(w, http.StatusConflict, "A login PIN already exists.")
		return
	}
	if err := s.db.WithContext(r.Context()).Model(user).Update("login_pin_hash", s.creds.hashPIN(user.ID, req.Pin)).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to save PIN.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "message": "Login PIN created"})
}

// updatePin replaces the transaction PIN after checking the current one.
func (s *Server) updatePin(w http.ResponseWriter, r *http.Request) {
	var req pinBody
	if err := decodeBody(r, &req); err != nil || auth.ValidatePIN(req.NewPin) != nil {
		writeError(w, http.StatusBadRequest, "PIN must be 6 digits.")
		return
	}
	user, err := s.findUser(r, req.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found.")
		return
	}
	if !s.creds.checkPIN(user.ID, req.OldPin, user.TxPinHash) {
		writeError(w, http.StatusUnauthorized, "Current PIN is incorrect.")
		return
	}
	if err := s.db.WithContext(r.Context()).Model(user).Update("tx_pin_hash", s.creds.hashPIN(user.ID, req.NewPin)).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to save PIN.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "message": "PIN updated"})
}

func (s *Server) enableBiometric(w http.ResponseWriter, r *http.Request) {
	var req deviceBody
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "userId and deviceId are required.")
		return
	}
	user, err := s.findUser(r, req.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found.")
		return
	}
	token, tokenID, err := s.creds.issueToken(user.ID, req.DeviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to issue token.")
		return
	}
	device := BiometricDevice{UserID: user.ID, DeviceID: req.DeviceID, TokenID: tokenID, Active: true}
	err = s.db.WithContext(r.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "device_id"}},
		DoUpdates: clause.Assignments(map[string]any{"token_id": tokenID, "active": true, "revoked_at": nil, "updated_at": s.now()}),
	}).Create(&device).Error
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to register device.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": map[string]string{"token": token}})
}

func (s *Server) validateBiometric(w http.ResponseWriter, r *http.Request) {
	var req deviceBody
	if err := decodeBody(r, &req); err != nil || req.Token == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "token and deviceId are required.")
		return
	}
	claims, err := s.creds.parseToken(req.Token, req.DeviceID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Biometric session is not valid.")
		return
	}
	var device BiometricDevice
	err = s.db.WithContext(r.Context()).
		First(&device, "user_id = ? AND device_id = ?", claims.Subject, req.DeviceID).Error
	if err != nil || !device.Active || device.TokenID != claims.ID {
		writeError(w, http.StatusUnauthorized, "Biometric session is not valid.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": true,
		"data":   map[string]any{"userId": claims.Subject, "valid": true},
	})
}

func (s *Server) disableBiometric(w http.ResponseWriter, r *http.Request) {
	var req deviceBody
	if err := decodeBody(r, &req); err != nil || req.UserID == "" || req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "userId and deviceId are required.")
		return
	}
	now := s.now()
	err := s.db.WithContext(r.Context()).Model(&BiometricDevice{}).
		Where("user_id = ? AND device_id = ?", req.UserID, req.DeviceID).
		Updates(map[string]any{"active": false, "revoked_at": &now, "updated_at": now}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusInternalServerError, "Unable to disable biometrics.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "message": "Biometrics disabled"})
}
