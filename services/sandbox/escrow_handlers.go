package sandbox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	model "escrowkit/native/escrow"
)

var errEscrowNotFound = errors.New("escrow not found")

type refRequest struct {
	EscrowRef string `json:"escrowRef"`
	SnakeRef  string `json:"escrow_ref"`
	ActorID   string `json:"actorId"`
	PayerID   string `json:"payerId"`
}

func (r refRequest) ref() string {
	if ref := strings.TrimSpace(r.EscrowRef); ref != "" {
		return ref
	}
	return strings.TrimSpace(r.SnakeRef)
}

func (s *Server) loadEscrow(tx *gorm.DB, ref string) (*EscrowRecord, error) {
	var record EscrowRecord
	err := tx.Preload("Payer").Preload("Payee").
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		First(&record, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errEscrowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Server) escrowPayload(e *model.Escrow) map[string]any {
	out := map[string]any{
		"id":           e.ID,
		"escrow_ref":   e.Ref,
		"payer":        e.Payer,
		"payee":        e.Payee,
		"amount":       e.Amount.String(),
		"status":       e.Status,
		"created_at":   e.CreatedAt.Format(time.RFC3339Nano),
		"transactions": e.Transactions,
	}
	if e.Description != nil {
		out["description"] = *e.Description
	}
	if e.ExpiresAt != nil {
		out["expires_at"] = e.ExpiresAt.UTC().Format(time.RFC3339Nano)
		if left := e.ComputeTimeLeft(s.now()); left != nil {
			out["time_left"] = int64(left.Seconds())
		}
	}
	return out
}

func (s *Server) fetchEscrows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "userId is required.")
		return
	}
	var records []EscrowRecord
	err := s.db.WithContext(r.Context()).
		Preload("Payer").Preload("Payee").
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("payer_id = ? OR payee_id = ?", req.UserID, req.UserID).
		Order("created_at DESC").Order("id DESC").
		Find(&records).Error
	if err != nil {
		s.logger.ErrorContext(r.Context(), "list escrows", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to load escrows.")
		return
	}
	data := make([]map[string]any, 0, len(records))
	for i := range records {
		e, err := records[i].toModel()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Corrupt escrow record.")
			return
		}
		data = append(data, s.escrowPayload(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": data})
}

func (s *Server) getEscrow(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if err := decodeBody(r, &req); err != nil || req.ref() == "" {
		writeError(w, http.StatusBadRequest, "escrowRef is required.")
		return
	}
	record, err := s.loadEscrow(s.db.WithContext(r.Context()), req.ref())
	if errors.Is(err, errEscrowNotFound) {
		writeError(w, http.StatusNotFound, "Escrow not found.")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Unable to load escrow.")
		return
	}
	e, err := record.toModel()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Corrupt escrow record.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": true, "data": s.escrowPayload(e)})
}

func (s *Server) createEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayerID     string     `json:"payerId"`
		PayeeID     string     `json:"payeeId"`
		Amount      string     `json:"amount"`
		Description string     `json:"description"`
		ExpiresAt   *time.Time `json:"expiresAt"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request.")
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Amount must be a number.")
		return
	}
	now := s.now()
	params := model.CreateParams{
		PayerID:     strings.TrimSpace(req.PayerID),
		PayeeID:     strings.TrimSpace(req.PayeeID),
		Amount:      amount,
		Description: strings.TrimSpace(req.Description),
		ExpiresAt:   req.ExpiresAt,
	}
	if err := model.ValidateCreate(params, s.minimum, now); err != nil {
		writeError(w, http.StatusBadRequest, createRejection(err, s.minimum))
		return
	}

	record := EscrowRecord{
		Ref:       newRef(),
		PayerID:   params.PayerID,
		PayeeID:   params.PayeeID,
		Amount:    amount.String(),
		Status:    string(model.StatusPending),
		ExpiresAt: params.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.Description != "" {
		desc := params.Description
		record.Description = &desc
	}
	err = s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("id IN ?", []string{params.PayerID, params.PayeeID}).Count(&count).Error; err != nil {
			return err
		}
		if count != 2 {
			return errUnknownUser
		}
		return tx.Omit(clause.Associations).Create(&record).Error
	})
	if errors.Is(err, errUnknownUser) {
		writeError(w, http.StatusNotFound, "Payer or payee not found.")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "create escrow", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to create escrow.")
		return
	}
	s.logger.InfoContext(r.Context(), "escrow created", "escrow_ref", record.Ref)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     true,
		"message":    "Escrow created",
		"escrow_ref": record.Ref,
		"id":         record.ID,
	})
}

var errUnknownUser = errors.New("unknown user")

func createRejection(err error, minimum decimal.Decimal) string {
	switch {
	case errors.Is(err, model.ErrSelfEscrow):
		return "Payer and payee must be different users."
	case errors.Is(err, model.ErrAmountTooLow):
		return fmt.Sprintf("Minimum escrow amount is %s.", minimum.String())
	case errors.Is(err, model.ErrExpiryInPast):
		return "Expiry must be in the future."
	case errors.Is(err, model.ErrDescriptionSize):
		return "Description is too long."
	default:
		return "Payer and payee are required."
	}
}

func newRef() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "ESC-" + strings.ToUpper(id[:10])
}

func (s *Server) transition(action model.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refRequest
		if err := decodeBody(r, &req); err != nil || req.ref() == "" {
			writeError(w, http.StatusBadRequest, "escrowRef is required.")
			return
		}
		actorID := strings.TrimSpace(req.ActorID)
		if action == model.ActionFund && strings.TrimSpace(req.PayerID) != "" {
			actorID = strings.TrimSpace(req.PayerID)
		}
		if actorID == "" {
			writeError(w, http.StatusBadRequest, "actorId is required.")
			return
		}

		var result *model.Escrow
		err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
			record, err := s.loadEscrow(tx, req.ref())
			if err != nil {
				return err
			}
			current, err := record.toModel()
			if err != nil {
				return err
			}
			if err := s.machine.Check(current, action, actorID); err != nil {
				return err
			}
			next, err := s.machine.Apply(current, action, actorID)
			if err != nil {
				return err
			}
			applied := next.Transactions[len(next.Transactions)-1]
			row := TransactionRecord{
				EscrowID:  record.ID,
				Action:    string(action),
				ActorID:   actorID,
				Amount:    applied.Amount.String(),
				CreatedAt: applied.CreatedAt,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			res := tx.Model(&EscrowRecord{}).
				Where("id = ? AND status = ?", record.ID, record.Status).
				Updates(map[string]any{"status": string(next.Status), "updated_at": s.now()})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return fmt.Errorf("%w: concurrent update", model.ErrInvalidTransition)
			}
			next.Transactions[len(next.Transactions)-1].ID = row.ID
			result = next
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, errEscrowNotFound):
			writeError(w, http.StatusNotFound, "Escrow not found.")
			return
		case errors.Is(err, model.ErrUnauthorizedActor):
			writeError(w, http.StatusForbidden, fmt.Sprintf("You are not allowed to %s this escrow.", action))
			return
		case errors.Is(err, model.ErrInvalidTransition):
			writeError(w, http.StatusConflict, fmt.Sprintf("Escrow cannot be %s in its current state.", pastTense(action)))
			return
		default:
			s.logger.ErrorContext(r.Context(), "escrow transition", "escrow_ref", req.ref(), "action", string(action), "error", err)
			writeError(w, http.StatusInternalServerError, "Unable to update escrow.")
			return
		}
		s.logger.InfoContext(r.Context(), "escrow transition",
			"escrow_ref", result.Ref, "action", string(action), "status", string(result.Status))
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     true,
			"message":    fmt.Sprintf("Escrow %s", pastTense(action)),
			"escrow_ref": result.Ref,
			"data":       s.escrowPayload(result),
		})
	}
}

func pastTense(action model.Action) string {
	switch action {
	case model.ActionFund:
		return "funded"
	case model.ActionDispute:
		return "disputed"
	case model.ActionCancel:
		return "cancelled"
	case model.ActionRefund:
		return "refunded"
	case model.ActionRelease:
		return "released"
	case model.ActionDeliver:
		return "delivered"
	default:
		return string(action)
	}
}
