package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "escrowkit/native/escrow"
	"escrowkit/notify"
	"escrowkit/observability/metrics"
	"escrowkit/observability/otel"
	"escrowkit/storage/escrowcache"
	"escrowkit/transport"
)

const (
	PathFetchEscrows = "/api/escrow/fetchEscrows"
	PathGetEscrow    = "/api/escrow/getEscrow"
	PathCreate       = "/api/escrow/create"

	noticeTitle = "Escrow"
)

// PathFor returns the endpoint serving a transition action.
func PathFor(action model.Action) string {
	return "/api/escrow/" + string(action)
}

var errEmptyRef = errors.New("escrow: response carried no escrow_ref")

// Options tunes a Service. Zero values pick sensible defaults.
type Options struct {
	Machine   *model.Machine
	MinAmount decimal.Decimal
	Metrics   *metrics.ClientMetrics
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service is the only code path that talks to the escrow backend. Its methods
// never return errors: failures become sentinel results plus exactly one
// notice.
type Service struct {
	api      transport.Poster
	store    *escrowcache.Store
	notifier notify.Notifier
	machine  *model.Machine
	minimum  decimal.Decimal
	metrics  *metrics.ClientMetrics
	logger   *slog.Logger
	nowFn    func() time.Time

	mu        sync.Mutex
	seq       uint64
	fetchSeq  uint64
	refLatest map[string]uint64
}

// New wires a service over a transport, the escrow cache and a notifier.
func New(api transport.Poster, store *escrowcache.Store, notifier notify.Notifier, opts Options) *Service {
	s := &Service{
		api:       api,
		store:     store,
		notifier:  notifier,
		machine:   opts.Machine,
		minimum:   opts.MinAmount,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		nowFn:     opts.Now,
		refLatest: make(map[string]uint64),
	}
	if s.machine == nil {
		s.machine = model.NewMachine()
	}
	if s.minimum.IsZero() {
		s.minimum = model.DefaultMinAmount
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "escrow_service"))
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.notifier == nil {
		s.notifier = notify.LogNotifier{Logger: s.logger}
	}
	return s
}

// Store exposes the cache screens subscribe to.
func (s *Service) Store() *escrowcache.Store { return s.store }

// MinAmount reports the creation threshold in force.
func (s *Service) MinAmount() decimal.Decimal { return s.minimum }

func (s *Service) fail(ctx context.Context, span trace.Span, err error, fallback string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.WarnContext(ctx, "escrow request failed", slog.Any("error", err))
	s.notifier.Notify(ctx, notify.Error(noticeTitle, transport.UserMessage(err, fallback)))
}

// Fetch refreshes the cached list for userID. The loading flag is set for the
// duration and always cleared by the newest fetch. A fetch overtaken by a
// newer one drops its result.
func (s *Service) Fetch(ctx context.Context, userID string) bool {
	ctx, span := otel.Tracer().Start(ctx, "escrow.fetch")
	defer span.End()

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.fetchSeq = seq
	s.mu.Unlock()

	s.store.SetLoading(true)
	defer func() {
		if s.latestFetch(seq) {
			s.store.SetLoading(false)
		}
	}()

	var env transport.Envelope[json.RawMessage]
	if err := s.api.Post(ctx, PathFetchEscrows, map[string]string{"userId": userID}, &env); err != nil {
		s.fail(ctx, span, err, "Unable to load escrows. Please try again.")
		return false
	}
	if err := env.Err(); err != nil {
		s.fail(ctx, span, err, "Unable to load escrows. Please try again.")
		return false
	}
	list, err := model.ParseEscrowList(env.Data)
	if err != nil {
		s.fail(ctx, span, err, "Received invalid escrow data.")
		return false
	}
	now := s.nowFn()
	for _, e := range list {
		if e.ExpiresAt != nil {
			e.TimeLeft = e.ComputeTimeLeft(now)
		}
	}

	if !s.latestFetch(seq) {
		s.logger.DebugContext(ctx, "discarding superseded escrow list")
		return true
	}
	s.store.SetEscrows(list)
	span.SetAttributes(attribute.Int("escrow.count", len(list)))
	return true
}

// Get loads one escrow by reference and refreshes its cached copy, if any. Nil
// means the lookup failed and the user has already been told.
func (s *Service) Get(ctx context.Context, ref string) *model.Escrow {
	ctx, span := otel.Tracer().Start(ctx, "escrow.get", trace.WithAttributes(attribute.String("escrow.ref", ref)))
	defer span.End()

	if strings.TrimSpace(ref) == "" {
		s.fail(ctx, span, errors.New("escrow reference required"), "Escrow reference required.")
		return nil
	}
	var env transport.Envelope[json.RawMessage]
	if err := s.api.Post(ctx, PathGetEscrow, map[string]string{"escrowRef": ref}, &env); err != nil {
		s.fail(ctx, span, err, "Unable to load escrow. Please try again.")
		return nil
	}
	if err := env.Err(); err != nil {
		s.fail(ctx, span, err, "Unable to load escrow. Please try again.")
		return nil
	}
	e, err := model.ParseEscrow(env.Data)
	if err != nil {
		s.fail(ctx, span, err, "Received invalid escrow data.")
		return nil
	}
	if e.ExpiresAt != nil {
		e.TimeLeft = e.ComputeTimeLeft(s.nowFn())
	}
	if s.store.ReplaceEscrow(e) {
		span.SetAttributes(attribute.Bool("escrow.cached", true))
	}
	return e
}

// CreateRequest is a creation intent from the UI.
type CreateRequest struct {
	PayerID     string
	PayeeID     string
	Amount      decimal.Decimal
	Description string
	ExpiresAt   *time.Time
}

type createBody struct {
	PayerID     string     `json:"payerId"`
	PayeeID     string     `json:"payeeId"`
	Amount      string     `json:"amount"`
	Description string     `json:"description"`
	ExpiresAt   *time.Time `json:"expiresAt"`
}

type refPayload struct {
	EscrowRef string          `json:"escrow_ref"`
	ID        json.RawMessage `json:"id"`
}

// refResponse accepts both a bare {escrow_ref} body and an enveloped one.
type refResponse struct {
	transport.Envelope[refPayload]
	EscrowRef string          `json:"escrow_ref"`
	ID        json.RawMessage `json:"id"`
}

func (r refResponse) ref() (string, error) {
	if err := r.Err(); err != nil {
		return "", err
	}
	ref := strings.TrimSpace(r.EscrowRef)
	if ref == "" {
		ref = strings.TrimSpace(r.Data.EscrowRef)
	}
	if ref == "" {
		return "", errEmptyRef
	}
	return ref, nil
}

func (r refResponse) id() int64 {
	raw := r.ID
	if len(raw) == 0 {
		raw = r.Data.ID
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var text string
		if json.Unmarshal(raw, &text) != nil {
			return 0
		}
		n = json.Number(text)
	}
	id, err := n.Int64()
	if err != nil {
		return 0
	}
	return id
}

// Create validates and submits a new escrow. On success the new escrow is
// prepended to the cache in pending status with no transactions.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, bool) {
	ctx, span := otel.Tracer().Start(ctx, "escrow.create")
	defer span.End()

	now := s.nowFn()
	params := model.CreateParams{
		PayerID:     strings.TrimSpace(req.PayerID),
		PayeeID:     strings.TrimSpace(req.PayeeID),
		Amount:      req.Amount,
		Description: strings.TrimSpace(req.Description),
		ExpiresAt:   req.ExpiresAt,
	}
	if err := model.ValidateCreate(params, s.minimum, now); err != nil {
		s.metrics.RecordTransition("create", "invalid")
		s.fail(ctx, span, err, validationMessage(err, s.minimum))
		return "", false
	}

	body := createBody{
		PayerID:     params.PayerID,
		PayeeID:     params.PayeeID,
		Amount:      params.Amount.String(),
		Description: params.Description,
		ExpiresAt:   params.ExpiresAt,
	}
	var resp refResponse
	if err := s.api.Post(ctx, PathCreate, body, &resp); err != nil {
		s.metrics.RecordTransition("create", "failed")
		s.fail(ctx, span, err, "Unable to create escrow. Please try again.")
		return "", false
	}
	ref, err := resp.ref()
	if err != nil {
		s.metrics.RecordTransition("create", "failed")
		s.fail(ctx, span, err, "Unable to create escrow. Please try again.")
		return "", false
	}

	created := &model.Escrow{
		ID:           resp.id(),
		Ref:          ref,
		Payer:        model.EscrowUser{ID: params.PayerID},
		Payee:        model.EscrowUser{ID: params.PayeeID},
		Amount:       params.Amount,
		Status:       model.StatusPending,
		ExpiresAt:    params.ExpiresAt,
		CreatedAt:    now.UTC(),
		Transactions: []model.Transaction{},
	}
	if params.Description != "" {
		desc := params.Description
		created.Description = &desc
	}
	created.TimeLeft = created.ComputeTimeLeft(now)
	s.store.AddEscrow(created)
	s.metrics.RecordTransition("create", "success")
	span.SetAttributes(attribute.String("escrow.ref", ref))
	return ref, true
}

func validationMessage(err error, minimum decimal.Decimal) string {
	switch {
	case errors.Is(err, model.ErrSelfEscrow):
		return "You cannot create an escrow with yourself."
	case errors.Is(err, model.ErrAmountTooLow):
		return fmt.Sprintf("Amount must be at least %s.", minimum.String())
	case errors.Is(err, model.ErrMissingParty):
		return "Payer and payee are required."
	case errors.Is(err, model.ErrExpiryInPast):
		return "Expiry must be in the future."
	case errors.Is(err, model.ErrDescriptionSize):
		return "Description is too long."
	default:
		return "Invalid escrow details."
	}
}

// Fund moves a pending escrow to funded on behalf of the payer.
func (s *Service) Fund(ctx context.Context, ref, payerID string) (string, bool) {
	return s.transition(ctx, model.ActionFund, ref, payerID)
}

// Release pays the escrow out to the payee.
func (s *Service) Release(ctx context.Context, ref, actorID string) (string, bool) {
	return s.transition(ctx, model.ActionRelease, ref, actorID)
}

// Refund returns the escrowed amount to the payer.
func (s *Service) Refund(ctx context.Context, ref, actorID string) (string, bool) {
	return s.transition(ctx, model.ActionRefund, ref, actorID)
}

// Deliver marks the goods or service as delivered.
func (s *Service) Deliver(ctx context.Context, ref, actorID string) (string, bool) {
	return s.transition(ctx, model.ActionDeliver, ref, actorID)
}

// Dispute escalates the escrow to resolution.
func (s *Service) Dispute(ctx context.Context, ref, actorID string) (string, bool) {
	return s.transition(ctx, model.ActionDispute, ref, actorID)
}

// Cancel withdraws a pending escrow.
func (s *Service) Cancel(ctx context.Context, ref, actorID string) (string, bool) {
	return s.transition(ctx, model.ActionCancel, ref, actorID)
}

// Transition dispatches any action by name.
func (s *Service) Transition(ctx context.Context, action model.Action, ref, actorID string) (string, bool) {
	return s.transition(ctx, action, ref, actorID)
}

// Allowed lists the actions actorID may request on the cached escrow. Screens
// use it to enable buttons.
func (s *Service) Allowed(ref, actorID string) []model.Action {
	e, ok := s.store.Get(ref)
	if !ok {
		return nil
	}
	return s.machine.Allowed(e, actorID)
}

func (s *Service) transition(ctx context.Context, action model.Action, ref, actorID string) (string, bool) {
	ctx, span := otel.Tracer().Start(ctx, "escrow."+string(action), trace.WithAttributes(
		attribute.String("escrow.ref", ref),
		attribute.String("escrow.action", string(action)),
	))
	defer span.End()
	logger := s.logger.With(slog.String("escrow_ref", ref), slog.String("action", string(action)))

	ref = strings.TrimSpace(ref)
	actorID = strings.TrimSpace(actorID)
	if ref == "" || actorID == "" || !action.Valid() {
		s.metrics.RecordTransition(string(action), "invalid")
		s.fail(ctx, span, fmt.Errorf("escrow: %s needs a reference and an actor", action), "Invalid escrow request.")
		return "", false
	}
	if cached, ok := s.store.Get(ref); ok {
		if _, edge := model.Next(cached.Status, action); !edge {
			logger.InfoContext(ctx, "cached status has no edge; deferring to server", slog.String("status", string(cached.Status)))
		}
	}

	seq := s.begin(ref)
	body := map[string]string{"escrowRef": ref, "actorId": actorID}
	if action == model.ActionFund {
		body = map[string]string{"escrowRef": ref, "payerId": actorID}
	}
	var resp refResponse
	if err := s.api.Post(ctx, PathFor(action), body, &resp); err != nil {
		s.finish(ref, seq)
		s.metrics.RecordTransition(string(action), "failed")
		s.fail(ctx, span, err, fmt.Sprintf("Unable to %s escrow. Please try again.", action))
		return "", false
	}
	confirmed, err := resp.ref()
	if err != nil {
		s.finish(ref, seq)
		s.metrics.RecordTransition(string(action), "failed")
		s.fail(ctx, span, err, fmt.Sprintf("Unable to %s escrow. Please try again.", action))
		return "", false
	}

	if !s.settle(ref, seq) {
		logger.DebugContext(ctx, "discarding stale transition response", slog.Uint64("seq", seq))
		s.metrics.RecordTransition(string(action), "stale")
		return confirmed, true
	}

	cached, ok := s.store.Get(ref)
	if !ok {
		s.metrics.RecordTransition(string(action), "success")
		return confirmed, true
	}
	next, err := s.machine.Apply(cached, action, actorID)
	if err != nil {
		logger.WarnContext(ctx, "server accepted transition the cache cannot mirror", slog.Any("error", err))
		s.metrics.RecordTransition(string(action), "skipped")
		return confirmed, true
	}
	s.store.UpdateEscrow(ref, escrowcache.Patch{Status: &next.Status, Transactions: next.Transactions})
	s.metrics.RecordTransition(string(action), "success")
	return confirmed, true
}

// begin tags a new in-flight mutation for ref with a fresh sequence number.
func (s *Service) begin(ref string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.refLatest[ref] = s.seq
	return s.seq
}

// latestFetch reports whether seq still belongs to the newest fetch. The store
// is written after the lock is released so subscribers may call back in.
func (s *Service) latestFetch(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchSeq == seq
}

// settle claims ref's slot for seq when it is still the newest mutation.
func (s *Service) settle(ref string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	latest, tracked := s.refLatest[ref]
	if !tracked || latest != seq {
		return false
	}
	delete(s.refLatest, ref)
	return true
}

// finish forgets ref's sequence when the failed request was the newest one.
func (s *Service) finish(ref string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refLatest[ref] == seq {
		delete(s.refLatest, ref)
	}
}

// RefreshTimeLeft recomputes the advisory countdown of every cached escrow.
func (s *Service) RefreshTimeLeft() {
	now := s.nowFn()
	for _, e := range s.store.Snapshot().Escrows {
		if left := e.ComputeTimeLeft(now); left != nil {
			s.store.UpdateEscrow(e.Ref, escrowcache.Patch{TimeLeft: left})
		}
	}
}
