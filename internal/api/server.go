package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/kirillm/liquidity/internal/domain"
	"github.com/kirillm/liquidity/internal/ledger"
	"github.com/kirillm/liquidity/internal/metrics"
	"github.com/kirillm/liquidity/internal/redemption"
	"github.com/kirillm/liquidity/pkg/utils"
	"github.com/shopspring/decimal"
)

// Redemptions операции над заявками
type Redemptions interface {
	Preview(ctx context.Context, in redemption.SubmitInput) (*redemption.PreviewResult, error)
	Submit(ctx context.Context, in redemption.SubmitInput) (*domain.RedemptionRequest, error)
	Approve(ctx context.Context, id string) (*domain.RedemptionRequest, error)
	Deny(ctx context.Context, id, reason string) (*domain.RedemptionRequest, error)
	BeginProcessing(ctx context.Context, id string) (*domain.RedemptionRequest, error)
	Complete(ctx context.Context, id, payoutReference string) (*domain.RedemptionRequest, error)
	Cancel(ctx context.Context, id string) (*domain.RedemptionRequest, error)
	Get(ctx context.Context, id string) (*domain.RedemptionRequest, error)
	List(ctx context.Context, filter domain.RedemptionFilter) ([]domain.RedemptionRequest, error)
	History(ctx context.Context, id string) ([]domain.AuditEntry, error)
	MonthlyReport(ctx context.Context, offeringID string, month time.Time, sponsorEmail string) (*domain.MonthlyTotals, domain.DeliveryReport, error)
	Intake() *redemption.IntakeSwitch
}

// Reserves операции над резервами оферт
type Reserves interface {
	Open(ctx context.Context, offeringID string, balance, target decimal.Decimal) (*ledger.Health, error)
	Deposit(ctx context.Context, offeringID string, amount decimal.Decimal) (*ledger.Health, error)
	QueryHealth(ctx context.Context, offeringID string) (*ledger.Health, error)
}

// Offerings справочник оферт
type Offerings interface {
	PropertyName(offeringID string) string
	SponsorEmail(offeringID string) string
}

// Pinger проверяет доступность хранилища
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	logger      *utils.Logger
	redemptions Redemptions
	reserves    Reserves
	offerings   Offerings
	store       Pinger
	adminToken  string
	addr        string
	started     time.Time
	http        *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type DenyRequest struct {
	Reason string `json:"reason"`
}

type CompleteRequest struct {
	PayoutReference string `json:"payout_reference"`
}

type ReserveRequest struct {
	Balance decimal.Decimal `json:"balance"`
	Target  decimal.Decimal `json:"target"`
}

type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type MonthlyReportRequest struct {
	Month        string `json:"month"` // YYYY-MM, по умолчанию предыдущий месяц
	SponsorEmail string `json:"sponsor_email"`
}

type PauseRequest struct {
	Reason string `json:"reason"`
}

// TransitionResponse заявка после перехода
type TransitionResponse struct {
	Request *domain.RedemptionRequest `json:"request"`
}

func NewServer(
	logger *utils.Logger,
	redemptions Redemptions,
	reserves Reserves,
	offerings Offerings,
	store Pinger,
	adminToken string,
	addr string,
) *Server {
	s := &Server{
		logger:      logger.With("api"),
		redemptions: redemptions,
		reserves:    reserves,
		offerings:   offerings,
		store:       store,
		adminToken:  adminToken,
		addr:        addr,
		started:     time.Now(),
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes собирает роутер
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/redemptions", func(r chi.Router) {
		r.Post("/preview", s.handlePreview)
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Get("/{id}/history", s.handleHistory)
			r.Post("/{id}/approve", s.handleApprove)
			r.Post("/{id}/deny", s.handleDeny)
			r.Post("/{id}/processing", s.handleProcessing)
			r.Post("/{id}/complete", s.handleComplete)
			r.Post("/{id}/cancel", s.handleCancel)
		})
	})

	r.Get("/reserves/{offeringID}", s.handleReserveHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.adminOnly)
		r.Put("/reserves/{offeringID}", s.handleOpenReserve)
		r.Post("/reserves/{offeringID}/deposit", s.handleDeposit)
		r.Post("/offerings/{offeringID}/monthly-report", s.handleMonthlyReport)
		r.Get("/admin/intake", s.handleIntakeStatus)
		r.Post("/admin/intake/pause", s.handleIntakePause)
		r.Post("/admin/intake/resume", s.handleIntakeResume)
	})

	return r
}

func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server on %s", s.addr)

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь текущих запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// adminOnly требует Bearer-токен администратора, если он настроен
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.sendError(w, domain.ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}
	paused, reason, _ := s.redemptions.Intake().Status()
	health["intake_paused"] = paused
	if paused {
		health["intake_pause_reason"] = reason
	}

	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			health["status"] = "degraded"
			health["storage"] = err.Error()
			s.send(w, http.StatusServiceUnavailable, Response{Success: false, Data: health, Error: "storage unavailable"})
			return
		}
	}

	s.sendSuccess(w, health)
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (redemption.SubmitInput, bool) {
	var in redemption.SubmitInput
	if !s.decode(w, r, &in) {
		return in, false
	}
	if in.PropertyName == "" && s.offerings != nil {
		in.PropertyName = s.offerings.PropertyName(in.OfferingID)
	}
	return in, true
}

// handlePreview - расчет выплаты без резервирования
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	result, err := s.redemptions.Preview(r.Context(), in)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, result)
}

// handleSubmit - подача заявки
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	req, err := s.redemptions.Submit(r.Context(), in)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.send(w, http.StatusCreated, Response{Success: true, Data: req})
}

// handleList - список заявок с фильтрами offering_id, investor_id, status, limit
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.RedemptionFilter{
		OfferingID: getQueryParam(r, "offering_id", ""),
		InvestorID: getQueryParam(r, "investor_id", ""),
		Status:     getQueryParam(r, "status", ""),
	}
	limit, err := getLimitParam(r, defaultListLimit, maxListLimit)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	filter.Limit = limit
	items, err := s.redemptions.List(r.Context(), filter)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if items == nil {
		items = []domain.RedemptionRequest{}
	}
	s.sendSuccess(w, items)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.redemptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, req)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.redemptions.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	s.sendSuccess(w, entries)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	req, err := s.redemptions.Approve(r.Context(), chi.URLParam(r, "id"))
	s.sendTransition(w, req, err)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	var body DenyRequest
	if !s.decode(w, r, &body) {
		return
	}
	req, err := s.redemptions.Deny(r.Context(), chi.URLParam(r, "id"), body.Reason)
	s.sendTransition(w, req, err)
}

func (s *Server) handleProcessing(w http.ResponseWriter, r *http.Request) {
	req, err := s.redemptions.BeginProcessing(r.Context(), chi.URLParam(r, "id"))
	s.sendTransition(w, req, err)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body CompleteRequest
	if !s.decode(w, r, &body) {
		return
	}
	req, err := s.redemptions.Complete(r.Context(), chi.URLParam(r, "id"), body.PayoutReference)
	s.sendTransition(w, req, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, err := s.redemptions.Cancel(r.Context(), chi.URLParam(r, "id"))
	s.sendTransition(w, req, err)
}

func (s *Server) handleReserveHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.reserves.QueryHealth(r.Context(), chi.URLParam(r, "offeringID"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, health)
}

func (s *Server) handleOpenReserve(w http.ResponseWriter, r *http.Request) {
	var body ReserveRequest
	if !s.decode(w, r, &body) {
		return
	}
	health, err := s.reserves.Open(r.Context(), chi.URLParam(r, "offeringID"), body.Balance, body.Target)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, health)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var body DepositRequest
	if !s.decode(w, r, &body) {
		return
	}
	health, err := s.reserves.Deposit(r.Context(), chi.URLParam(r, "offeringID"), body.Amount)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, health)
}

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	var body MonthlyReportRequest
	if !s.decode(w, r, &body) {
		return
	}

	offeringID := chi.URLParam(r, "offeringID")
	month := time.Now().UTC().AddDate(0, -1, 0)
	if body.Month != "" {
		parsed, err := time.Parse("2006-01", body.Month)
		if err != nil {
			s.sendError(w, fmt.Sprintf("invalid month %q, expected YYYY-MM", body.Month), http.StatusBadRequest)
			return
		}
		month = parsed
	}
	sponsor := body.SponsorEmail
	if sponsor == "" && s.offerings != nil {
		sponsor = s.offerings.SponsorEmail(offeringID)
	}

	totals, report, err := s.redemptions.MonthlyReport(r.Context(), offeringID, month, sponsor)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"totals":   totals,
		"delivery": report,
	})
}

func (s *Server) intakeStatus() map[string]interface{} {
	paused, reason, since := s.redemptions.Intake().Status()
	status := map[string]interface{}{"paused": paused}
	if paused {
		status["reason"] = reason
		status["since"] = since
	}
	return status
}

func (s *Server) handleIntakeStatus(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, s.intakeStatus())
}

func (s *Server) handleIntakePause(w http.ResponseWriter, r *http.Request) {
	var body PauseRequest
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Reason) == "" {
		body.Reason = "paused by operator"
	}
	if err := s.redemptions.Intake().Pause(r.Context(), body.Reason); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, s.intakeStatus())
}

func (s *Server) handleIntakeResume(w http.ResponseWriter, r *http.Request) {
	if err := s.redemptions.Intake().Resume(r.Context()); err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, s.intakeStatus())
}

// Helper methods
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) sendTransition(w http.ResponseWriter, req *domain.RedemptionRequest, err error) {
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.sendSuccess(w, TransitionResponse{Request: req})
}

// statusFor сопоставляет доменную ошибку HTTP-статусу
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrConfig):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientReserve), errors.Is(err, domain.ErrIntakePaused):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("Request failed: %v", err)
		s.sendError(w, "internal error", code)
		return
	}
	s.sendError(w, err.Error(), code)
}

func (s *Server) send(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("Failed to write response: %v", err)
	}
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	s.send(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	s.send(w, statusCode, Response{
		Success: false,
		Error:   message,
	})
}

// Helper function to parse query parameter
func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to parse int query parameter
const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// getLimitParam читает limit из запроса; допустимы значения 1..max
func getLimitParam(r *http.Request, defaultValue, maxLimit int) (int, error) {
	value := r.URL.Query().Get("limit")
	if value == "" {
		return defaultValue, nil
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 1 || limit > maxLimit {
		return 0, fmt.Errorf("%w: limit must be an integer between 1 and %d", domain.ErrInvalidInput, maxLimit)
	}
	return limit, nil
}
