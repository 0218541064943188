package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/leafsii/outcome-amm/internal/apperr"
	"github.com/leafsii/outcome-amm/internal/auth"
	"github.com/leafsii/outcome-amm/internal/calc"
	"github.com/leafsii/outcome-amm/internal/markets"
	"github.com/leafsii/outcome-amm/internal/settlement"
	"github.com/leafsii/outcome-amm/internal/ws"
)

const maxBodyBytes = 1 << 20

// TransferReader looks up settlement transfers for clients tracking payouts.
type TransferReader interface {
	GetTransfer(ctx context.Context, id string) (settlement.Transfer, error)
	ListTransfers(ctx context.Context, marketID uint64) ([]settlement.Transfer, error)
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handler struct {
	markets    *markets.Service
	transfers  TransferReader
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	checks     []ReadinessCheck
	logger     *zap.SugaredLogger
	validate   *validator.Validate
	now        func() time.Time
}

func NewHandler(
	marketsSvc *markets.Service,
	transfers TransferReader,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	logger *zap.SugaredLogger,
	checks ...ReadinessCheck,
) *Handler {
	return &Handler{
		markets:    marketsSvc,
		transfers:  transfers,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		checks:     checks,
		logger:     logger,
		validate:   newValidator(),
		now:        time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
		_, err := calc.ParseAmount(fl.Field().String(), fl.FieldName())
		return err == nil
	})
	if err != nil {
		panic(fmt.Sprintf("register amount validation: %v", err))
	}
	return v
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthDTO{Status: "ready"}
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			health.Status = "unavailable"
			health.Reasons = append(health.Reasons, fmt.Sprintf("%s: %v", check.Name, err))
		}
	}
	status := http.StatusOK
	if len(health.Reasons) > 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

func (h *Handler) GetRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.markets.Roles()
	writeJSON(w, http.StatusOK, RolesDTO{Governance: roles.Governance, Oracle: roles.Oracle, Treasury: roles.Treasury, Custodian: roles.Custodian})
}

func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.transfers.GetTransfer(r.Context(), chi.URLParam(r, "transferID"))
	if err != nil {
		if errors.Is(err, settlement.ErrNotFound) {
			writeError(w, http.StatusNotFound, string(apperr.KindNotFound), "transfer not found")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) ListMarketTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := marketID(w, r)
	if !ok {
		return
	}
	if _, err := h.markets.GetMarket(r.Context(), id); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	transfers, err := h.transfers.ListTransfers(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if transfers == nil {
		transfers = []settlement.Transfer{}
	}
	writeJSON(w, http.StatusOK, TransferListDTO{Transfers: transfers})
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest, string(apperr.KindValidation),
				fmt.Sprintf("field %s failed %q validation", fe.Namespace(), fe.Tag()))
			return false
		}
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), err.Error())
		return false
	}
	return true
}

// caller returns the authenticated account or writes 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, string(apperr.KindUnauthorized),
			fmt.Sprintf("%s header is required", auth.HeaderAccount))
		return "", false
	}
	return account, true
}

func marketID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "marketID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid market id")
		return 0, false
	}
	return id, true
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindPayoutSumMismatch, apperr.KindPayoutLengthMismatch:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindState, apperr.KindNoPayout:
		return http.StatusConflict
	case apperr.KindSlippageExceeded, apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		h.logger.Errorw("API error",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, status, string(kind), "internal error")
		return
	}
	writeError(w, status, string(kind), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}
