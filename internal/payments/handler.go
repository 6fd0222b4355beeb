package payments

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/allocation"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerActorID        = "X-Actor-ID"
)

// Handler exposes payment allocation and posting validation over JSON.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers payment routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments/preview", h.previewPayment)
	r.Post("/payments", h.submitPayment)
	r.Post("/payments/{voucher}/cancel", h.cancelPayment)
	r.Get("/parties/{party}/{id}/outstanding", h.listOutstanding)
	r.Post("/postings/validate", h.validatePosting)
}

func (h *Handler) decodePayment(w http.ResponseWriter, r *http.Request) (allocation.PaymentInput, bool) {
	var req paymentRequest
	if !h.decode(w, r, &req) {
		return allocation.PaymentInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		h.respondError(w, err)
		return allocation.PaymentInput{}, false
	}
	return in, true
}

func (h *Handler) previewPayment(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodePayment(w, r)
	if !ok {
		return
	}
	res, err := h.service.Preview(r.Context(), in)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newAllocationResponse(res))
}

func (h *Handler) submitPayment(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodePayment(w, r)
	if !ok {
		return
	}
	receipt, err := h.service.Submit(r.Context(), in, r.Header.Get(headerIdempotencyKey), actorID(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	httpx.JSON(w, status, newReceiptResponse(receipt))
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	companyID, err := queryInt(r, "company_id", true)
	if err != nil {
		h.respondError(w, err)
		return
	}
	on, err := parseDate("posting_date", r.URL.Query().Get("posting_date"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	reversal, err := h.service.Cancel(r.Context(), companyID, chi.URLParam(r, "voucher"), actorID(r), on)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPostingResponse(reversal))
}

func (h *Handler) listOutstanding(w http.ResponseWriter, r *http.Request) {
	party, err := partyFromPath(chi.URLParam(r, "party"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	counterpartyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || counterpartyID <= 0 {
		h.respondError(w, fmt.Errorf("%w: party id must be a positive integer", httpx.ErrValidation))
		return
	}
	companyID, err := queryInt(r, "company_id", true)
	if err != nil {
		h.respondError(w, err)
		return
	}
	pageNo, err := queryInt(r, "page", false)
	if err != nil {
		h.respondError(w, err)
		return
	}
	perPage, err := queryInt(r, "per_page", false)
	if err != nil {
		h.respondError(w, err)
		return
	}
	summary, err := h.service.Outstanding(r.Context(), companyID, party, counterpartyID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	page := shared.NewPagination(int(pageNo), int(perPage), len(summary.Items))
	httpx.JSON(w, http.StatusOK, newOutstandingResponse(summary, h.service.BaseCurrency(), page))
}

func (h *Handler) validatePosting(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if !h.decode(w, r, &req) {
		return
	}
	in, mode, err := req.toInput()
	if err != nil {
		h.respondError(w, err)
		return
	}
	posting, err := h.service.ValidatePosting(in, mode)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPostingResponse(posting))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		h.respondError(w, err)
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			h.respondError(w, err)
			return false
		}
		problem := httpx.ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: "request failed validation",
		}
		for _, fe := range fieldErrs {
			problem.Errors = append(problem.Errors, httpx.FieldProblem{
				Field:  fe.Namespace(),
				Detail: fmt.Sprintf("failed %q constraint", fe.Tag()),
			})
		}
		httpx.WriteProblem(w, problem)
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidation(err):
		httpx.WriteProblem(w, validationProblem(err))
	case errors.Is(err, allocation.ErrInvalidParty):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Party", err.Error())
	case errors.Is(err, ErrSnapshotStale),
		errors.Is(err, ErrPaymentInFlight),
		errors.Is(err, ledger.ErrVoucherAlreadyPosted):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, ledger.ErrPostingNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, httpx.ErrValidation):
		httpx.RespondError(w, err)
	default:
		h.logger.Error("payments request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// validationProblem renders a ledger rejection as a 422 problem. The first
// reason fills kind, field and line; aggregated reasons are listed under errors.
func validationProblem(err error) httpx.ProblemDetail {
	first := describe(err)
	problem := httpx.ProblemDetail{
		Title:  "Posting Rejected",
		Status: http.StatusUnprocessableEntity,
		Detail: err.Error(),
		Kind:   first.Kind,
		Field:  first.Field,
		Line:   first.Line,
	}
	var agg ledger.ValidationErrors
	if errors.As(err, &agg) {
		problem.Kind = string(ledger.KindOf(err))
		if len(agg) > 0 {
			head := describe(agg[0])
			problem.Field, problem.Line = head.Field, head.Line
		}
		for _, e := range agg {
			problem.Errors = append(problem.Errors, describe(e))
		}
	}
	return problem
}

func describe(err error) httpx.FieldProblem {
	p := httpx.FieldProblem{Kind: string(ledger.KindOf(err)), Detail: err.Error()}
	var lineErr *ledger.LineError
	if errors.As(err, &lineErr) {
		p.Field = lineErr.Field
		if lineErr.Index >= 0 {
			idx := lineErr.Index
			p.Line = &idx
		}
	}
	return p
}

func partyFromPath(raw string) (ledger.PartyType, error) {
	switch strings.ToLower(raw) {
	case "customer", "customers":
		return ledger.PartyCustomer, nil
	case "supplier", "suppliers":
		return ledger.PartySupplier, nil
	default:
		return "", allocation.ErrInvalidParty
	}
}

func queryInt(r *http.Request, name string, required bool) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if required {
			return 0, fmt.Errorf("%w: %s is required", httpx.ErrValidation, name)
		}
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", httpx.ErrValidation, name)
	}
	return v, nil
}

func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(r.Header.Get(headerActorID), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
