package quotes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/quotedesk/quotedesk/internal/platform/httpx"
	"github.com/quotedesk/quotedesk/internal/quotes/calc"
	"github.com/quotedesk/quotedesk/internal/quotes/snapshot"
	"github.com/quotedesk/quotedesk/internal/quotes/structure"
	"github.com/quotedesk/quotedesk/internal/shared"
)

const (
	idempotencyHeader = "Idempotency-Key"
	displayPlaces     = 2
)

// ErrInvalidID is returned for a malformed {id} path parameter.
var ErrInvalidID = fmt.Errorf("quotes: id %w", shared.ErrInvalidInput)

// Handler wires HTTP endpoints for quotes.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers quote routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotes", func(r chi.Router) {
		r.Post("/validate", h.validate)
		r.Post("/calculate", h.calculate)
		r.Post("/snapshots", h.buildSnapshot)
		r.Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Put("/", h.update)
			r.Post("/duplicate", h.duplicate)
			r.Post("/revisions", h.revise)
			r.Post("/status", h.changeStatus)
			r.Get("/history", h.history)
		})
	})
}

func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	if err := h.service.Validate(q); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (h *Handler) calculate(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	res, err := h.service.Calculate(q)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, CalculationResponse{
		Calculation: res.Rounded(displayPlaces),
		Display:     res.Format(calc.MatchLocale(r.Header.Get("Accept-Language")), displayPlaces),
	})
}

func (h *Handler) buildSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, structure.CodeValidation, err.Error())
		return
	}
	m, err := h.service.BuildSnapshot(r.Context(), snapshot.Refs{
		MasterItemIDs: req.MasterItemIDs,
		SupplierIDs:   req.SupplierIDs,
		CustomerID:    req.CustomerID,
	})
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	q, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	q.ID = 0
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	id, err := h.service.Save(r.Context(), q, shared.ActorFromContext(r.Context()), key)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.respondQuote(w, r, http.StatusCreated, id)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.respondQuote(w, r, http.StatusOK, id)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	q, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	if q.Token == uuid.Nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "token is required to update a quote")
		return
	}
	q.ID = id
	if _, err := h.service.Save(r.Context(), q, shared.ActorFromContext(r.Context()), ""); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.respondQuote(w, r, http.StatusOK, id)
}

func (h *Handler) duplicate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var req DuplicateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, structure.CodeValidation, err.Error())
		return
	}
	newID, err := h.service.Duplicate(r.Context(), id, req.options(), shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.respondQuote(w, r, http.StatusCreated, newID)
}

func (h *Handler) revise(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	q, ok := h.decodeQuote(w, r)
	if !ok {
		return
	}
	newID, err := h.service.Revise(r.Context(), id, q, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.respondQuote(w, r, http.StatusCreated, newID)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	var req StatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, structure.CodeValidation, err.Error())
		return
	}
	token, err := uuid.Parse(req.Token)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "bad_request", "token must be a uuid")
		return
	}
	err = h.service.ChangeStatus(r.Context(), id, structure.Status(req.Status), token, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	h.respondQuote(w, r, http.StatusOK, id)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	entries, err := h.service.History(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": entries})
}

// respondQuote reloads id so the body always carries the stored token.
func (h *Handler) respondQuote(w http.ResponseWriter, r *http.Request, status int, id int64) {
	q, err := h.service.Load(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, err)
		return
	}
	resp := QuoteResponse{Quote: q}
	// Priced directly so re-rendering a stored quote is not counted as a
	// calculation request.
	if v, err := structure.Check(*q); err == nil {
		res := calc.Calculate(v)
		rounded := res.Rounded(displayPlaces)
		display := res.Format(calc.MatchLocale(r.Header.Get("Accept-Language")), displayPlaces)
		resp.Calculation = &rounded
		resp.Display = &display
	} else {
		h.logger.Warn("stored quote not calculable", slog.Int64("quote_id", id), slog.Any("error", err))
	}
	httpx.JSON(w, status, resp)
}

func (h *Handler) decodeQuote(w http.ResponseWriter, r *http.Request) (structure.Quote, bool) {
	var req QuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, err)
		return structure.Quote{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, structure.CodeValidation, err.Error())
		return structure.Quote{}, false
	}
	q, err := req.toQuote()
	if err != nil {
		httpx.RespondError(w, r, err)
		return structure.Quote{}, false
	}
	return q, true
}

func parseID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
