package clearing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/journals"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes the clearing run endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers clearing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/candidates", h.candidates)
	r.Get("/entries/{entryID}", h.entry)
	r.Post("/prepare", h.prepare)
	r.Post("/preview", h.preview)
	r.Post("/commit", h.commit)
}

// entry returns a committed clearing entry with its lines.
func (h *Handler) entry(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "entryID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "entry id must be a positive integer")
		return
	}

	entry, err := h.service.Entry(r.Context(), id)
	if err != nil {
		if errors.Is(err, journals.ErrEntryNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.respondError(w, r, "get clearing entry", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

// candidates lists the eligible offsetting lines for a document selection.
func (h *Handler) candidates(w http.ResponseWriter, r *http.Request) {
	ids, err := parseDocumentIDs(r.URL.Query().Get("document_ids"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "document_ids must be a comma separated list of ids")
		return
	}

	run, err := h.service.PrepareRun(r.Context(), ids)
	if err != nil {
		h.respondError(w, r, "list clearing candidates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run).Candidates)
}

func parseDocumentIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// prepare assembles a fresh run snapshot: header, open source lines and
// eligible candidates, optionally sorted and pre-filled.
func (h *Handler) prepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	run, err := h.service.PrepareRun(r.Context(), req.DocumentIDs)
	if err != nil {
		h.respondError(w, r, "prepare clearing run", err)
		return
	}
	if req.SortBy != "" {
		SortCandidates(&run, SortKey(req.SortBy), req.SortDesc)
	}
	if req.FillTarget {
		FillToTarget(&run)
	}
	httpx.JSON(w, http.StatusOK, toRunResponse(run))
}

// preview returns the draft entries the engine would produce, without
// persisting anything.
func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	drafts, err := h.service.Preview(r.Context(), PreviewInput{
		DocumentIDs: req.DocumentIDs,
		Amounts:     toCandidateAmounts(req.Amounts),
		FillTarget:  req.FillTarget,
		Date:        req.Date,
		Reference:   req.Reference,
		LinePrefix:  req.LinePrefix,
	})
	if err != nil {
		h.respondError(w, r, "preview clearing run", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDraftEntryResponses(drafts))
}

// commit creates, posts and reconciles the clearing entries.
func (h *Handler) commit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Commit(r.Context(), CommitInput{
		DocumentIDs: req.DocumentIDs,
		Amounts:     toCandidateAmounts(req.Amounts),
		JournalID:   req.JournalID,
		Date:        req.Date,
		Reference:   req.Reference,
		LinePrefix:  req.LinePrefix,
		ActorID:     actorFromContext(r),
	})
	if err != nil {
		h.respondError(w, r, "commit clearing run", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, commitResponse{EntryIDs: result.EntryIDs})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrDocumentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNoDocuments),
		errors.Is(err, ErrMixedPartners),
		errors.Is(err, ErrMixedTypes),
		errors.Is(err, ErrMixedCompanies),
		errors.Is(err, ErrAmountExceedsResidual),
		errors.Is(err, ErrUnknownCandidate),
		errors.Is(err, ErrNoDefaultJournal):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrNothingToClear):
		httpx.Problem(w, http.StatusBadRequest, "Nothing To Clear", err.Error())
	case errors.Is(err, ErrRunLocked):
		httpx.Problem(w, http.StatusConflict, "Run In Progress", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

// actorFromContext extracts the acting user id injected by the gateway;
// absent in development.
func actorFromContext(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	return id
}
