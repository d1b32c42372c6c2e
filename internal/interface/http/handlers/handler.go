package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Anya-org/dlcd/internal/core/application"
	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Invariant string `json:"invariant,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type handler struct {
	svc application.Service
}

// NewRouter returns the REST routes of the daemon. Request metrics are
// registered to the given registerer and exposed on /metrics through
// gatherer.
func NewRouter(
	svc application.Service, registerer prometheus.Registerer, gatherer prometheus.Gatherer,
) (http.Handler, error) {
	metrics, err := newHttpMetrics(registerer)
	if err != nil {
		return nil, err
	}
	if err := registerer.Register(contractsCollector{svc}); err != nil {
		return nil, err
	}
	h := &handler{svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Use(metrics.middleware)

		api.Get("/info", h.getInfo)
		api.Get("/oracles/{id}/announcements", h.listAnnouncements)
		api.Route("/contracts", func(contracts chi.Router) {
			contracts.Post("/", h.createContract)
			contracts.Get("/", h.listContracts)
			contracts.Post("/accept", h.acceptContract)
			contracts.Get("/{id}", h.getContract)
			contracts.Post("/{id}/sign", h.signContract)
			contracts.Post("/{id}/finalize", h.finalizeContract)
			contracts.Post("/{id}/settle", h.settleContract)
			contracts.Post("/{id}/refund", h.refundContract)
		})
	})

	return r, nil
}

func (h *handler) getInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.GetInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handler) listAnnouncements(w http.ResponseWriter, r *http.Request) {
	announcements, err := h.svc.ListAnnouncements(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"announcements": announcements})
}

func (h *handler) createContract(w http.ResponseWriter, r *http.Request) {
	var body createContractRequest
	if err := readJSON(r, &body); err != nil {
		writeBadRequest(w, err)
		return
	}
	req, err := body.parse()
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	offer, err := h.svc.CreateContract(r.Context(), *req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

func (h *handler) acceptContract(w http.ResponseWriter, r *http.Request) {
	var offer application.OfferMessage
	if err := readJSON(r, &offer); err != nil {
		writeBadRequest(w, err)
		return
	}
	if _, err := parseContractId(offer.ContractId); err != nil {
		writeBadRequest(w, err)
		return
	}

	accept, err := h.svc.AcceptContract(r.Context(), offer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, accept)
}

func (h *handler) signContract(w http.ResponseWriter, r *http.Request) {
	contractId, err := parseContractId(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var accept application.AcceptMessage
	if err := readJSON(r, &accept); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := checkContractId(contractId, accept.ContractId); err != nil {
		writeBadRequest(w, err)
		return
	}
	accept.ContractId = contractId

	sign, err := h.svc.SignContract(r.Context(), accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sign)
}

func (h *handler) finalizeContract(w http.ResponseWriter, r *http.Request) {
	contractId, err := parseContractId(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var sign application.SignMessage
	if err := readJSON(r, &sign); err != nil {
		writeBadRequest(w, err)
		return
	}
	if err := checkContractId(contractId, sign.ContractId); err != nil {
		writeBadRequest(w, err)
		return
	}
	sign.ContractId = contractId

	status, err := h.svc.FinalizeContract(r.Context(), sign)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) getContract(w http.ResponseWriter, r *http.Request) {
	contractId, err := parseContractId(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	status, err := h.svc.GetContractStatus(r.Context(), contractId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) listContracts(w http.ResponseWriter, r *http.Request) {
	states, err := parseStates(r.URL.Query()["state"])
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	contracts, err := h.svc.ListContracts(r.Context(), states...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contracts": contracts})
}

func (h *handler) settleContract(w http.ResponseWriter, r *http.Request) {
	contractId, err := parseContractId(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	status, err := h.svc.Settle(r.Context(), contractId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) refundContract(w http.ResponseWriter, r *http.Request) {
	contractId, err := parseContractId(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	status, err := h.svc.Refund(r.Context(), contractId)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeError maps application errors to status codes: retryable contract
// errors are 503, violated invariants 422 and other state conflicts 409.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrContractNotFound) || errors.Is(err, ports.ErrUnknownOracle) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	var contractErr *domain.ContractError
	if errors.As(err, &contractErr) {
		code := http.StatusUnprocessableEntity
		if contractErr.Retryable() {
			code = http.StatusServiceUnavailable
		} else if len(contractErr.Invariant) <= 0 {
			code = http.StatusConflict
		}
		writeJSON(w, code, errorResponse{
			Error:     err.Error(),
			Kind:      contractErr.Kind.String(),
			Invariant: contractErr.Invariant,
			Retryable: contractErr.Retryable(),
		})
		return
	}

	log.WithError(err).Warn("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}
