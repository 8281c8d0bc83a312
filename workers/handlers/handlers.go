package handlers

import (
	"net/http"

	"github.com/go-chi/chi"
	"go.uber.org/zap"

	"crossrelay/redis"
	"crossrelay/registry"
	"crossrelay/types"
)

// RelayStore is the read side of the relay journal
type RelayStore interface {
	Ping() error
	FindAllRelayOperationsByStatus(status string) ([]*types.RelayOperation, error)
	FindRelayOperationsBySourceTxHash(txHash string) ([]*types.RelayOperation, error)
}

type Handlers struct {
	Registry *registry.Registry
	Store    RelayStore // nil when the journal is off
	Logger   *zap.Logger
}

// State lists the registered chains
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	responseJSON(w, &APIStateResponse{
		Status: "ok",
		Chains: h.Registry.Names(),
	}, http.StatusOK)
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(); err != nil {
			h.Logger.Warn("journal unreachable", zap.Error(err))
			responseJSON(w, &APIResponse{
				Status:  "error",
				Message: "journal unreachable",
			}, http.StatusServiceUnavailable)
			return
		}
	}
	responseJSON(w, &APIResponse{
		Status: "ok",
	}, http.StatusOK)
}

func (h *Handlers) Chains(w http.ResponseWriter, r *http.Request) {
	chains := make([]APIChain, 0)
	for _, name := range h.Registry.Names() {
		d, ok := h.Registry.Lookup(name)
		if !ok {
			continue
		}
		c := APIChain{
			Name:        d.Name,
			NativeAsset: d.NativeAsset,
			Signer:      d.Signer,
			RelayDelay:  d.RelayDelay.String(),
		}
		if d.Vault != nil {
			c.Vault = d.Vault.Address()
		}
		chains = append(chains, c)
	}
	responseJSON(w, chains, http.StatusOK)
}

func (h *Handlers) journalOff(w http.ResponseWriter) bool {
	if h.Store != nil {
		return false
	}
	responseJSON(w, &APIResponse{
		Status:  "error",
		Message: "relay journal is disabled",
	}, http.StatusNotFound)
	return true
}

func (h *Handlers) RelaysByStatus(w http.ResponseWriter, r *http.Request) {
	if h.journalOff(w) {
		return
	}

	status := chi.URLParam(r, "status")
	if _, ok := redis.RedisStatusSets[status]; !ok {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Field:   "status",
			Message: "unknown relay status",
		}, http.StatusBadRequest)
		return
	}

	ops, err := h.Store.FindAllRelayOperationsByStatus(status)
	if err != nil {
		h.Logger.Error("error reading relay journal", zap.String("status", status), zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	responseJSON(w, ops, http.StatusOK)
}

func (h *Handlers) RelaysBySourceTx(w http.ResponseWriter, r *http.Request) {
	if h.journalOff(w) {
		return
	}

	ops, err := h.Store.FindRelayOperationsBySourceTxHash(chi.URLParam(r, "hash"))
	if err != nil {
		h.Logger.Error("error reading relay journal", zap.Error(err))
		responseJSON(w, nil, http.StatusInternalServerError)
		return
	}
	if len(ops) == 0 {
		responseJSON(w, &APIResponse{
			Status:  "error",
			Message: "no relay recorded for transaction",
		}, http.StatusNotFound)
		return
	}
	responseJSON(w, ops, http.StatusOK)
}
