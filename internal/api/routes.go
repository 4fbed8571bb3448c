package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes монтирует REST API под /api/v1.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/platforms", h.CreatePlatform).Methods(http.MethodPost)
	v1.HandleFunc("/platforms", h.ListPlatforms).Methods(http.MethodGet)
	v1.HandleFunc("/platforms/{uuid}", h.GetPlatform).Methods(http.MethodGet)
	v1.HandleFunc("/platforms/{uuid}", h.DeletePlatform).Methods(http.MethodDelete)

	v1.HandleFunc("/platforms/{uuid}/credential", h.PutCredential).Methods(http.MethodPut)
	v1.HandleFunc("/platforms/{uuid}/sync", h.TriggerSync).Methods(http.MethodPost)
	v1.HandleFunc("/platforms/{uuid}/suspend", h.SuspendPlatform).Methods(http.MethodPost)
	v1.HandleFunc("/platforms/{uuid}/resume", h.ResumePlatform).Methods(http.MethodPost)

	v1.HandleFunc("/platforms/{uuid}/inventory/{kind}", h.ListInventory).Methods(http.MethodGet)
	v1.HandleFunc("/platforms/{uuid}/inventory/{kind}/{remote_id}/local", h.PatchLocalFields).Methods(http.MethodPatch)

	v1.HandleFunc("/platforms/{uuid}/metrics", h.QueryMetrics).Methods(http.MethodGet)
	v1.HandleFunc("/platforms/{uuid}/runs", h.ListRuns).Methods(http.MethodGet)
}
