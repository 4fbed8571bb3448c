package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/datatypes"

	"virthub/internal/models"
	"virthub/internal/orchestrator"
	"virthub/internal/repo"
	"virthub/internal/vault"
)

// Handler — REST-слой поверх хранилищ и оркестратора. Секреты платформ
// принимаются только здесь и сразу запечатываются; наружу не отдаются никогда.
type Handler struct {
	Platforms *repo.PlatformStore
	Creds     *repo.CredentialStore
	Inventory *repo.InventoryStore
	Metrics   *repo.MetricStore
	Runs      *repo.RunStore
	Orch      *orchestrator.Orchestrator
	Vault     *vault.Vault
}

type credentialInput struct {
	AuthKind  string `json:"auth_kind"` // password|keypair|token
	Principal string `json:"principal"`
	Secret    string `json:"secret"`
}

type createPlatformInput struct {
	Name       string           `json:"name"`
	Address    string           `json:"address"`
	Port       int              `json:"port"`
	TLSVerify  bool             `json:"tls_verify"`
	Kind       string           `json:"kind"` // controller|standalone-host
	Tags       datatypes.JSON   `json:"tags"`
	Credential *credentialInput `json:"credential"`
}

func (in *createPlatformInput) validate() string {
	if strings.TrimSpace(in.Name) == "" {
		return "name is required"
	}
	if strings.TrimSpace(in.Address) == "" {
		return "address is required"
	}
	switch in.Kind {
	case "", models.PlatformKindController, models.PlatformKindHost:
	default:
		return "kind must be controller or standalone-host"
	}
	if in.Credential != nil {
		if msg := in.Credential.validate(); msg != "" {
			return msg
		}
	}
	return ""
}

func (in *credentialInput) validate() string {
	switch in.AuthKind {
	case models.AuthKindPassword, models.AuthKindKeypair, models.AuthKindToken:
	default:
		return "credential.auth_kind must be password, keypair or token"
	}
	if in.Secret == "" {
		return "credential.secret is required"
	}
	return ""
}

// CreatePlatform регистрирует платформу; учётные данные (если переданы)
// запечатываются и сохраняются той же операцией.
func (h *Handler) CreatePlatform(w http.ResponseWriter, r *http.Request) {
	var in createPlatformInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}
	if msg := in.validate(); msg != "" {
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed", msg, nil)
		return
	}

	p := &models.Platform{
		Name:      in.Name,
		Address:   in.Address,
		Port:      in.Port,
		TLSVerify: in.TLSVerify,
		Kind:      in.Kind,
		Tags:      in.Tags,
	}
	if p.Port == 0 {
		p.Port = 443
	}
	if err := h.Platforms.Create(r.Context(), p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			models.WriteProblem(w, http.StatusConflict, "Conflict", "platform with this name already exists", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}

	if in.Credential != nil {
		if err := h.storeCredential(w, r, p.ID, in.Credential); err != nil {
			return // ответ уже записан
		}
	}
	models.WriteJSON(w, http.StatusCreated, p)
}

// PutCredential выдаёт или заменяет учётные данные платформы.
func (h *Handler) PutCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := h.platformFromRequest(w, r)
	if !ok {
		return
	}
	var in credentialInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body", nil)
		return
	}
	if msg := in.validate(); msg != "" {
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed", msg, nil)
		return
	}
	if err := h.storeCredential(w, r, p.ID, &in); err != nil {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storeCredential(w http.ResponseWriter, r *http.Request, platformID uint, in *credentialInput) error {
	secret := []byte(in.Secret)
	blob, err := h.Vault.Seal(secret)
	vault.Zero(secret)
	in.Secret = ""
	if err != nil {
		if errors.Is(err, vault.ErrKeyUnavailable) {
			models.WriteProblem(w, http.StatusServiceUnavailable, "Vault Unavailable",
				"master key is not configured; credential rejected", nil)
			return err
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to seal credential", nil)
		return err
	}
	cred := &models.Credential{
		PlatformID: platformID,
		AuthKind:   in.AuthKind,
		Principal:  in.Principal,
		Secret:     blob,
	}
	if err := h.Creds.Upsert(r.Context(), cred); err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to store credential", nil)
		return err
	}
	return nil
}

func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	out, err := h.Platforms.List(r.Context())
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) GetPlatform(w http.ResponseWriter, r *http.Request) {
	p, ok := h.platformFromRequest(w, r)
	if !ok {
		return
	}
	models.WriteJSON(w, http.StatusOK, struct {
		*models.Platform
		SyncRunning bool `json:"sync_running"`
	}{p, h.Orch.Running(p.ID)})
}

func (h *Handler) DeletePlatform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	if err := h.Platforms.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "platform not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggerSync запускает синхронизацию в фоне. Занятый слот — 409,
// без буферизации повторных запросов.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["uuid"]
	p, err := h.Orch.TriggerSync(r.Context(), id)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		models.WriteProblem(w, http.StatusNotFound, "Not Found", "platform not found", nil)
	case errors.Is(err, orchestrator.ErrAlreadyRunning):
		models.WriteProblem(w, http.StatusConflict, "Sync In Progress",
			"a sync for this platform is already running", nil)
	case errors.Is(err, orchestrator.ErrSuspended):
		models.WriteProblem(w, http.StatusConflict, "Platform Suspended",
			"resume the platform before syncing", nil)
	case err != nil:
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
	default:
		models.WriteJSON(w, http.StatusAccepted, map[string]any{
			"platform": p.UUID,
			"status":   "started",
		})
	}
}

func (h *Handler) SuspendPlatform(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, true)
}

func (h *Handler) ResumePlatform(w http.ResponseWriter, r *http.Request) {
	h.setSuspended(w, r, false)
}

func (h *Handler) setSuspended(w http.ResponseWriter, r *http.Request, suspended bool) {
	id := mux.Vars(r)["uuid"]
	p, err := h.Platforms.SetSuspended(r.Context(), id, suspended)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "platform not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, p)
}

// ListInventory — инвентарь вида; ?include_deleted=true добавляет
// мягко удалённые записи (история ушедших объектов).
func (h *Handler) ListInventory(w http.ResponseWriter, r *http.Request) {
	p, ok := h.platformFromRequest(w, r)
	if !ok {
		return
	}
	kind, ok := kindFromRequest(w, r)
	if !ok {
		return
	}
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	out, err := h.Inventory.List(r.Context(), p.ID, kind, includeDeleted)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// PatchLocalFields — операторские аннотации записи; синк их не трогает.
func (h *Handler) PatchLocalFields(w http.ResponseWriter, r *http.Request) {
	p, ok := h.platformFromRequest(w, r)
	if !ok {
		return
	}
	kind, ok := kindFromRequest(w, r)
	if !ok {
		return
	}
	remoteID := mux.Vars(r)["remote_id"]

	var fields datatypes.JSON
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		models.WriteProblem(w, http.StatusBadRequest, "Bad Request", "body must be a JSON object", nil)
		return
	}
	if err := h.Inventory.SetLocalFields(r.Context(), p.ID, kind, remoteID, fields); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "inventory record not found", nil)
			return
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueryMetrics — ряды одной метрики сущности за интервал.
// Параметры: entity_kind, entity_id, metric, from, to (RFC3339; to по умолчанию — сейчас).
func (h *Handler) QueryMetrics(w http.ResponseWriter, r *http.Request) {
	p, ok := h.platformFromRequest(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	kind := models.Kind(q.Get("entity_kind"))
	if kind != models.KindHost && kind != models.KindVM {
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed",
			"entity_kind must be host or vm", nil)
		return
	}
	remoteID := q.Get("entity_id")
	metric := q.Get("metric")
	if remoteID == "" || metric == "" {
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed",
			"entity_id and metric are required", nil)
		return
	}
	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed",
			"from must be RFC3339", nil)
		return
	}
	to := time.Now().UTC()
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			models.WriteProblem(w, http.StatusUnprocessableEntity, "Validation Failed",
				"to must be RFC3339", nil)
			return
		}
	}

	out, err := h.Metrics.Query(r.Context(), p.ID, kind, remoteID, metric, from, to)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, out)
}

// ListRuns — журнал прогонов платформы, свежие первыми.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	p, ok := h.platformFromRequest(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.Runs.Latest(r.Context(), p.ID, limit)
	if err != nil {
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return
	}
	models.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) platformFromRequest(w http.ResponseWriter, r *http.Request) (*models.Platform, bool) {
	p, err := h.Platforms.GetByUUID(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			models.WriteProblem(w, http.StatusNotFound, "Not Found", "platform not found", nil)
			return nil, false
		}
		models.WriteProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error(), nil)
		return nil, false
	}
	return p, true
}

func kindFromRequest(w http.ResponseWriter, r *http.Request) (models.Kind, bool) {
	kind := models.Kind(mux.Vars(r)["kind"])
	switch kind {
	case models.KindHost, models.KindVM, models.KindDatastore, models.KindNetwork:
		return kind, true
	}
	models.WriteProblem(w, http.StatusNotFound, "Not Found",
		"kind must be host, vm, datastore or network", nil)
	return "", false
}
