package kernel

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/manthysbr/inspectd/internal/config"
	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/services"
	"github.com/rs/cors"
)

// DefaultMaxRequestBytes bounds a whole multipart submission.
const DefaultMaxRequestBytes = 128 << 20

type Server struct {
	logger      *slog.Logger
	doc         *openapi3.T
	inspections *services.InspectionService
	catalog     *services.CatalogService
	events      *services.EventBus
	settings    *config.SettingsStore

	// MaxRequestBytes caps the request body of a submission.
	MaxRequestBytes int64
}

func NewServer(
	logger *slog.Logger,
	doc *openapi3.T,
	inspections *services.InspectionService,
	catalog *services.CatalogService,
	events *services.EventBus,
	settings *config.SettingsStore,
) *Server {
	return &Server{
		logger:          logger,
		doc:             doc,
		inspections:     inspections,
		catalog:         catalog,
		events:          events,
		settings:        settings,
		MaxRequestBytes: DefaultMaxRequestBytes,
	}
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/inspections", s.handleCreateInspection)
	mux.HandleFunc("GET /v1/inspections", s.validated(http.MethodGet, "/v1/inspections", false, s.handleListInspections))
	mux.HandleFunc("GET /v1/inspections/{id}", s.handleGetInspection)
	mux.HandleFunc("GET /v1/inspections/{id}/events", s.handleInspectionSSE)

	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.validated(http.MethodPut, "/v1/settings", true, s.handleUpdateSettings))

	mux.HandleFunc("POST /v1/catalog/devices", s.validated(http.MethodPost, "/v1/catalog/devices", true, s.handleAddDeviceModel))
	mux.HandleFunc("GET /v1/catalog/rules", s.handleListPricingRules)
	mux.HandleFunc("POST /v1/catalog/rules", s.validated(http.MethodPost, "/v1/catalog/rules", true, s.handleAddPricingRule))

	mux.HandleFunc("GET /openapi.json", s.handleOpenAPI)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// WithCORS wraps h with the CORS policy for browser clients.
func WithCORS(origins []string, h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(h)
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.doc)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto status codes. Anything unexpected is
// logged and reported as a 500 without details.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var inputErr *domain.InputError
	switch {
	case errors.As(err, &inputErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: inputErr.Message, Field: inputErr.Field})
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrDeviceModelNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.NewInputError("", "invalid JSON body: %v", err)
	}
	return nil
}
