package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fossil-labs/proof-hub/logging"
	"github.com/fossil-labs/proof-hub/service"
)

// Server is the thin HTTP surface over the proof service. It does request
// framing only, everything else lives behind the service interface.
type Server struct {
	svc        service.Proof
	listenAddr string
	httpServer *http.Server
}

func NewServer(svc service.Proof, listenAddr string) *Server {
	return &Server{svc: svc, listenAddr: listenAddr}
}

type submitRequest struct {
	JobID          string   `json:"job_id,omitempty"`
	AccountAddress string   `json:"account_address"`
	StorageKeys    []string `json:"storage_keys"`
	BlockNumber    uint64   `json:"block_number"`
}

type submitResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
}

type errorResponse struct {
	Code    int64  `json:"code"`
	Message string `json:"error"`
}

func (s *Server) Start() {
	router := mux.NewRouter()
	router.Path("/v1/storage").Methods(http.MethodPost).HandlerFunc(s.handleSubmit)
	router.Path("/v1/jobs/{job_id}").Methods(http.MethodGet).HandlerFunc(s.handleGetJob)
	router.Path("/health").Methods(http.MethodGet).HandlerFunc(s.handleHealth)
	s.httpServer = &http.Server{
		Addr:    s.listenAddr,
		Handler: router,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Errorf("api server stopped, err=%s", err.Error())
			panic(err)
		}
	}()
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, service.Err{Code: 400, Message: "malformed request body"})
		return
	}
	jobID, err := s.svc.SubmitRequest(r.Context(), req.AccountAddress, req.StorageKeys, req.BlockNumber, req.JobID)
	if err != nil {
		var svcErr service.Err
		if errors.As(err, &svcErr) {
			writeError(w, int(svcErr.Code), svcErr)
			return
		}
		writeError(w, http.StatusInternalServerError, service.ErrInternal)
		return
	}
	writeJSON(w, http.StatusAccepted, &submitResponse{
		JobID:     jobID,
		StatusURL: service.StatusURL(jobID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]
	job, err := s.svc.GetJob(jobID)
	if err != nil {
		if service.IsNotFound(err) {
			writeError(w, http.StatusNotFound, service.ErrJobNotFound)
			return
		}
		writeError(w, http.StatusInternalServerError, service.ErrInternal)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Logger.Errorf("failed to write response, err=%s", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, svcErr service.Err) {
	writeJSON(w, status, &errorResponse{Code: svcErr.Code, Message: svcErr.Message})
}
