package handlers

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/danghamo/techtrack/internal/api/jsonrpcx"
	"github.com/danghamo/techtrack/internal/api/wsproto"
	"github.com/danghamo/techtrack/internal/domain/shared"
	"github.com/danghamo/techtrack/internal/domain/technician"
	"github.com/danghamo/techtrack/pkg/logger"
)

// TechnicianDirectory reads the technician directory
type TechnicianDirectory interface {
	Directory(ctx context.Context) ([]*technician.Technician, error)
	Technician(ctx context.Context, id technician.ID) (*technician.Technician, error)
}

// TechnicianHandler serves the directory over JSON-RPC 2.0
type TechnicianHandler struct {
	logger    *logger.Logger
	directory TechnicianDirectory
	validate  *validator.Validate
}

// NewTechnicianHandler creates a new technician handler
func NewTechnicianHandler(logger *logger.Logger, directory TechnicianDirectory) *TechnicianHandler {
	return &TechnicianHandler{
		logger:    logger.WithComponent("technician-handler"),
		directory: directory,
		validate:  validator.New(),
	}
}

// Request parameter structures
type ListTechniciansRequest struct {
	LocatedOnly bool `json:"located_only,omitempty"` // Skip technicians without a known position
}

type GetTechnicianRequest struct {
	ID int64 `json:"id" validate:"gt=0"`
}

// Response structures for Swagger documentation
type ListTechniciansResponse struct {
	Technicians []wsproto.TechnicianSummary `json:"technicians"`
	Total       int                         `json:"total"`
}

type GetTechnicianResponse = wsproto.TechnicianSummary

// List handles POST /api/v1/technician.List
// @Summary List technicians
// @Description List every known technician with last location and activity
// @Tags technician
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[ListTechniciansRequest] true "JSON-RPC request with ListTechniciansRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[ListTechniciansResponse] "Technician directory"
// @Failure 500 {object} jsonrpcx.ErrorResponse "Internal server error"
// @Router /api/v1/technician.List [post]
func (h *TechnicianHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	var params ListTechniciansRequest
	if err := req.DecodeParams(&params); err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
		return
	}

	technicians, err := h.directory.Directory(r.Context())
	if err != nil {
		h.logger.Error("Failed to list technicians", zap.Error(err))
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InternalError, "Failed to list technicians")
		return
	}

	summaries := make([]wsproto.TechnicianSummary, 0, len(technicians))
	for _, t := range technicians {
		if params.LocatedOnly && t.Location == nil {
			continue
		}
		summaries = append(summaries, wsproto.Summarize(t))
	}

	jsonrpcx.Success(w, req.ID, ListTechniciansResponse{
		Technicians: summaries,
		Total:       len(summaries),
	})
}

// Get handles POST /api/v1/technician.Get
// @Summary Get a technician
// @Description Get one technician's directory record and last location
// @Tags technician
// @Accept json
// @Produce json
// @Param request body jsonrpcx.RequestT[GetTechnicianRequest] true "JSON-RPC request with GetTechnicianRequest params"
// @Success 200 {object} jsonrpcx.ResponseT[GetTechnicianResponse] "Technician information"
// @Failure 400 {object} jsonrpcx.ErrorResponse "Invalid request parameters"
// @Failure 404 {object} jsonrpcx.ErrorResponse "Technician not found"
// @Failure 500 {object} jsonrpcx.ErrorResponse "Internal server error"
// @Router /api/v1/technician.Get [post]
func (h *TechnicianHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	var params GetTechnicianRequest
	if err := req.DecodeParams(&params); err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
		return
	}
	if err := h.validate.Struct(params); err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "id must be a positive integer")
		return
	}

	found, err := h.directory.Technician(r.Context(), technician.ID(params.ID))
	switch {
	case shared.IsNotFound(err):
		jsonrpcx.WithError(r, req.ID, jsonrpcx.NotFound, err.Error())
		return
	case shared.IsInvalidIdentity(err):
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, err.Error())
		return
	case err != nil:
		h.logger.Error("Failed to get technician", zap.Int64("technician_id", params.ID), zap.Error(err))
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InternalError, "Failed to get technician")
		return
	}

	jsonrpcx.Success(w, req.ID, wsproto.Summarize(found))
}
