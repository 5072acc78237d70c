package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/pkg/response"
	"github.com/xxxsen/docrag/internal/service"
)

type RAGAPI interface {
	Retrieve(ctx context.Context, query string) ([]*model.Match, error)
	Sync(ctx context.Context) (*service.SyncResult, error)
	Status(ctx context.Context) (*model.IndexStatus, error)
}

type RAGHandler struct {
	svc RAGAPI
}

func NewRAGHandler(svc RAGAPI) *RAGHandler {
	return &RAGHandler{svc: svc}
}

type retrieveResponse struct {
	Query   string         `json:"query"`
	Matches []*model.Match `json:"matches"`
}

func (h *RAGHandler) Retrieve(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		response.Error(c, errcode.ErrInvalid, "q is required")
		return
	}
	matches, err := h.svc.Retrieve(c.Request.Context(), query)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			response.Error(c, errcode.ErrIndexNotReady, "index is not deployed")
			return
		}
		handleError(c, err)
		return
	}
	if matches == nil {
		matches = []*model.Match{}
	}
	response.Success(c, retrieveResponse{Query: query, Matches: matches})
}

// Sync runs detached from the request so a client disconnect does not abort
// an index update half way.
func (h *RAGHandler) Sync(c *gin.Context) {
	res, err := h.svc.Sync(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			response.Error(c, errcode.ErrIndexNotReady, "index is not deployed")
			return
		}
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *RAGHandler) Status(c *gin.Context) {
	status, err := h.svc.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, status)
}
