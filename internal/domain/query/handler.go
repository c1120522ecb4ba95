package query

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/smarthealth/clinqa/internal/platform/auth"
)

type Handler struct {
	orch *Orchestrator
}

func NewHandler(orch *Orchestrator) *Handler {
	return &Handler{orch: orch}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/query", h.Query)
}

type queryRequest struct {
	SessionID      string `json:"session_id"`
	DocumentTypeID int    `json:"document_type_id"`
	DocumentNumber string `json:"document_number"`
	Question       string `json:"question"`
}

// Query answers one question. Business outcomes, including not-found and
// invalid input, are 200 responses carrying an error envelope; only a
// timeout or an internal fault changes the HTTP status.
func (h *Handler) Query(c echo.Context) error {
	userID, ok := auth.UserIDFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing user")
	}
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	resp := h.orch.Handle(c.Request().Context(), Input{
		UserID:         userID,
		SessionID:      req.SessionID,
		DocumentTypeID: req.DocumentTypeID,
		DocumentNumber: req.DocumentNumber,
		Question:       req.Question,
	}, nil)
	return c.JSON(httpStatus(resp), resp)
}

func httpStatus(resp *Response) int {
	if resp.Error == nil {
		return http.StatusOK
	}
	switch resp.Error.Code {
	case CodeRequestTimeout:
		return http.StatusGatewayTimeout
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
