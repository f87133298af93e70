package attendance

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	// Bot の完了メッセージに載せる閲覧用
	r.GET("/weekly/:server_id", h.GetLatest)
}

// GET /weekly/:server_id
func (h *Handler) GetLatest(c *gin.Context) {
	resp, err := h.svc.Latest(c.Request.Context(), c.Param("server_id"))
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, resp)
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorFromErr(err error) errorDTO {
	var e errorDTO
	e.Error.Code = CodeOf(err)
	e.Error.Message = err.Error()
	if api, ok := err.(*APIError); ok {
		e.Error.Message = api.Message
	}
	return e
}
