// Package frontdoor は常時起動用のエンドポイント（死活監視と Bot の起動）を提供する。
package frontdoor

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"attendance-bot/internal/session"
)

// Controller: Bot セッションの状態確認と起動
type Controller interface {
	State() session.State
	Ensure() bool
}

type Handler struct{ ctl Controller }

func RegisterRoutes(r gin.IRoutes, ctl Controller) {
	h := &Handler{ctl: ctl}
	r.GET("/", h.Index)
	r.POST("/start-bot", h.StartBot)
	// 外部から定期的に叩いてスリープさせないための死活確認
	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "alive") })
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

const indexPage = `<html>
    <body>
        <h1>Bot 状態: %s</h1>
        <form action="/start-bot" method="post">
            <button type="submit">Botを起動する</button>
        </form>
    </body>
</html>`

// GET /
func (h *Handler) Index(c *gin.Context) {
	status := "未起動"
	if st := h.ctl.State(); st == session.StateActive || st == session.StateStarting {
		status = "起動済み"
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(fmt.Sprintf(indexPage, status)))
}

// POST /start-bot
func (h *Handler) StartBot(c *gin.Context) {
	if h.ctl.Ensure() {
		slog.Info("bot session triggered by /start-bot")
	}
	c.Redirect(http.StatusFound, "/")
}
