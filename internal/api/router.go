package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facereg/internal/api/handlers"
	"github.com/your-org/facereg/internal/api/ws"
	"github.com/your-org/facereg/internal/auth"
)

type RouterConfig struct {
	// APIKeys maps API keys to acting users; empty disables auth.
	APIKeys    map[string]string
	Identities *handlers.IdentityHandler
	System     *handlers.SystemHandler
	Hub        *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	r.GET("/healthz", cfg.System.Healthz)
	r.GET("/readyz", cfg.System.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}
	v1.GET("/backups", cfg.System.Backups)

	idH := cfg.Identities
	v1.POST("/identities", idH.Create)
	v1.GET("/identities", idH.List)
	v1.GET("/identities/search", idH.Search)
	v1.GET("/identities/stats", idH.Stats)
	v1.GET("/jobs/:jobId/identities", idH.ListByJob)

	one := v1.Group("/identities/:id")
	one.GET("", idH.Get)
	one.GET("/history", idH.History)
	one.GET("/reevaluation", idH.Reevaluation)

	one.POST("/propose", idH.MoveToProposed)
	one.POST("/confirm", idH.Confirm)
	one.POST("/reject", idH.Reject)
	one.POST("/skip", idH.Skip)
	one.POST("/reset", idH.Reset)
	one.POST("/contest", idH.Contest)
	one.POST("/rename", idH.Rename)
	one.POST("/undo", idH.Undo)

	one.POST("/candidates/:faceId/promote", idH.Promote)
	one.POST("/candidates/:faceId/reject", idH.RejectCandidate)
	one.POST("/faces/:faceId/detach", idH.Detach)

	one.POST("/merge", idH.Merge)
	one.POST("/undo-merge", idH.UndoMerge)
	one.POST("/rejections", idH.RejectPair)
	one.DELETE("/rejections/:otherId", idH.UnrejectPair)

	return r
}
