package autofilter

import (
	"context"
	"net/http"
	"time"

	"github.com/fvbock/endless"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DuyNguyen1879/autofilter/config"
)

// API provides the read-only HTTP status interface of the daemon. It serves
// snapshots only; nothing here can mutate the filter state.
type API struct {
	daemon *Daemon
	router *gin.Engine
	config *config.Config
	ctx    context.Context
}

// NewAPI creates the status API and starts listening.
func NewAPI(ctx context.Context, config *config.Config, daemon *Daemon) (*API, error) {
	api := &API{
		config: config,
		daemon: daemon,
		ctx:    ctx,
	}

	api.run()

	return api, nil
}

func (a *API) run() {
	gin.SetMode(gin.ReleaseMode)
	a.router = gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	a.router.Use(cors.New(corsConfig))

	a.router.GET("/blocked/ips", a.getBlockedIPs)
	a.router.GET("/blocked/ips/:ip", a.getBlockedIP)
	a.router.GET("/batch", a.getBatch)
	a.router.GET("/stats/minutes", a.getMinutes)
	a.router.GET("/policy", a.getPolicy)
	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	go endless.ListenAndServe(a.config.APIAddress, a.router)
}

func (a *API) getBlockedIPs(c *gin.Context) {
	c.JSON(http.StatusOK, a.daemon.BlockedRecords())
}

func (a *API) getBlockedIP(c *gin.Context) {
	rec := a.daemon.BlockedRecord(c.Param("ip"))
	if rec == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "IP is not blocked"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (a *API) getBatch(c *gin.Context) {
	c.JSON(http.StatusOK, a.daemon.BatchSnapshot())
}

func (a *API) getMinutes(c *gin.Context) {
	c.JSON(http.StatusOK, a.daemon.FlushHistory())
}

func (a *API) getPolicy(c *gin.Context) {
	policy := a.daemon.Policy()

	blocks := make(map[string]int64, len(policy.Blocks()))
	for entity, d := range policy.Blocks() {
		blocks[entity] = int64(d / time.Second)
	}

	c.JSON(http.StatusOK, gin.H{
		"limits":        policy.Limits(),
		"block_seconds": blocks,
	})
}
