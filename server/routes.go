package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"realmsync/collision"
	"realmsync/session"
)

const defaultMapHashTTL = time.Minute

// APIConfig configures the auxiliary HTTP routes.
type APIConfig struct {
	AdminKey    string
	CORSOrigins []string
	MapHashTTL  time.Duration
}

// API serves everything outside the websocket protocol.
type API struct {
	cfg        APIConfig
	dispatcher *Dispatcher
	registry   *session.Registry
	rooms      *RoomManager
	maps       *collision.Index
	metrics    *Metrics
	hashes     *ristretto.Cache[string, string]
	log        *zap.Logger
}

// NewAPI builds the HTTP surface and its map-hash cache. Close releases
// the cache.
func NewAPI(cfg APIConfig, d *Dispatcher, reg *session.Registry, rooms *RoomManager, maps *collision.Index, metrics *Metrics, log *zap.Logger) (*API, error) {
	if cfg.MapHashTTL <= 0 {
		cfg.MapHashTTL = defaultMapHashTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	hashes, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &API{
		cfg:        cfg,
		dispatcher: d,
		registry:   reg,
		rooms:      rooms,
		maps:       maps,
		metrics:    metrics,
		hashes:     hashes,
		log:        log.Named("http"),
	}, nil
}

func (a *API) Close() { a.hashes.Close() }

// Router builds the gin engine.
func (a *API) Router() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), a.accessLog())

	cc := cors.DefaultConfig()
	if len(a.cfg.CORSOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = a.cfg.CORSOrigins
	}
	cc.AllowHeaders = append(cc.AllowHeaders, "Authorization")
	e.Use(cors.New(cc))

	e.GET("/ws", gin.WrapF(a.dispatcher.HandleWS))
	e.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	e.GET("/metrics", a.handleMetrics)
	e.GET("/map/hash", a.handleMapHash)
	e.POST("/register", a.handleRegister)
	e.POST("/login", a.handleLogin)

	admin := e.Group("/admin", a.adminGuard())
	admin.GET("/config", a.handleGetConfig)
	admin.POST("/config", a.handlePostConfig)
	return e
}

func (a *API) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

func (a *API) handleRegister(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration failed"})
		return
	}
	acc, err := a.registry.Register(c.Request.Context(), body.Username, body.Password, body.Email,
		session.Meta{IPAddress: c.ClientIP(), GeoLocation: c.GetHeader("X-Geo-Location")})
	switch {
	case errors.Is(err, session.ErrValidation), errors.Is(err, session.ErrConflict):
		c.JSON(http.StatusBadRequest, gin.H{"error": "registration failed"})
		return
	case err != nil:
		a.log.Error("register", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"username": acc.Username})
}

func (a *API) handleLogin(c *gin.Context) {
	var body credentials
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	token, err := a.registry.Login(c.Request.Context(), body.Username, body.Password)
	switch {
	case session.IsAuthFailure(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	case err != nil:
		a.log.Error("login", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("token", token, 0, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// handleMapHash answers GET /map/hash?name=. Hashes are cached for
// MapHashTTL so clients polling on connect do not hit the disk each time.
func (a *API) handleMapHash(c *gin.Context) {
	name := collision.MapName(c.Query("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing map name"})
		return
	}
	if hash, ok := a.hashes.Get(name); ok {
		c.JSON(http.StatusOK, gin.H{"map": name, "hash": hash})
		return
	}
	hash, err := a.maps.Hash(name)
	switch {
	case errors.Is(err, collision.ErrUnknownMap):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown map"})
		return
	case err != nil:
		a.log.Error("map hash", zap.String("map", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	a.hashes.SetWithTTL(name, hash, 1, a.cfg.MapHashTTL)
	a.hashes.Wait()
	c.JSON(http.StatusOK, gin.H{"map": name, "hash": hash})
}
