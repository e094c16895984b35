package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/forever-free1/TideTable/kvstore"
	"github.com/forever-free1/TideTable/storage"
	"github.com/forever-free1/TideTable/watch"
)

// Store 是 Handler 依赖的存储操作集合
type Store interface {
	Put(key, value string) error
	Get(key string) (string, error)
	Delete(key string) error
	Range(from, to string) ([]kvstore.Entry, error)
	Scan() ([]kvstore.Entry, error)
	Count() uint64
}

// Handler HTTP 请求处理器
type Handler struct {
	store Store
	hub   *watch.Hub
	sugar *zap.SugaredLogger
}

// NewHandler 创建新的 Handler
// 参数：
//   - store: 存储实例
//   - hub: 事件通知中心，nil 表示不提供 watch 接口
//   - logger: 结构化日志
//
// 返回：
//   - *Handler: Handler 实例
func NewHandler(store Store, hub *watch.Hub, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store: store,
		hub:   hub,
		sugar: logger.Sugar(),
	}
}

// RegisterRoutes 注册所有路由
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/health", h.HealthCheck)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	{
		kv := v1.Group("/kv")
		{
			kv.POST("/put", h.Put)
			kv.GET("/get", h.Get)
			kv.DELETE("/delete", h.Delete)
			kv.GET("/range", h.Range)
			kv.GET("/scan", h.Scan)
		}

		// Watch API (SSE 长连接)
		v1.GET("/watch", h.Watch)
	}
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"keys":   h.store.Count(),
		"time":   time.Now().Unix(),
	})
}

// Put 请求处理
// POST /v1/kv/put
func (h *Handler) Put(c *gin.Context) {
	type PutRequest struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}

	var req PutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid request: " + err.Error(),
		})
		return
	}

	err := h.store.Put(req.Key, req.Value)
	countOp("put", err)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, kvstore.ErrKeyTooLong) ||
			errors.Is(err, kvstore.ErrValueTooLong) ||
			errors.Is(err, kvstore.ErrEmptyKey) ||
			errors.Is(err, kvstore.ErrNulByte) {
			status = http.StatusBadRequest
		}
		h.sugar.Errorw("put", "key", req.Key, "err", err)
		c.JSON(status, gin.H{
			"error": "put failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "ok",
		"key":     req.Key,
	})
}

// Get 请求处理
// GET /v1/kv/get?key=xxx
func (h *Handler) Get(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "key is required",
		})
		return
	}

	value, err := h.store.Get(key)
	countOp("get", err)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "key not found",
			})
			return
		}
		h.sugar.Errorw("get", "key", key, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "get failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   key,
		"value": value,
	})
}

// Delete 请求处理
// DELETE /v1/kv/delete?key=xxx
func (h *Handler) Delete(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "key is required",
		})
		return
	}

	err := h.store.Delete(key)
	countOp("delete", err)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "key not found",
			})
			return
		}
		h.sugar.Errorw("delete", "key", key, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "delete failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "ok",
		"key":     key,
	})
}

// Range 请求处理
// GET /v1/kv/range?from=xxx&to=yyy
// 返回键落在闭区间 [from, to] 的键值对，按键升序
func (h *Handler) Range(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "from and to are required",
		})
		return
	}

	entries, err := h.store.Range(from, to)
	countOp("range", err)
	if err != nil {
		h.sugar.Errorw("range", "from", from, "to", to, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "range failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// Scan 请求处理
// GET /v1/kv/scan
// 返回全部键值对，按键升序
func (h *Handler) Scan(c *gin.Context) {
	entries, err := h.store.Scan()
	countOp("scan", err)
	if err != nil {
		h.sugar.Errorw("scan", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "scan failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// Watch 处理 Watch 请求
// GET /v1/watch?prefix=xxx
// 使用 Server-Sent Events (SSE) 实现长连接
func (h *Handler) Watch(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "watch is not enabled",
		})
		return
	}

	prefix := c.DefaultQuery("prefix", "")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	watcher := h.hub.Watch(prefix, 1000)
	defer h.hub.Unregister(watcher)

	clientGone := c.Request.Context().Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	c.Status(http.StatusOK)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "streaming not supported",
		})
		return
	}

	fmt.Fprintf(c.Writer, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-clientGone:
			return

		case event := <-watcher.Ch:
			data, err := watch.EventToJSON(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", data)
			flusher.Flush()

		case <-ticker.C:
			// 心跳，保持连接
			fmt.Fprintf(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// Server HTTP 服务器
type Server struct {
	addr    string
	engine  *gin.Engine
	handler *Handler
	srv     *http.Server
}

// NewServer 创建新的 Server
func NewServer(addr string, store Store, hub *watch.Hub, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), metricsMiddleware())

	handler := NewHandler(store, hub, logger)
	handler.RegisterRoutes(engine)

	return &Server{
		addr:    addr,
		engine:  engine,
		handler: handler,
	}
}

// Start 启动服务器并阻塞直到退出
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: s.engine,
	}
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅停机
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// ServeHTTP 实现 http.Handler 接口
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}
