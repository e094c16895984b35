package http

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 指标在包级注册一次，多个 Server 实例共享同一组计数器

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidetable",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP 请求总数，按方法、路由和状态码统计",
		},
		[]string{"method", "path", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tidetable",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP 请求耗时（秒）",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tidetable",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "存储操作总数，按操作和结果统计",
		},
		[]string{"op", "result"},
	)
)

// metricsMiddleware 记录每个请求的计数和耗时
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}

// countOp 记录一次存储操作的结果
func countOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	opsTotal.WithLabelValues(op, result).Inc()
}
