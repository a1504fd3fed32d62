package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// statusClass 把状态码折叠成 2xx/4xx/5xx，控制标签基数
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

func MetricsMiddleware(service string, hm *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		inflight := hm.InflightRequests.WithLabelValues(service)
		inflight.Inc()
		defer inflight.Dec()

		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		st := statusClass(c.Writer.Status())
		hm.RequestsTotal.WithLabelValues(service, route, c.Request.Method, st).Inc()
		hm.RequestDuration.WithLabelValues(service, route, c.Request.Method, st).Observe(time.Since(start).Seconds())
	}
}
