package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const Namespace = "akb"

var (
	defaultRegistry     *prometheus.Registry
	onceDefaultRegistry sync.Once

	defaultBusiness     *BusinessMetrics
	onceDefaultBusiness sync.Once
)

func DefaultRegistry() *prometheus.Registry {
	onceDefaultRegistry.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(collectors.NewGoCollector())
		r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		defaultRegistry = r
	})
	return defaultRegistry
}

// HTTPMetrics 按 service/route/method/状态类别 统计请求
type HTTPMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InflightRequests *prometheus.GaugeVec
}

func NewHTTPMetrics(reg *prometheus.Registry, namespace, service string) *HTTPMetrics {
	reqTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"service", "route", "method", "status"})
	reqDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"service", "route", "method", "status"})
	inflight := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_inflight_requests",
		Help:      "Current number of inflight HTTP requests",
	}, []string{"service"})

	reg.MustRegister(reqTotal, reqDur, inflight)
	inflight.WithLabelValues(service).Set(0)

	return &HTTPMetrics{
		RequestsTotal:    reqTotal,
		RequestDuration:  reqDur,
		InflightRequests: inflight,
	}
}

// BusinessMetrics 知识同步与问答链路的业务指标，标签统一为 service,status
type BusinessMetrics struct {
	SyncRunTotal       *prometheus.CounterVec
	SyncRunDuration    *prometheus.HistogramVec
	DocumentIndexTotal *prometheus.CounterVec
	EmbeddingDuration  *prometheus.HistogramVec
	RagQueryTotal      *prometheus.CounterVec
	RagQueryDuration   *prometheus.HistogramVec
}

func NewBusinessMetrics(reg *prometheus.Registry, namespace string) *BusinessMetrics {
	mkCounter := func(name, help string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, []string{"service", "status"})
		reg.MustRegister(c)
		return c
	}
	mkHist := func(name, help string, buckets []float64) *prometheus.HistogramVec {
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, []string{"service", "status"})
		reg.MustRegister(h)
		return h
	}
	short := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	long := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}
	return &BusinessMetrics{
		SyncRunTotal:       mkCounter("knowledge_sync_runs_total", "Total knowledge sync runs"),
		SyncRunDuration:    mkHist("knowledge_sync_run_duration_seconds", "Knowledge sync run duration in seconds", long),
		DocumentIndexTotal: mkCounter("knowledge_documents_total", "Asset documents processed by the indexing pipeline"),
		EmbeddingDuration:  mkHist("embedding_duration_seconds", "Embedding call duration in seconds", short),
		RagQueryTotal:      mkCounter("rag_query_total", "Total RAG queries"),
		RagQueryDuration:   mkHist("rag_query_duration_seconds", "RAG query duration in seconds", short),
	}
}

// Business 返回注册在默认 registry 上的单例
func Business() *BusinessMetrics {
	onceDefaultBusiness.Do(func() {
		defaultBusiness = NewBusinessMetrics(DefaultRegistry(), Namespace)
	})
	return defaultBusiness
}
