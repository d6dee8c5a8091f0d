package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_pipeline_runs_total",
			Help: "Pipeline runs by trigger and final state",
		},
		[]string{"trigger", "state"},
	)

	StageResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_pipeline_stage_results_total",
			Help: "Pipeline stage outcomes",
		},
		[]string{"stage", "status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rating_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"stage"},
	)

	ImagesRated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rating_images_rated_total",
			Help: "Images that received a difficulty rating",
		},
	)

	FeedbackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rating_feedback_deliveries_total",
			Help: "Feedback deliveries by channel and result",
		},
		[]string{"channel", "result"},
	)

	ModelVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rating_model_version",
			Help: "Version of the current rating model artifact",
		},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(PipelineRuns)
		prometheus.MustRegister(StageResults)
		prometheus.MustRegister(StageDuration)
		prometheus.MustRegister(ImagesRated)
		prometheus.MustRegister(FeedbackDeliveries)
		prometheus.MustRegister(ModelVersion)
	})
}

func ObserveStage(stage, status string, d time.Duration) {
	StageResults.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
