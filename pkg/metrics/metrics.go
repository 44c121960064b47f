// Package metrics 提供 Prometheus 指标集合与暴露服务
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 校验次数（按合规结论）
	ValidationsTotal *prometheus.CounterVec
	// 风险评分分布
	RiskScore prometheus.Histogram
	// 被跳过的异常规则
	RuleFailuresTotal *prometheus.CounterVec

	// 账本操作（按操作与结果）
	LedgerOpsTotal *prometheus.CounterVec
	// 自动放款结果
	AutoReleasesTotal *prometheus.CounterVec
	// Outbox 投递条数
	OutboxDispatchedTotal *prometheus.CounterVec
}

// New 创建指标实例，使用独立 Registry，避免重复注册
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ValidationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "validations_total",
			Help:      "Opportunity validations by compliance status",
		}, []string{"compliance_status"}),
		RiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "risk_score",
			Help:      "Distribution of opportunity risk scores",
			Buckets:   []float64{0, 10, 30, 60, 80, 100},
		}),
		RuleFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "rule_failures_total",
			Help:      "Validation rules skipped because they errored or panicked",
		}, []string{"rule_id"}),
		LedgerOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "ledger_operations_total",
			Help:      "Escrow ledger operations by operation and result",
		}, []string{"operation", "result"}),
		AutoReleasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "auto_releases_total",
			Help:      "Automatic release attempts by outcome",
		}, []string{"outcome"}),
		OutboxDispatchedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "investportal",
			Subsystem: serviceName,
			Name:      "outbox_dispatched_total",
			Help:      "Outbox messages dispatched by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ValidationsTotal,
		m.RiskScore,
		m.RuleFailuresTotal,
		m.LedgerOpsTotal,
		m.AutoReleasesTotal,
		m.OutboxDispatchedTotal,
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordValidation 记录一次校验结论
func (m *Metrics) RecordValidation(complianceStatus string, riskScore int) {
	m.ValidationsTotal.WithLabelValues(complianceStatus).Inc()
	m.RiskScore.Observe(float64(riskScore))
}

// RecordRuleFailure 记录一条异常规则
func (m *Metrics) RecordRuleFailure(ruleID string) {
	m.RuleFailuresTotal.WithLabelValues(ruleID).Inc()
}

// RecordLedgerOp 记录一次账本操作
func (m *Metrics) RecordLedgerOp(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerOpsTotal.WithLabelValues(operation, result).Inc()
}

// RecordAutoRelease 记录自动放款结果：released, skipped, error
func (m *Metrics) RecordAutoRelease(outcome string) {
	m.AutoReleasesTotal.WithLabelValues(outcome).Inc()
}

// RecordOutboxDispatch 记录 Outbox 投递结果
func (m *Metrics) RecordOutboxDispatch(result string, n int) {
	m.OutboxDispatchedTotal.WithLabelValues(result).Add(float64(n))
}

// Serve 启动 Prometheus HTTP 服务，ctx 结束时关闭
func (m *Metrics) Serve(ctx context.Context, port int, path string, log *slog.Logger) error {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("starting Prometheus HTTP server", "addr", srv.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
