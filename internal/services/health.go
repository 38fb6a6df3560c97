package services

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

const (
	healthCheckTimeout = 5 * time.Second
	monitoringInterval = 15 * time.Second
)

// HealthCheck tests one dependency. Failing a critical check makes the
// service unhealthy; failing any other only degrades it.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

type HealthService struct {
	logger *logrus.Logger
	checks []HealthCheck
	pool   *pgxpool.Pool

	healthCheckStatus   *prometheus.GaugeVec
	lastHealthCheck     *prometheus.GaugeVec
	systemMetrics       *prometheus.GaugeVec
	dbConnectionMetrics *prometheus.GaugeVec

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
	Latency     time.Duration     `json:"latency,omitempty"`
}

// NewHealthService reports pool statistics when pool is non-nil.
func NewHealthService(logger *logrus.Logger, pool *pgxpool.Pool, checks ...HealthCheck) *HealthService {
	hs := &HealthService{
		logger:   logger,
		checks:   checks,
		pool:     pool,
		stopChan: make(chan struct{}),
	}

	hs.healthCheckStatus = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, "service")
	hs.lastHealthCheck = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, "service")
	hs.systemMetrics = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "system_info",
		Help: "System information metrics",
	}, "metric_type")
	hs.dbConnectionMetrics = registerGaugeVec(logger, prometheus.GaugeOpts{
		Name: "database_connection_pool_usage",
		Help: "Database connection pool usage",
	}, "database", "state")

	return hs
}

// registerGaugeVec tolerates a collector that is already registered, which
// happens when several services are built in one process (tests).
func registerGaugeVec(logger *logrus.Logger, opts prometheus.GaugeOpts, labels ...string) *prometheus.GaugeVec {
	gauge := prometheus.NewGaugeVec(opts, labels)
	if err := prometheus.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing
			}
		} else {
			logger.WithError(err).Warnf("Failed to register %s metric", opts.Name)
		}
	}
	return gauge
}

func (s *HealthService) CheckHealth(ctx context.Context) *HealthStatus {
	start := time.Now()
	status := &HealthStatus{
		Timestamp: start,
		Services:  make(map[string]string, len(s.checks)),
	}

	allCriticalHealthy := true
	for _, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		err := check.Check(checkCtx)
		cancel()

		if err == nil {
			status.Services[check.Name] = StatusHealthy
			s.UpdateHealthMetrics(check.Name, true)
			continue
		}

		status.Services[check.Name] = StatusUnhealthy
		s.UpdateHealthMetrics(check.Name, false)
		if check.Critical {
			allCriticalHealthy = false
			status.Critical = append(status.Critical, check.Name)
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", check.Name)
		} else {
			status.NonCritical = append(status.NonCritical, check.Name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", check.Name)
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = StatusUnhealthy
	case len(status.NonCritical) > 0:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	status.Latency = time.Since(start)
	return status
}

// StartMetricsCollection samples runtime and pool statistics until Stop.
func (s *HealthService) StartMetricsCollection(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.collectSystemMetrics()
				s.collectDatabaseMetrics()
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *HealthService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *HealthService) collectSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.systemMetrics.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
	s.systemMetrics.WithLabelValues("memory_sys_bytes").Set(float64(memStats.Sys))
	s.systemMetrics.WithLabelValues("goroutines_count").Set(float64(runtime.NumGoroutine()))
	s.systemMetrics.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
	if memStats.NumGC > 0 {
		s.systemMetrics.WithLabelValues("gc_pause_ns").Set(float64(memStats.PauseNs[(memStats.NumGC+255)%256]))
	}
}

func (s *HealthService) collectDatabaseMetrics() {
	if s.pool == nil {
		return
	}
	stats := s.pool.Stat()
	s.dbConnectionMetrics.WithLabelValues("postgresql", "acquired_conns").Set(float64(stats.AcquiredConns()))
	s.dbConnectionMetrics.WithLabelValues("postgresql", "idle_conns").Set(float64(stats.IdleConns()))
	s.dbConnectionMetrics.WithLabelValues("postgresql", "max_conns").Set(float64(stats.MaxConns()))
	s.dbConnectionMetrics.WithLabelValues("postgresql", "total_conns").Set(float64(stats.TotalConns()))
	if stats.MaxConns() > 0 {
		usage := float64(stats.AcquiredConns()) / float64(stats.MaxConns()) * 100
		s.dbConnectionMetrics.WithLabelValues("postgresql", "usage_percent").Set(usage)
	}
}

func (s *HealthService) UpdateHealthMetrics(serviceName string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	s.healthCheckStatus.WithLabelValues(serviceName).Set(value)
	s.lastHealthCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
