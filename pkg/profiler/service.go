package profiler

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/vault-cosigner/pkg/framing"
)

const (
	minPort = 1024
	maxPort = 49151

	namespace = "vaultsigner"
	subsystem = "signer"

	resultOk            = "ok"
	resultTransportErr  = "transport_error"
	resultProtocolErr   = "protocol_error"
	resultDeviceErr     = "device_error"
	resultOtherErr      = "error"
	defaultStatInterval = time.Minute
)

const (
	_ = 1 << (10 * iota)
	kilobyte
	megabyte
)

// Service opts holds configuration options for the profiler service.
type ServiceOpts struct {
	Port          int
	StatsInterval time.Duration
	// Datadir is where metrics are dumped on shutdown, if defined.
	Datadir string
}

func (o ServiceOpts) validate() error {
	if o.Port < minPort || o.Port > maxPort {
		return fmt.Errorf("port must be in range [%d, %d]", minPort, maxPort)
	}
	return nil
}

func (o ServiceOpts) address() string {
	return fmt.Sprintf(":%d", o.Port)
}

// ProfilerService exports the metrics of the signer channel on /metrics.
// It's meant to be registered as observer of the channel.
type ProfilerService struct {
	opts     ServiceOpts
	server   *http.Server
	registry *prometheus.Registry
	stopFn   context.CancelFunc

	requests  *prometheus.CounterVec
	connected prometheus.Gauge

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

// NewService returns a new Profiler instance.
func NewService(opts ServiceOpts) (*ProfilerService, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = defaultStatInterval
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("profiler: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("profiler: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "requests_total",
		Help:      "Number of requests sent to the signing device, by verb and result.",
	}, []string{"verb", "result"})
	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connected",
		Help:      "Whether the signing device is connected.",
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		requests, connected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: opts.address(), Handler: mux}

	return &ProfilerService{
		opts:      opts,
		server:    server,
		registry:  registry,
		requests:  requests,
		connected: connected,
		log:       logFn,
		warn:      warnFn,
	}, nil
}

// Start starts the profiler.
func (s *ProfilerService) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.warn(err, "metrics server stopped")
		}
	}()
	ctx, cancelStats := context.WithCancel(context.Background())
	s.enableMemoryStatistics(ctx, s.opts.StatsInterval, s.opts.Datadir)
	s.stopFn = cancelStats
	s.log("start at url http://localhost:%d/metrics", s.opts.Port)
	return nil
}

// Stop stops the profiler.
func (s *ProfilerService) Stop() {
	if s.stopFn != nil {
		s.stopFn()
	}
	s.server.Shutdown(context.Background())
	s.log("stop")
}

// OnRequest counts a request sent to the device.
func (s *ProfilerService) OnRequest(verb string, err error) {
	s.requests.WithLabelValues(verb, requestResult(err)).Inc()
}

// OnConnectionChange tracks the connectivity of the device.
func (s *ProfilerService) OnConnectionChange(connected bool) {
	if connected {
		s.connected.Set(1)
		return
	}
	s.connected.Set(0)
}

// Registry returns the registry of the exported metrics.
func (s *ProfilerService) Registry() *prometheus.Registry {
	return s.registry
}

// enableMemoryStatistics starts a goroutine that periodically logs memory
// usage of the go process.
func (s *ProfilerService) enableMemoryStatistics(
	ctx context.Context,
	interval time.Duration,
	path string,
) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.printMemoryStatistics()
			case <-ctx.Done():
				if len(path) <= 0 {
					return
				}
				if err := s.dumpMetrics(path); err != nil {
					s.warn(err, "error while dumping metrics")
				}
				return
			}
		}
	}()
}

// printMemoryStatistics logs memory statistics and the number of running
// go routines.
func (s *ProfilerService) printMemoryStatistics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.log(
		"heap allocated: %.3fMB, allocated objects count: %v, "+
			"freed objects count: %v, num of go routines: %v",
		toMegabytes(memStats.HeapAlloc), memStats.Mallocs, memStats.Frees,
		runtime.NumGoroutine(),
	)
}

// dumpMetrics writes the gathered metrics to a file in the given path.
func (s *ProfilerService) dumpMetrics(path string) error {
	if err := os.MkdirAll(path, os.ModeDir|0755); err != nil {
		return err
	}
	file, err := os.OpenFile(
		filepath.Join(path, fmt.Sprintf("metrics-%d", time.Now().Unix())),
		os.O_APPEND|os.O_CREATE|os.O_RDWR,
		0644,
	)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	metricFamily, err := s.registry.Gather()
	if err != nil {
		return err
	}
	for _, v := range metricFamily {
		if _, err := writer.WriteString(v.String() + "\n"); err != nil {
			return err
		}
	}

	return nil
}

func requestResult(err error) string {
	switch {
	case err == nil:
		return resultOk
	case framing.IsTransportError(err):
		return resultTransportErr
	case framing.IsProtocolError(err):
		return resultProtocolErr
	case framing.IsDeviceError(err):
		return resultDeviceErr
	default:
		return resultOtherErr
	}
}

func toMegabytes(bytes uint64) float64 {
	return float64(bytes) / megabyte
}
