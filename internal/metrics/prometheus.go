package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector using Prometheus metrics.
type PrometheusCollector struct {
	connectionsTotal  *prometheus.CounterVec
	connectionsActive *prometheus.GaugeVec
	tlsUpgradesTotal  *prometheus.CounterVec

	authAttemptsTotal *prometheus.CounterVec

	commandsTotal *prometheus.CounterVec

	messagesFetchedTotal prometheus.Counter
	messagesDeletedTotal *prometheus.CounterVec
	messageSizeBytes     prometheus.Histogram
}

// NewPrometheusCollector creates a PrometheusCollector with all metrics
// registered against reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popfetch_connections_total",
			Help: "Total number of POP3 connections opened.",
		}, []string{"server"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "popfetch_connections_active",
			Help: "Number of currently active POP3 connections.",
		}, []string{"server"}),
		tlsUpgradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popfetch_tls_upgrades_total",
			Help: "Total number of STLS upgrades completed (implicit TLS is not counted).",
		}, []string{"server"}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popfetch_auth_attempts_total",
			Help: "Total number of authentication attempts.",
		}, []string{"server", "result"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popfetch_commands_total",
			Help: "Total number of POP3 commands run, by outcome.",
		}, []string{"command", "status"}),

		messagesFetchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "popfetch_messages_fetched_total",
			Help: "Total number of messages retrieved via RETR/TOP.",
		}),
		messagesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "popfetch_messages_deleted_total",
			Help: "Total number of messages marked for deletion.",
		}, []string{"server"}),
		messageSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "popfetch_message_size_bytes",
			Help:    "Size of retrieved messages in bytes.",
			Buckets: []float64{1024, 10240, 102400, 1048576, 10485760},
		}),
	}

	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.tlsUpgradesTotal,
		c.authAttemptsTotal,
		c.commandsTotal,
		c.messagesFetchedTotal,
		c.messagesDeletedTotal,
		c.messageSizeBytes,
	)

	return c
}

func (c *PrometheusCollector) ConnectionOpened(server string) {
	c.connectionsTotal.WithLabelValues(server).Inc()
	c.connectionsActive.WithLabelValues(server).Inc()
}

func (c *PrometheusCollector) ConnectionClosed(server string) {
	c.connectionsActive.WithLabelValues(server).Dec()
}

func (c *PrometheusCollector) TLSUpgraded(server string) {
	c.tlsUpgradesTotal.WithLabelValues(server).Inc()
}

func (c *PrometheusCollector) AuthAttempt(server string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(server, result).Inc()
}

func (c *PrometheusCollector) CommandCompleted(command, status string) {
	c.commandsTotal.WithLabelValues(command, status).Inc()
}

func (c *PrometheusCollector) MessageFetched(server string, sizeBytes int64) {
	c.messagesFetchedTotal.Inc()
	c.messageSizeBytes.Observe(float64(sizeBytes))
}

func (c *PrometheusCollector) MessageDeleted(server string) {
	c.messagesDeletedTotal.WithLabelValues(server).Inc()
}
