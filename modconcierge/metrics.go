package modconcierge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

const metricsNamespace = "modconcierge"

// metrics holds the bot's prometheus collectors. Each instance has its
// own registry, served by the API at /metrics.
type metrics struct {
	registry *prometheus.Registry

	interactionsReceived *prometheus.CounterVec
	commandsHandled      *prometheus.CounterVec
	commandDuration      *prometheus.HistogramVec
	eventsLogged         *prometheus.CounterVec
	moderationActions    *prometheus.CounterVec
	whispersOpened       prometheus.Counter
	whispersClosed       prometheus.Counter
	whispersOpen         prometheus.Gauge
	autoRolesAssigned    *prometheus.CounterVec
	xpAwarded            prometheus.Counter
	levelUps             prometheus.Counter
	apiRequests          *prometheus.CounterVec
	apiRequestDuration   *prometheus.HistogramVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		interactionsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "interactions_received_total",
				Help:      "Discord interactions received",
			},
			[]string{"method", "type"},
		),
		commandsHandled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_handled_total",
				Help:      "Slash commands handled, by result",
			},
			[]string{"command", "result"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "command_duration_seconds",
				Help:      "Slash command handling duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		eventsLogged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_logged_total",
				Help:      "Events sent to log channels",
			},
			[]string{"category"},
		),
		moderationActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "moderation_actions_total",
				Help:      "Moderation actions recorded",
			},
			[]string{"action"},
		),
		whispersOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "whispers_opened_total",
				Help:      "Whisper threads opened",
			},
		),
		whispersClosed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "whispers_closed_total",
				Help:      "Whisper threads closed",
			},
		),
		whispersOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "whispers_open",
				Help:      "Whisper threads currently open in the registry",
			},
		),
		autoRolesAssigned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "autoroles_assigned_total",
				Help:      "Autorole assignments attempted, by result",
			},
			[]string{"result"},
		),
		xpAwarded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "xp_awarded_total",
				Help:      "Leveling XP awarded for messages",
			},
		),
		levelUps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "level_ups_total",
				Help:      "Members reaching a new level",
			},
		),
		apiRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "api_requests_total",
				Help:      "Admin API requests",
			},
			[]string{"route", "method", "status"},
		),
		apiRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "api_request_duration_seconds",
				Help:      "Admin API request duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.interactionsReceived,
		m.commandsHandled,
		m.commandDuration,
		m.eventsLogged,
		m.moderationActions,
		m.whispersOpened,
		m.whispersClosed,
		m.whispersOpen,
		m.autoRolesAssigned,
		m.xpAwarded,
		m.levelUps,
		m.apiRequests,
		m.apiRequestDuration,
	)
	return m
}

// registerDiscordGauges exposes the gateway connection state and
// connect/disconnect counts of d
func (m *metrics) registerDiscordGauges(d *Discord) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "discord_gateway_connected",
				Help:      "1 if the discord gateway is connected",
			},
			func() float64 {
				if d.connected.Load() {
					return 1
				}
				return 0
			},
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discord_gateway_connects_total",
				Help:      "Discord gateway connects",
			},
			func() float64 { return float64(d.metricConnects.Load()) },
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "discord_gateway_disconnects_total",
				Help:      "Discord gateway disconnects",
			},
			func() float64 { return float64(d.metricDisconnects.Load()) },
		),
	)
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
