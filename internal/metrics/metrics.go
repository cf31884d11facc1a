// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "xnet"

// Direction label values.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

var (
	// FramesTotal counts Ethernet frames exchanged with the driver
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total number of Ethernet frames received from or sent to the driver",
		},
		[]string{"direction"},
	)

	// PacketsTotal counts packets handled per protocol
	PacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Total number of packets handled by protocol and direction",
		},
		[]string{"protocol", "direction"},
	)

	// DropsTotal counts silently discarded inbound packets
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Total number of dropped packets by layer and reason",
		},
		[]string{"layer", "reason"},
	)

	// ICMPErrorsTotal counts destination-unreachable messages sent
	ICMPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "icmp_unreachable_sent_total",
			Help:      "Total number of ICMP destination unreachable messages sent by code",
		},
		[]string{"code"},
	)

	// ARPPacketsTotal counts ARP requests and replies
	ARPPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arp_packets_total",
			Help:      "Total number of ARP packets by operation and direction",
		},
		[]string{"op", "direction"},
	)

	// ARPCacheEntries tracks live ARP cache entries
	ARPCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "arp_cache_entries",
			Help:      "Current number of live ARP cache entries",
		},
	)

	// ARPPendingEntries tracks packets waiting for address resolution
	ARPPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "arp_pending_entries",
			Help:      "Current number of packets waiting for address resolution",
		},
	)

	// TCPResetsTotal counts RST segments sent
	TCPResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_resets_sent_total",
			Help:      "Total number of TCP RST segments sent",
		},
	)

	// TCPTransitionsTotal counts connection state changes by target state
	TCPTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tcp_state_transitions_total",
			Help:      "Total number of TCP connection state transitions by target state",
		},
		[]string{"state"},
	)

	// TCPConnections tracks entries in the TCP connection table
	TCPConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tcp_connections",
			Help:      "Current number of TCP connections in the connection table",
		},
	)

	// AppEventsTotal counts application level events
	AppEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "app_events_total",
			Help:      "Total number of application events by application and event",
		},
		[]string{"app", "event"},
	)

	// DriverErrorsTotal counts driver send/receive failures
	DriverErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "driver_errors_total",
			Help:      "Total number of driver errors by operation",
		},
		[]string{"op"},
	)
)
