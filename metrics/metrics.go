// Package metrics declares the prometheus collectors shared by the
// Writer and Reader engines.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WriterPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtps_writer_published_total",
		Help: "Changes inserted into a writer's history cache.",
	}, []string{"writer"})

	WriterRetransmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtps_writer_retransmitted_total",
		Help: "Changes retransmitted to a reader proxy in response to a negative AckNack.",
	}, []string{"writer"})

	WriterHeartbeatsSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtps_writer_heartbeats_sent_total",
		Help: "Heartbeat submessages sent by a writer.",
	}, []string{"writer"})

	ReaderGapAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtps_reader_gap_applied_total",
		Help: "Gap submessages applied by a reader's writer proxies.",
	}, []string{"reader"})

	ReaderMissingChanges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtps_reader_missing_changes",
		Help: "Sequence numbers currently known missing by a reader's writer proxies.",
	}, []string{"reader", "writer"})

	ReceiverSubmessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtps_receiver_submessages_total",
		Help: "Submessages processed by the message receiver, by kind.",
	}, []string{"kind"})

	ReceiverDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rtps_receiver_dropped_total",
		Help: "Submessages dropped by the message receiver, by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		WriterPublishedTotal,
		WriterRetransmittedTotal,
		WriterHeartbeatsSentTotal,
		ReaderGapAppliedTotal,
		ReaderMissingChanges,
		ReceiverSubmessagesTotal,
		ReceiverDroppedTotal,
	)
}
