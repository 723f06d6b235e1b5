package stomp

import "github.com/prometheus/client_golang/prometheus"

var (
	// stompFrames counts inbound frames by command and gate decision.
	stompFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stomp_frames_total",
			Help: "Inbound STOMP frames by command and gate decision.",
		},
		[]string{"command", "decision"},
	)

	stompSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stomp_sessions_active",
			Help: "Current number of open STOMP websocket sessions.",
		},
	)

	// stompDelivered counts MESSAGE frames queued to subscribers, and those
	// dropped because a session's outbound buffer was full.
	stompDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stomp_deliveries_total",
			Help: "Outbound MESSAGE frames by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(stompFrames, stompSessions, stompDelivered)
}

// knownCommands bounds the command label.
var knownCommands = map[string]bool{
	CmdConnect: true, CmdStomp: true, CmdSubscribe: true, CmdUnsubscribe: true,
	CmdSend: true, CmdDisconnect: true, CmdAck: true, CmdNack: true,
	CmdBegin: true, CmdCommit: true, CmdAbort: true,
}

func observeFrame(command, decision string) {
	if !knownCommands[command] {
		command = "OTHER"
	}
	stompFrames.WithLabelValues(command, decision).Inc()
}
