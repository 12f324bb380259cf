// Prometheus metrics for zfs commands & transfer streams. A CLI invocation is short-lived, so
// instead of serving them over HTTP we write them for node_exporter's textfile collector.
package siirtometrics

import (
	"io"

	"github.com/function61/gokit/atomicfilewrite"
	"github.com/function61/siirto/pkg/zfsexec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

type Metrics struct {
	registry *prometheus.Registry

	// using (total, by outcome) so failure ratios are computable. see outcome labels in zfsexec.Outcome()
	commands    *prometheus.CounterVec
	streamBytes *prometheus.CounterVec
	transfers   *prometheus.CounterVec
}

var _ zfsexec.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siirto_zfs_commands_total",
			Help: "zfs commands run, by subcommand and outcome",
		}, []string{"subcommand", "outcome"}),
		streamBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siirto_stream_bytes_total",
			Help: "Bytes moved through send/receive streams",
		}, []string{"direction"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "siirto_transfers_total",
			Help: "Completed send/receive transfers, by kind (full | incremental)",
		}, []string{"direction", "kind"}),
	}

	m.registry.MustRegister(m.commands)
	m.registry.MustRegister(m.streamBytes)
	m.registry.MustRegister(m.transfers)

	return m
}

func (m *Metrics) CommandFinished(subcommand string, err error) {
	m.commands.WithLabelValues(subcommand, zfsexec.Outcome(err)).Inc()
}

func (m *Metrics) TransferCompleted(direction Direction, incremental bool, bytes int64) {
	kind := "full"
	if incremental {
		kind = "incremental"
	}

	m.transfers.WithLabelValues(string(direction), kind).Inc()
	m.streamBytes.WithLabelValues(string(direction)).Add(float64(bytes))
}

func (m *Metrics) WriteText(out io.Writer) error {
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(out, family); err != nil {
			return err
		}
	}

	return nil
}

// atomic so the collector never sees a half-written file
func (m *Metrics) WriteTextfile(path string) error {
	return atomicfilewrite.Write(path, m.WriteText)
}
