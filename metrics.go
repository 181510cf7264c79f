package cardano

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts builds and submissions. Register adds them to a registry;
// an unregistered Metrics still counts.
type Metrics struct {
	Submissions       *prometheus.CounterVec
	SubmissionErrors  prometheus.Counter
	TransactionsBuilt prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardano_submissions_total",
				Help: "transactions that reached the node, by outcome",
			}, []string{
				"status",
			}),
		SubmissionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardano_submission_errors_total",
			Help: "submissions that failed before the node answered",
		}),
		TransactionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cardano_transactions_built_total",
			Help: "transactions built and signed",
		}),
	}
}

func (m *Metrics) Register(registry prometheus.Registerer) (err error) {
	for _, c := range []prometheus.Collector{m.Submissions, m.SubmissionErrors, m.TransactionsBuilt} {
		if err = registry.Register(c); err != nil {
			return
		}
	}
	return
}
