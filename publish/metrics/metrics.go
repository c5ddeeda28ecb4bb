package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transaction metrics
var (
	TransactionsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jv_publish_transactions_total",
			Help: "Transactions submitted by type (deploy, grant, revoke) and outcome",
		},
		[]string{"type", "status"},
	)

	ContractsDeployed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jv_publish_contracts_deployed_total",
		Help: "Contracts deployed and recorded in the manifest",
	})

	ContractsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jv_publish_contracts_skipped_total",
		Help: "Contracts skipped because the manifest already records them",
	})
)

// RPC metrics
var (
	RPCRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jv_publish_rpc_retries_total",
			Help: "Chain calls retried after a timeout, by operation",
		},
		[]string{"op"},
	)
)

// Verification metrics
var (
	VerificationMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jv_publish_verification_mismatches_total",
			Help: "Verification mismatches by type",
		},
		[]string{"type"},
	)

	VerificationRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jv_publish_verification_runs_total",
			Help: "Verification runs by result",
		},
		[]string{"result"},
	)
)

// WriteTextfile dumps the default registry in the node_exporter textfile
// format. An empty path is a no-op.
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
