package metrics

import (
	"math/big"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics exposes deposit ledger activity to Prometheus.
type StakingMetrics struct {
	depositsCreated *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	rewardsPaid     prometheus.Counter
	rejected        *prometheus.CounterVec
	totalStaked     prometheus.Gauge
	rpcRequests     *prometheus.CounterVec
	rpcLatency      *prometheus.HistogramVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the process-wide staking collectors, registering them with
// the default Prometheus registry on first use.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			depositsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_deposits_created_total",
				Help: "Count of deposits locked by tier.",
			}, []string{"tier"}),
			withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_withdrawals_total",
				Help: "Count of matured deposits paid out by tier.",
			}, []string{"tier"}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "stakevault_rewards_paid",
				Help: "Cumulative reward paid out, in base units.",
			}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_rejected_total",
				Help: "Count of rejected ledger operations by operation and reason.",
			}, []string{"op", "reason"}),
			totalStaked: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "stakevault_total_staked",
				Help: "Sum of principal held by active deposits, in base units.",
			}),
			rpcRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "stakevault_rpc_requests_total",
				Help: "JSON-RPC requests by method and outcome.",
			}, []string{"method", "outcome"}),
			rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "stakevault_rpc_duration_seconds",
				Help:    "JSON-RPC handler latency by method.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			stakingRegistry.depositsCreated,
			stakingRegistry.withdrawals,
			stakingRegistry.rewardsPaid,
			stakingRegistry.rejected,
			stakingRegistry.totalStaked,
			stakingRegistry.rpcRequests,
			stakingRegistry.rpcLatency,
		)
	})
	return stakingRegistry
}

func tierLabel(tier uint32) string {
	return strconv.FormatUint(uint64(tier), 10)
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func (m *StakingMetrics) ObserveDepositCreated(tier uint32, _ *big.Int) {
	if m == nil {
		return
	}
	m.depositsCreated.WithLabelValues(tierLabel(tier)).Inc()
}

func (m *StakingMetrics) ObserveWithdrawal(tier uint32, _ *big.Int, reward *big.Int) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(tierLabel(tier)).Inc()
	if reward != nil && reward.Sign() > 0 {
		m.rewardsPaid.Add(toFloat(reward))
	}
}

func (m *StakingMetrics) ObserveRejected(op, reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.rejected.WithLabelValues(op, reason).Inc()
}

func (m *StakingMetrics) SetTotalStaked(total *big.Int) {
	if m == nil {
		return
	}
	m.totalStaked.Set(toFloat(total))
}

// ObserveRPC records one JSON-RPC call.
func (m *StakingMetrics) ObserveRPC(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(seconds)
}
