package metrics

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStakingMetricsRecord(t *testing.T) {
	m := Staking()
	if Staking() != m {
		t.Fatalf("expected singleton collectors")
	}

	before := testutil.ToFloat64(m.depositsCreated.WithLabelValues("3"))
	m.ObserveDepositCreated(3, big.NewInt(10))
	if got := testutil.ToFloat64(m.depositsCreated.WithLabelValues("3")); got != before+1 {
		t.Fatalf("expected deposit counter %v, got %v", before+1, got)
	}

	rewardsBefore := testutil.ToFloat64(m.rewardsPaid)
	m.ObserveWithdrawal(3, big.NewInt(10), big.NewInt(1))
	if got := testutil.ToFloat64(m.rewardsPaid); got != rewardsBefore+1 {
		t.Fatalf("expected rewards %v, got %v", rewardsBefore+1, got)
	}

	m.SetTotalStaked(big.NewInt(42))
	if got := testutil.ToFloat64(m.totalStaked); got != 42 {
		t.Fatalf("expected total staked 42, got %v", got)
	}

	m.ObserveRejected("create", "")
	if got := testutil.ToFloat64(m.rejected.WithLabelValues("create", "unknown")); got < 1 {
		t.Fatalf("expected rejection recorded, got %v", got)
	}
}

func TestNilStakingMetricsIsSafe(t *testing.T) {
	var m *StakingMetrics
	m.ObserveDepositCreated(1, nil)
	m.ObserveWithdrawal(1, nil, nil)
	m.ObserveRejected("x", "y")
	m.SetTotalStaked(nil)
	m.ObserveRPC("stake_owner", "ok", 0.1)
}
