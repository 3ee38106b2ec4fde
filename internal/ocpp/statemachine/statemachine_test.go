package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocpp-csms/core/internal/ports"
)

func TestBootNotificationAcceptsAndRecordsChargePoint(t *testing.T) {
	m := New(Deps{})
	cp, err := m.BootNotification(context.Background(), "CP1", "Acme", "Model-X", "SN1", "1.0", 300*time.Second)
	require.NoError(t, err)
	assert.Equal(t, Accepted, cp.Status)
	assert.Equal(t, "Acme", cp.Vendor)
}

func TestStartTransactionAllocatesStrictlyMonotonicIDsUnderConcurrency(t *testing.T) {
	m := New(Deps{})
	const n = 50
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.StartTransaction(context.Background(), "CP1", i+1, "tag", 0, time.Now())
			require.NoError(t, err)
			ids[i] = res.Transaction.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "transaction id %d allocated more than once", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestStartTransactionRefusesConcurrentActiveOnSameConnector(t *testing.T) {
	m := New(Deps{})
	first, err := m.StartTransaction(context.Background(), "CP1", 1, "tagA", 0, time.Now())
	require.NoError(t, err)
	assert.False(t, first.ConcurrentTx)

	second, err := m.StartTransaction(context.Background(), "CP1", 1, "tagB", 0, time.Now())
	require.NoError(t, err)
	assert.True(t, second.ConcurrentTx)
	assert.Equal(t, ports.IdTagConcurrentTx, second.IdTagStatus)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID, "concurrent refusal must return the already-active transaction")
}

func TestStartTransactionAllowsNewOneAfterStop(t *testing.T) {
	m := New(Deps{})
	first, err := m.StartTransaction(context.Background(), "CP1", 1, "tagA", 0, time.Now())
	require.NoError(t, err)

	_, err = m.StopTransaction(context.Background(), first.Transaction.ID, 1000, time.Now(), "Local", "")
	require.NoError(t, err)

	second, err := m.StartTransaction(context.Background(), "CP1", 1, "tagB", 1000, time.Now())
	require.NoError(t, err)
	assert.False(t, second.ConcurrentTx)
	assert.NotEqual(t, first.Transaction.ID, second.Transaction.ID)
}

func TestStopTransactionIsIdempotentForIdenticalRetransmission(t *testing.T) {
	m := New(Deps{})
	start, err := m.StartTransaction(context.Background(), "CP1", 1, "tagA", 0, time.Now())
	require.NoError(t, err)

	stoppedAt := time.Now()
	first, err := m.StopTransaction(context.Background(), start.Transaction.ID, 500, stoppedAt, "Local", "")
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, first.Status)

	// Exact retransmission: same meterStop/reason must return the stored
	// result without error, not a "double stop" failure.
	second, err := m.StopTransaction(context.Background(), start.Transaction.ID, 500, stoppedAt, "Local", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.MeterStop, second.MeterStop)
}

func TestStopTransactionRejectsConflictingRetransmission(t *testing.T) {
	m := New(Deps{})
	start, err := m.StartTransaction(context.Background(), "CP1", 1, "tagA", 0, time.Now())
	require.NoError(t, err)

	_, err = m.StopTransaction(context.Background(), start.Transaction.ID, 500, time.Now(), "Local", "")
	require.NoError(t, err)

	_, err = m.StopTransaction(context.Background(), start.Transaction.ID, 999, time.Now(), "Local", "")
	assert.Error(t, err)
}

func TestStopTransactionRejectsMismatchedIdTag(t *testing.T) {
	m := New(Deps{})
	start, err := m.StartTransaction(context.Background(), "CP1", 1, "tagA", 0, time.Now())
	require.NoError(t, err)

	_, err = m.StopTransaction(context.Background(), start.Transaction.ID, 500, time.Now(), "Local", "someone-elses-tag")
	assert.Error(t, err)
}

func TestStopTransactionUnknownIDIsProtocolError(t *testing.T) {
	m := New(Deps{})
	_, err := m.StopTransaction(context.Background(), 99999, 0, time.Now(), "Local", "")
	assert.Error(t, err)
}

func TestForceStopTransactionMarksForceClosedWithZeroEnergy(t *testing.T) {
	m := New(Deps{})
	start, err := m.StartTransaction(context.Background(), "CP1", 1, "tagA", 100, time.Now())
	require.NoError(t, err)

	tx, err := m.ForceStopTransaction(context.Background(), start.Transaction.ID, "meter unavailable")
	require.NoError(t, err)
	assert.Equal(t, TxForceClosed, tx.Status)
	assert.Equal(t, 0, tx.EnergyWh)
	assert.Equal(t, tx.MeterStart, tx.MeterStop)
}

func TestStatusNotificationUpsertsConnectorState(t *testing.T) {
	m := New(Deps{})
	require.NoError(t, m.StatusNotification(context.Background(), "CP1", 1, Charging, ""))

	require.NoError(t, m.StatusNotification(context.Background(), "CP1", 1, Faulted, "GroundFailure"))
}

func TestMarkOfflineFlipsChargePointAndConnectors(t *testing.T) {
	m := New(Deps{})
	_, err := m.BootNotification(context.Background(), "CP1", "Acme", "Model-X", "SN1", "1.0", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.StatusNotification(context.Background(), "CP1", 1, Available, ""))

	m.MarkOffline("CP1")

	m.mu.RLock()
	cp := m.chargePoints["CP1"]
	conn := m.connectors[connectorKey("CP1", 1)]
	m.mu.RUnlock()

	cp.mu.RLock()
	assert.Equal(t, Offline, cp.Status)
	cp.mu.RUnlock()

	conn.mu.RLock()
	assert.Equal(t, ConnUnavailable, conn.Status)
	conn.mu.RUnlock()
}

func TestAuthorizeWithNoRepositoryAlwaysAccepts(t *testing.T) {
	m := New(Deps{})
	status, err := m.Authorize(context.Background(), "any-tag")
	require.NoError(t, err)
	assert.Equal(t, ports.IdTagAccepted, status)
}
