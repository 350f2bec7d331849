package cmdqueue

import (
	"testing"
	"time"

	"turnstile/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndFIFODelivery(t *testing.T) {
	q := New(NewMemStore())

	id1, err := q.Enqueue("DEV-104", "REBOOT")
	require.NoError(t, err)
	require.Len(t, id1, 32)
	id2, err := q.Enqueue("DEV-104", "CHECK")
	require.NoError(t, err)

	cmd, ok, err := q.NextPending("DEV-104")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id1, cmd.CommandID, "FIFO: oldest first")
	assert.Equal(t, models.CmdSent, cmd.Status)
	require.NotNil(t, cmd.SentAt)

	cmd2, ok, err := q.NextPending("DEV-104")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id2, cmd2.CommandID)

	_, ok, err = q.NextPending("DEV-104")
	require.NoError(t, err)
	assert.False(t, ok, "queue drained")
}

func TestQueueIsolationAcrossDevices(t *testing.T) {
	q := New(NewMemStore())
	_, err := q.Enqueue("DEV-A", "REBOOT")
	require.NoError(t, err)

	_, ok, err := q.NextPending("DEV-B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorrelateResultSuccess(t *testing.T) {
	q := New(NewMemStore())
	id, _ := q.Enqueue("DEV-104", "REBOOT")
	_, ok, _ := q.NextPending("DEV-104")
	require.True(t, ok)

	err := q.CorrelateResult("DEV-104", WireID(id), "0", "ID="+WireID(id)+"&Return=0")
	require.NoError(t, err)

	cmds, _ := q.Store().ListBySerial("DEV-104", 0)
	require.Len(t, cmds, 1)
	assert.Equal(t, models.CmdSuccess, cmds[0].Status)
	assert.Equal(t, "0", cmds[0].ReturnCode)
	require.NotNil(t, cmds[0].CompletedAt)
}

func TestCorrelateResultFailureCode(t *testing.T) {
	q := New(NewMemStore())
	id, _ := q.Enqueue("DEV-104", "DATA UPDATE USERINFO PIN=1")
	_, _, _ = q.NextPending("DEV-104")

	require.NoError(t, q.CorrelateResult("DEV-104", WireID(id), "-1", "ID=x&Return=-1"))

	cmds, _ := q.Store().ListBySerial("DEV-104", 0)
	assert.Equal(t, models.CmdFail, cmds[0].Status)
}

func TestCorrelateResultMissIsSilent(t *testing.T) {
	q := New(NewMemStore())
	_, _ = q.Enqueue("DEV-104", "REBOOT") // ещё PENDING, не SENT

	// промах корреляции не должен быть ошибкой — устройству всё равно ответят OK
	require.NoError(t, q.CorrelateResult("DEV-104", "abcdef", "0", "ID=abcdef&Return=0"))

	cmds, _ := q.Store().ListBySerial("DEV-104", 0)
	assert.Equal(t, models.CmdPending, cmds[0].Status, "PENDING не трогаем")
}

func TestCorrelatePicksMostRecentSent(t *testing.T) {
	store := NewMemStore()
	q := New(store)

	// два SENT с искусственно совпадающим хвостом
	old := models.DeviceCommand{CommandID: "aaaaaaaaaaaaaaaaaaaaaaaaaa000001", SerialNumber: "DEV-104", Command: "OLD", Status: models.CmdPending, QueuedAt: time.Now()}
	neu := models.DeviceCommand{CommandID: "bbbbbbbbbbbbbbbbbbbbbbbbbb000001", SerialNumber: "DEV-104", Command: "NEW", Status: models.CmdPending, QueuedAt: time.Now()}
	require.NoError(t, store.Append(old))
	require.NoError(t, store.Append(neu))
	require.NoError(t, store.MarkSent(old.CommandID, time.Now()))
	require.NoError(t, store.MarkSent(neu.CommandID, time.Now()))

	require.NoError(t, q.CorrelateResult("DEV-104", "000001", "0", ""))

	cmds, _ := store.ListBySerial("DEV-104", 0)
	byID := map[string]models.DeviceCommand{}
	for _, c := range cmds {
		byID[c.CommandID] = c
	}
	assert.Equal(t, models.CmdSuccess, byID[neu.CommandID].Status, "берётся самая свежая SENT")
	assert.Equal(t, models.CmdSent, byID[old.CommandID].Status)
}

func TestStateMachineMonotonicity(t *testing.T) {
	store := NewMemStore()
	q := New(store)
	id, _ := q.Enqueue("DEV-104", "REBOOT")

	// Complete из PENDING невозможен
	require.NoError(t, store.Complete(id, models.CmdSuccess, "0", "", time.Now()))
	cmds, _ := store.ListBySerial("DEV-104", 0)
	assert.Equal(t, models.CmdPending, cmds[0].Status)

	_, _, _ = q.NextPending("DEV-104")
	require.NoError(t, q.CorrelateResult("DEV-104", WireID(id), "0", ""))

	// терминальное состояние финально: повторный MarkSent/Complete — no-op
	require.NoError(t, store.MarkSent(id, time.Now()))
	require.NoError(t, store.Complete(id, models.CmdFail, "-1", "", time.Now()))
	cmds, _ = store.ListBySerial("DEV-104", 0)
	assert.Equal(t, models.CmdSuccess, cmds[0].Status)
	assert.Equal(t, "0", cmds[0].ReturnCode)
}

func TestFormatWire(t *testing.T) {
	cmd := models.DeviceCommand{CommandID: "deadbeefdeadbeefdeadbeefdeadbeef", Command: "REBOOT"}
	assert.Equal(t, "C:adbeef:REBOOT", FormatWire(cmd))
	assert.Equal(t, "adbeef", WireID(cmd.CommandID))
}
