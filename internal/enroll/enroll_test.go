package enroll

import (
	"strings"
	"testing"

	"turnstile/internal/cmdqueue"
	"turnstile/internal/models"
	"turnstile/internal/registry"
	"turnstile/internal/wire"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFleet(t *testing.T, serials ...string) registry.Store {
	t.Helper()
	store := registry.NewMemStore()
	svc := registry.NewService(store, registry.DefaultOpts())
	for _, sn := range serials {
		_, err := svc.EnsureRegistered(sn, "10.0.0.1:4370")
		require.NoError(t, err)
	}
	return store
}

func TestUpsertProfileLastWriterWins(t *testing.T) {
	svc := NewService(NewMemStore(), cmdqueue.New(nil), newFleet(t), false, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E123", Name: "Old Name"}, "DEV-A"))
	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E123", Name: "New Name", Card: "42"}, "DEV-B"))

	u, ok, err := svc.Store().Get("E123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "New Name", u.Name)
	assert.Equal(t, "42", u.Card)
	assert.Equal(t, "DEV-B", u.UpdatedBySN)
}

func TestReplaceFingerprintByIndex(t *testing.T) {
	svc := NewService(NewMemStore(), cmdqueue.New(nil), newFleet(t), false, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 6, Template: "AAAA", DeclaredSize: 4, Valid: true}, "DEV-A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 7, Template: "BBBB", DeclaredSize: 4, Valid: true}, "DEV-A"))
	// перезапись того же пальца
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 6, Template: "CCCC", DeclaredSize: 4, Valid: true}, "DEV-A"))

	u, _, _ := svc.Store().Get("E123")
	require.Len(t, u.Fingers, 2, "индекс пальца уникален: замена, не дубль")
	assert.Equal(t, "CCCC", u.Fingers[0].Template)
	assert.Equal(t, 6, u.Fingers[0].FingerIndex)
}

func TestUpsertFaceBeforeProfile(t *testing.T) {
	svc := NewService(NewMemStore(), cmdqueue.New(nil), newFleet(t), false, 1)
	defer svc.Close()

	// биометрия может прийти раньше USER-строки
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E9", Kind: wire.TemplateFace, FingerIndex: 50, Template: "RkFDRQ", DeclaredSize: 6, Valid: true}, "DEV-A"))

	u, ok, _ := svc.Store().Get("E9")
	require.True(t, ok)
	assert.Equal(t, "RkFDRQ", u.FaceTemplate)
	assert.Equal(t, 6, u.FaceSize)
}

func TestFanOutCompleteness(t *testing.T) {
	fleet := newFleet(t, "DEV-A", "DEV-B", "DEV-C", "DEV-D")
	queue := cmdqueue.New(cmdqueue.NewMemStore())
	svc := NewService(NewMemStore(), queue, fleet, true, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E123", Name: "Jordan"}, "DEV-A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 0, Template: "AAAA", DeclaredSize: 4, Valid: true}, "DEV-A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 1, Template: "BBBB", DeclaredSize: 4, Valid: true}, "DEV-A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFace, FingerIndex: 50, Template: "RkFDRQ", DeclaredSize: 6, Valid: true}, "DEV-A"))

	queued, err := svc.FanOut("E123", "DEV-A")
	require.NoError(t, err)
	// 3 других устройства × (профиль + 2 пальца + лицо) = 12
	assert.Equal(t, 12, queued)

	for _, sn := range []string{"DEV-B", "DEV-C", "DEV-D"} {
		cmds, err := queue.Store().ListBySerial(sn, 0)
		require.NoError(t, err)
		require.Len(t, cmds, 4, "device %s", sn)
		for _, c := range cmds {
			assert.Equal(t, models.CmdPending, c.Status)
		}
	}
	cmds, _ := queue.Store().ListBySerial("DEV-A", 0)
	assert.Empty(t, cmds, "источник команд не получает")
}

func TestFanOutTwoFingersThreeTargets(t *testing.T) {
	// сценарий из эксплуатации: 2 пальца + лицо, 3 других устройства
	fleet := newFleet(t, "A", "B", "C", "D")
	queue := cmdqueue.New(cmdqueue.NewMemStore())
	svc := NewService(NewMemStore(), queue, fleet, true, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 0, Template: "AA", DeclaredSize: 2, Valid: true}, "A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFinger, FingerIndex: 1, Template: "BB", DeclaredSize: 2, Valid: true}, "A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E123", Kind: wire.TemplateFace, FingerIndex: 50, Template: "CC", DeclaredSize: 2, Valid: true}, "A"))

	queued, err := svc.FanOut("E123", "A")
	require.NoError(t, err)
	// на каждое из 3 целевых устройств: профиль + 2 пальца + лицо
	assert.Equal(t, 12, queued)
}

func TestFanOutUsesTargetDialect(t *testing.T) {
	fleet := registry.NewMemStore()
	rsvc := registry.NewService(fleet, registry.DefaultOpts())
	_, err := rsvc.EnsureRegistered("SRC", "10.0.0.1:4370")
	require.NoError(t, err)
	_, err = rsvc.EnsureRegistered("TAB-DEV", "10.0.0.2:4370")
	require.NoError(t, err)
	_, err = rsvc.EnsureRegistered("COMMA-DEV", "10.0.0.3:4370")
	require.NoError(t, err)
	// COMMA-DEV — старая плата, разделитель запятая
	require.NoError(t, rsvc.RecordHealth("COMMA-DEV", map[string]string{"Platform": "ZEM500_TFT"}))

	queue := cmdqueue.New(cmdqueue.NewMemStore())
	svc := NewService(NewMemStore(), queue, fleet, true, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E1", Name: "X"}, "SRC"))
	_, err = svc.FanOut("E1", "SRC")
	require.NoError(t, err)

	tabCmds, _ := queue.Store().ListBySerial("TAB-DEV", 0)
	require.Len(t, tabCmds, 1)
	assert.Contains(t, tabCmds[0].Command, "PIN=E1\tName=X")

	commaCmds, _ := queue.Store().ListBySerial("COMMA-DEV", 0)
	require.Len(t, commaCmds, 1)
	assert.Contains(t, commaCmds[0].Command, "PIN=E1,Name=X")
	assert.NotContains(t, commaCmds[0].Command, "\t")
}

func TestFanOutSkipsDisabledDevices(t *testing.T) {
	fleet := newFleet(t, "SRC", "ON", "OFF")
	require.NoError(t, fleet.UpdateFields("OFF", map[string]any{"enabled": false}))

	queue := cmdqueue.New(cmdqueue.NewMemStore())
	svc := NewService(NewMemStore(), queue, fleet, true, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E1"}, "SRC"))
	queued, err := svc.FanOut("E1", "SRC")
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	offCmds, _ := queue.Store().ListBySerial("OFF", 0)
	assert.Empty(t, offCmds)
}

func TestFanOutNoDedup(t *testing.T) {
	// повторная загрузка того же профиля даёт повторные команды — дедупликации
	// нет намеренно (открытый вопрос исходного поведения, см. DESIGN.md)
	fleet := newFleet(t, "SRC", "DST")
	queue := cmdqueue.New(cmdqueue.NewMemStore())
	svc := NewService(NewMemStore(), queue, fleet, true, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E1"}, "SRC"))
	_, _ = svc.FanOut("E1", "SRC")
	_, _ = svc.FanOut("E1", "SRC")

	cmds, _ := queue.Store().ListBySerial("DST", 0)
	assert.Len(t, cmds, 2)
}

func TestCloneToUnknownDevice(t *testing.T) {
	svc := NewService(NewMemStore(), cmdqueue.New(nil), newFleet(t, "A"), false, 1)
	defer svc.Close()
	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E1"}, "A"))

	_, err := svc.CloneTo("E1", "NOPE")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unknown device"))
}

func TestCloneToQueuesForSingleTarget(t *testing.T) {
	fleet := newFleet(t, "A", "B", "C")
	queue := cmdqueue.New(cmdqueue.NewMemStore())
	svc := NewService(NewMemStore(), queue, fleet, false, 1)
	defer svc.Close()

	require.NoError(t, svc.UpsertProfile(wire.UserInfo{PIN: "E1", Name: "X"}, "A"))
	require.NoError(t, svc.UpsertTemplate(wire.TemplateEntry{PIN: "E1", Kind: wire.TemplateFinger, FingerIndex: 0, Template: "AA", DeclaredSize: 2, Valid: true}, "A"))

	queued, err := svc.CloneTo("E1", "B")
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	cCmds, _ := queue.Store().ListBySerial("C", 0)
	assert.Empty(t, cCmds, "clone-user адресный, не разгон")
}
