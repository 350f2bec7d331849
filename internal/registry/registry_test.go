package registry

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRegisteredAutoCreates(t *testing.T) {
	svc := NewService(NewMemStore(), DefaultOpts())

	dev, err := svc.EnsureRegistered("DEV-104", "10.0.0.5:4370")
	require.NoError(t, err)
	assert.Equal(t, "DEV-104", dev.SerialNumber)
	assert.Equal(t, "Auto-ADMS-1", dev.Name)
	assert.Equal(t, "Auto-Registered", dev.Location)
	assert.Equal(t, "10.0.0.5", dev.IPAddress)
	assert.Equal(t, 4370, dev.Port)
	assert.True(t, dev.Enabled)
	assert.True(t, dev.AutoRegistered)

	dev2, err := svc.EnsureRegistered("DEV-105", "10.0.0.6:4370")
	require.NoError(t, err)
	assert.Equal(t, "Auto-ADMS-2", dev2.Name)
}

func TestEnsureRegisteredConcurrentSameSerial(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, DefaultOpts())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.EnsureRegistered("DEV-RACE", "10.0.0.9:4370")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 1, "duplicate heartbeats must produce exactly one device")
}

func TestEnsureRegisteredAddressDrift(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, DefaultOpts())

	_, err := svc.EnsureRegistered("DEV-104", "10.0.0.5:4370")
	require.NoError(t, err)
	_, err = svc.EnsureRegistered("DEV-104", "10.0.0.77:4370")
	require.NoError(t, err)

	dev, ok, err := store.FindBySerial("DEV-104")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.77", dev.IPAddress)
}

func TestRecordHealthDerivesCapabilities(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, DefaultOpts())
	_, err := svc.EnsureRegistered("DEV-104", "10.0.0.5:4370")
	require.NoError(t, err)

	err = svc.RecordHealth("DEV-104", map[string]string{
		"DeviceName":       "F18/ID",
		"FWVersion":        "Ver 6.60",
		"Platform":         "ZEM510_TFT",
		"UserCount":        "42",
		"FPCount":          "80",
		"TransactionCount": "1024",
		"FaceFunOn":        "1",
		"PvFunOn":          "0",
		"MaxUserCount":     "3000",
		"VendorOnlyKey":    "opaque",
	})
	require.NoError(t, err)

	dev, ok, _ := store.FindBySerial("DEV-104")
	require.True(t, ok)
	assert.Equal(t, 42, dev.UserCount)
	assert.Equal(t, 80, dev.FingerCount)
	assert.Equal(t, 1024, dev.TransactionCount)
	assert.Equal(t, 3000, dev.MaxUsers)
	assert.Equal(t, "Ver 6.60", dev.FWVersion)
	assert.True(t, dev.HasFace)
	assert.False(t, dev.HasPalm)
	// ZEM510 — запятая как разделитель
	assert.Equal(t, ",", dev.FieldSeparator)
	// сырой push сохранён целиком, с незнакомыми ключами
	assert.Contains(t, string(dev.RawOptions), "VendorOnlyKey")
}

func TestReconcileOffline(t *testing.T) {
	store := NewMemStore()
	svc := NewService(store, DefaultOpts())

	_, err := svc.EnsureRegistered("DEV-STALE", "10.0.0.5:4370")
	require.NoError(t, err)
	_, err = svc.EnsureRegistered("DEV-FRESH", "10.0.0.6:4370")
	require.NoError(t, err)

	// у молчащего устройства last_seen в прошлом
	stale := time.Now().Add(-time.Hour)
	require.NoError(t, store.UpdateFields("DEV-STALE", map[string]any{"last_seen": stale}))

	n, err := svc.ReconcileOffline(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, _, _ := store.FindBySerial("DEV-STALE")
	assert.False(t, d.Online)
	d, _, _ = store.FindBySerial("DEV-FRESH")
	assert.True(t, d.Online)

	// повторный прогон ничего не трогает
	n, err = svc.ReconcileOffline(10 * time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	// heartbeat возвращает online
	_, err = svc.EnsureRegistered("DEV-STALE", "10.0.0.5:4370")
	require.NoError(t, err)
	d, _, _ = store.FindBySerial("DEV-STALE")
	assert.True(t, d.Online)
}

func TestSeparatorForPlatform(t *testing.T) {
	assert.Equal(t, ",", SeparatorForPlatform("ZEM500_TFT"))
	assert.Equal(t, ",", SeparatorForPlatform("zem510"))
	assert.Equal(t, "\t", SeparatorForPlatform("ZEM560_TFT"))
	assert.Equal(t, "\t", SeparatorForPlatform("JZ4725_TFT"))
}

func TestHandshakeLegacyLiteralLines(t *testing.T) {
	svc := NewService(NewMemStore(), Opts{ErrorDelay: 60, Delay: 30, TransInterval: 1})
	blob := svc.HandshakeLegacy("DEV-104")

	lines := strings.Split(blob, "\n")
	assert.Equal(t, "GET OPTION FROM: DEV-104", lines[0])
	assert.Contains(t, lines, "TransFlag=1111111111")
	assert.Contains(t, lines, "ErrorDelay=60")
	assert.Contains(t, lines, "Delay=30")
	assert.Contains(t, lines, "Realtime=1")
}

func TestHandshakePushLiteralLines(t *testing.T) {
	svc := NewService(NewMemStore(), DefaultOpts())
	blob := svc.HandshakePush("DEV-104")

	for _, want := range []string{
		"GET OPTION FROM: DEV-104",
		"ATTLOGStamp=None",
		fmt.Sprintf("ServerVer=%s", ServerVersion),
		fmt.Sprintf("PushProtVer=%s", ServerVersion),
		"ErrorDelay=30",
		"Delay=10",
		"TransTimes=00:00;14:05",
	} {
		assert.Contains(t, strings.Split(blob, "\n"), want)
	}
}
