package securestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

func openMemLevelDB(t *testing.T) *leveldb.DB {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLevelDBStoreSealsValues(t *testing.T) {
	ctx := context.Background()
	db := openMemLevelDB(t)
	store, err := NewLevelDBStore(db, "device-secret")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "token", []byte("opaque-token")))

	raw, err := db.Get([]byte(keyPrefix+"token"), nil)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "opaque-token")

	got, err := store.Get(ctx, "token")
	require.NoError(t, err)
	require.Equal(t, []byte("opaque-token"), got)

	wrong, err := NewLevelDBStore(db, "other-secret")
	require.NoError(t, err)
	_, err = wrong.Get(ctx, "token")
	require.Error(t, err)

	require.NoError(t, store.Delete(ctx, "token"))
	_, err = store.Get(ctx, "token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOpenLevelDBPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenLevelDB(dir, "pass")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())

	reopened, err := OpenLevelDB(dir, "pass")
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestBoltStoreSealsAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "secure.db")

	store, err := OpenBolt(path, "device-secret", nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "token", []byte("opaque-token")))
	require.NoError(t, store.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "opaque-token")

	wrong, err := OpenBolt(path, "other-secret", nil)
	require.NoError(t, err)
	_, err = wrong.Get(ctx, "token")
	require.Error(t, err)
	require.NoError(t, wrong.Close())

	reopened, err := OpenBolt(path, "device-secret", nil)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Get(ctx, "token")
	require.NoError(t, err)
	require.Equal(t, []byte("opaque-token"), got)

	require.NoError(t, reopened.Delete(ctx, "token"))
	_, err = reopened.Get(ctx, "token")
	require.ErrorIs(t, err, ErrNotFound)

	prefs := NewPreferences(reopened)
	require.NoError(t, prefs.SaveBiometricToken(ctx, "tok-1"))
	token, err := prefs.BiometricToken(ctx)
	require.NoError(t, err)
	require.Equal(t, "tok-1", token)
}

func TestOpenBoltRequiresPassphrase(t *testing.T) {
	_, err := OpenBolt(filepath.Join(t.TempDir(), "secure.db"), "", nil)
	require.Error(t, err)
}

func TestPreferencesDeviceIDIsStable(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemoryStore())

	first, err := prefs.DeviceID(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	second, err := prefs.DeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPreferencesBiometricSession(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemoryStore())

	token, err := prefs.BiometricToken(ctx)
	require.NoError(t, err)
	require.Empty(t, token)

	require.Error(t, prefs.SaveBiometricToken(ctx, " "))
	require.NoError(t, prefs.SaveBiometricToken(ctx, "tok-1"))

	session, ok, err := prefs.BiometricSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok-1", session.Token)
	deviceID, err := prefs.DeviceID(ctx)
	require.NoError(t, err)
	require.Equal(t, deviceID, session.DeviceID)

	require.NoError(t, prefs.ClearBiometricToken(ctx))
	_, ok, err = prefs.BiometricSession(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPreferencesFlags(t *testing.T) {
	ctx := context.Background()
	prefs := NewPreferences(NewMemoryStore())

	requirePIN, err := prefs.RequirePINOnLaunch(ctx)
	require.NoError(t, err)
	require.False(t, requirePIN)
	visible, err := prefs.BalanceVisible(ctx)
	require.NoError(t, err)
	require.True(t, visible)

	require.NoError(t, prefs.SetRequirePINOnLaunch(ctx, true))
	require.NoError(t, prefs.SetBalanceVisible(ctx, false))

	requirePIN, err = prefs.RequirePINOnLaunch(ctx)
	require.NoError(t, err)
	require.True(t, requirePIN)
	visible, err = prefs.BalanceVisible(ctx)
	require.NoError(t, err)
	require.False(t, visible)
}
