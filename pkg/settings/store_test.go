package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stashsense/orchestrator/pkg/models"
	testdb "github.com/stashsense/orchestrator/test/database"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	client := testdb.NewTestClient(t)
	return New(client.Pool), ctx
}

func TestStore_SetAndGet_SystemSetting(t *testing.T) {
	store, ctx := newTestStore(t)

	def := &models.PluginSetting{
		PluginName: models.SystemPluginName,
		Key:        "LOOP_INTERVAL_MS",
		Type:       models.SettingTypeNumber,
		Default:    json.RawMessage(`50`),
	}
	require.NoError(t, store.Declare(ctx, def))

	raw, err := store.Get(ctx, models.SystemPluginName, "LOOP_INTERVAL_MS")
	require.NoError(t, err)
	assert.JSONEq(t, "50", string(raw))

	require.NoError(t, store.Set(ctx, models.SystemPluginName, "LOOP_INTERVAL_MS", "75"))

	raw, err = store.Get(ctx, models.SystemPluginName, "LOOP_INTERVAL_MS")
	require.NoError(t, err)
	assert.JSONEq(t, "75", string(raw))
}

func TestStore_Set_Clear_FallsBackToDefault(t *testing.T) {
	store, ctx := newTestStore(t)

	def := &models.PluginSetting{
		PluginName: models.SystemPluginName,
		Key:        "STASH_URL",
		Type:       models.SettingTypeString,
		Default:    json.RawMessage(`"http://localhost:9999"`),
	}
	require.NoError(t, store.Declare(ctx, def))
	require.NoError(t, store.Set(ctx, models.SystemPluginName, "STASH_URL", "http://stash.local"))

	raw, err := store.Get(ctx, models.SystemPluginName, "STASH_URL")
	require.NoError(t, err)
	assert.JSONEq(t, `"http://stash.local"`, string(raw))

	require.NoError(t, store.Set(ctx, models.SystemPluginName, "STASH_URL", nil))

	raw, err = store.Get(ctx, models.SystemPluginName, "STASH_URL")
	require.NoError(t, err)
	assert.JSONEq(t, `"http://localhost:9999"`, string(raw))
}

func TestStore_Get_SystemSettingNotFound(t *testing.T) {
	store, ctx := newTestStore(t)

	_, err := store.Get(ctx, models.SystemPluginName, "DOES_NOT_EXIST")
	require.Error(t, err)
}

func TestStore_Set_PluginSettingAutoCreates(t *testing.T) {
	store, ctx := newTestStore(t)

	require.NoError(t, store.Set(ctx, "thumbnailer", "QUALITY", `"high"`))

	defs, err := store.List(ctx, "thumbnailer")
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "QUALITY", defs[0].Key)
}

func TestStore_RefreshHookFiresOnWrite(t *testing.T) {
	store, ctx := newTestStore(t)

	def := &models.PluginSetting{
		PluginName: models.SystemPluginName,
		Key:        "STASH_URL",
		Type:       models.SettingTypeString,
		Default:    json.RawMessage(`""`),
	}
	require.NoError(t, store.Declare(ctx, def))

	var gotPlugin, gotKey string
	var gotValue json.RawMessage
	store.OnRefresh(models.SystemPluginName, "STASH_URL", func(_ context.Context, plugin, key string, value json.RawMessage) {
		gotPlugin, gotKey, gotValue = plugin, key, value
	})

	require.NoError(t, store.Set(ctx, models.SystemPluginName, "STASH_URL", "http://stash.local"))

	assert.Equal(t, models.SystemPluginName, gotPlugin)
	assert.Equal(t, "STASH_URL", gotKey)
	assert.JSONEq(t, `"http://stash.local"`, string(gotValue))
}
