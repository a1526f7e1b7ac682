package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

func TestStore_OpenOnMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	recs, err := s.LoadServiceRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestStore_SaveServiceRecord_UpsertsByServiceID(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SaveServiceRecord(ctx, ports.ServiceRecord{ServiceID: "svc", LastLifecycle: "HOT"}))
	require.NoError(t, s.SaveServiceRecord(ctx, ports.ServiceRecord{ServiceID: "svc", LastLifecycle: "COLD"}))

	recs, err := s.LoadServiceRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "COLD", recs[0].LastLifecycle)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.SaveServiceRecord(ctx, ports.ServiceRecord{
		ServiceID:      "svc",
		LastLifecycle:  "HOT",
		LastActivityAt: time.Now().Truncate(time.Second),
	}))
	require.NoError(t, s1.SaveAPIKey(ctx, ports.APIKeyRecord{Key: "k1", Label: "ci"}))

	s2, err := Open(path)
	require.NoError(t, err)

	recs, err := s2.LoadServiceRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "svc", recs[0].ServiceID)

	keys, err := s2.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "ci", keys[0].Label)
}

func TestStore_SaveAPIKey_UpsertsByKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "state.json"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SaveAPIKey(ctx, ports.APIKeyRecord{Key: "k1", Label: "first"}))
	require.NoError(t, s.SaveAPIKey(ctx, ports.APIKeyRecord{Key: "k1", Label: "second", Revoked: true}))

	keys, err := s.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "second", keys[0].Label)
	assert.True(t, keys[0].Revoked)
}
