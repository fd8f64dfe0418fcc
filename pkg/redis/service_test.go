package redis

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	svc, err := NewRedisService(&RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestSetGetDel(t *testing.T) {
	svc, mr := newTestService(t)
	ctx := context.Background()
	key := svc.GenerateKey(CALL_SESSION, "CA1")

	require.NoError(t, svc.SetValue(ctx, key, "payload", time.Minute))
	val, err := svc.GetValue(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "payload", val)
	assert.Equal(t, time.Minute, mr.TTL(key))

	require.NoError(t, svc.DelValue(ctx, key))
	_, err = svc.GetValue(ctx, key)
	assert.True(t, IsNotExist(err))
}

func TestScanKeys(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"CA1", "CA2", "CA3"} {
		require.NoError(t, svc.SetValue(ctx, svc.GenerateKey(CALL_SESSION, id), "x", 0))
	}
	require.NoError(t, svc.SetValue(ctx, "unrelated", "x", 0))

	keys, err := svc.ScanKeys(ctx, string(CALL_SESSION)+":*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"astra_phone_call_session:CA1",
		"astra_phone_call_session:CA2",
		"astra_phone_call_session:CA3",
	}, keys)
}

func TestNewRedisServiceFailsFast(t *testing.T) {
	_, err := NewRedisService(&RedisConfig{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
}
