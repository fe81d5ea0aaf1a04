package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(DefaultConfig())
	require.NoError(t, err)
	return s
}

func TestFlatten(t *testing.T) {
	t.Parallel()

	flat, err := Flatten(DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, ":8080", flat["server.address"])
	assert.Equal(t, "info", flat["logging.level"])
	assert.Equal(t, "memory", flat["session.backend"])
	assert.Equal(t, "30s", flat["health.checkInterval"])
}

func TestStoreTypedAccessors(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	assert.Equal(t, ":8080", s.GetString("server.address"))
	assert.Equal(t, 3, s.GetInt("health.unhealthyThreshold"))
	assert.True(t, s.GetBool("validation.failFast"))
	assert.Equal(t, 30*time.Second, s.GetDuration("health.checkInterval"))

	// Missing or mistyped keys yield zero values.
	assert.Empty(t, s.GetString("no.such.key"))
	assert.Zero(t, s.GetInt("server.address"))
	assert.False(t, s.GetBool("server.address"))
	assert.Zero(t, s.GetDuration("server.address"))
}

func TestStoreSetAndGet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	require.NoError(t, s.Set("server.address", ":9090"))
	assert.Equal(t, ":9090", s.GetString("server.address"))

	v, ok := s.Get("server.address")
	require.True(t, ok)
	assert.Equal(t, ":9090", v)

	_, ok = s.Get("no.such.key")
	assert.False(t, ok)
}

func TestStoreValidatorRejectsBadValues(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.RegisterValidator("health.unhealthyThreshold", func(v any) error {
		if n, ok := v.(int); !ok || n < 1 {
			return errors.New("must be a positive integer")
		}
		return nil
	})

	assert.Error(t, s.Set("health.unhealthyThreshold", 0))
	assert.Error(t, s.Set("health.unhealthyThreshold", "three"))
	assert.NoError(t, s.Set("health.unhealthyThreshold", 5))
	assert.Equal(t, 5, s.GetInt("health.unhealthyThreshold"))
}

func TestStoreValidate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	s.RegisterValidator("logging.level", func(v any) error {
		if v == "loud" {
			return errors.New("unknown level")
		}
		return nil
	})

	assert.NoError(t, s.Validate())

	// Bypass per-key validation via direct value to exercise Validate.
	s.RegisterValidator("logging.format", func(any) error { return nil })
	require.NoError(t, s.Set("logging.format", "console"))
	assert.NoError(t, s.Validate())

	s.RegisterValidator("server.address", func(any) error { return errors.New("nope") })
	assert.Error(t, s.Validate())
}

func TestStoreWatchNotifiesOnSet(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	var gotKey string
	var gotValue any
	s.Watch(func(key string, value any) {
		gotKey = key
		gotValue = value
	})

	require.NoError(t, s.Set("logging.level", "debug"))
	assert.Equal(t, "logging.level", gotKey)
	assert.Equal(t, "debug", gotValue)
}

func TestStoreResetRestoresDefaults(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Set("server.address", ":9090"))
	require.NoError(t, s.Set("logging.level", "debug"))

	changed := map[string]any{}
	s.Watch(func(key string, value any) { changed[key] = value })

	s.Reset()
	assert.Equal(t, ":8080", s.GetString("server.address"))
	assert.Equal(t, "info", s.GetString("logging.level"))
	assert.Equal(t, ":8080", changed["server.address"])
	assert.Equal(t, "info", changed["logging.level"])
	assert.Len(t, changed, 2)
}

func TestStoreReplace(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	changed := map[string]any{}
	s.Watch(func(key string, value any) { changed[key] = value })

	next := DefaultConfig()
	next.Server.Address = ":9191"
	next.Logging.Level = "warn"
	require.NoError(t, s.Replace(next))

	assert.Equal(t, ":9191", s.GetString("server.address"))
	assert.Equal(t, "warn", s.GetString("logging.level"))
	assert.Contains(t, changed, "server.address")
	assert.Contains(t, changed, "logging.level")
	assert.NotContains(t, changed, "session.backend")

	// Reset still restores the original seed, not the replacement.
	s.Reset()
	assert.Equal(t, ":8080", s.GetString("server.address"))
}

func TestStoreAll(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	all := s.All()
	assert.Equal(t, ":8080", all["server.address"])

	// Mutating the copy does not touch the store.
	all["server.address"] = ":1"
	assert.Equal(t, ":8080", s.GetString("server.address"))
}
