package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHTTP struct{}

func TestRegister_LookupRoundTrip(t *testing.T) {
	r := New()
	impl := &fakeHTTP{}

	require.NoError(t, r.Register(Services, "http", impl, nil))

	got, ok := r.Lookup(Services, "http")
	require.True(t, ok)
	assert.Same(t, impl, got)
	assert.True(t, r.Has(Services, "http"))
}

func TestRegister_DuplicateFailsWithConfigError(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Services, "http", &fakeHTTP{}, nil))

	err := r.Register(Services, "http", &fakeHTTP{}, nil)
	require.Error(t, err)

	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestRemove_ThenLookupMisses(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Views, "wizard", "factory", nil))

	r.Remove(Views, "wizard")
	_, ok := r.Lookup(Views, "wizard")
	assert.False(t, ok)
}

func TestList_ReturnsRegisteredNames(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Guards, "isAdmin", func() bool { return true }, nil))
	require.NoError(t, r.Register(Guards, "isOwner", func() bool { return true }, nil))

	names := r.List(Guards)
	assert.ElementsMatch(t, []string{"isAdmin", "isOwner"}, names)
}

func TestValidateConfig_RunsRegisteredValidatorPerCall(t *testing.T) {
	r := New()
	validator := func(cfg any) error {
		m, ok := cfg.(map[string]any)
		if !ok || m["url"] == nil {
			return errors.New("url is required")
		}
		return nil
	}
	require.NoError(t, r.Register(Services, "http", &fakeHTTP{}, validator))

	err := r.ValidateConfig(Services, "http", map[string]any{"url": "/x"})
	assert.NoError(t, err)

	err = r.ValidateConfig(Services, "http", map[string]any{})
	assert.Error(t, err)
}

func TestValidateConfig_UnregisteredNameErrors(t *testing.T) {
	r := New()
	err := r.ValidateConfig(Services, "missing", nil)
	assert.Error(t, err)
}
