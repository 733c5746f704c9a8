package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopStrategy struct{ *BaseStrategy }

func registerTestDescriptor(t *testing.T, name string, params []ParamSpec) Descriptor {
	t.Helper()
	d := Descriptor{
		Name:    name,
		Version: "v1",
		Params:  params,
		New: func(params map[string]interface{}, symbols SymbolBindings) (Strategy, error) {
			return &nopStrategy{NewBaseStrategy(name, params)}, nil
		},
	}
	Register(d)
	return d
}

func TestRegistryLookup(t *testing.T) {
	d := registerTestDescriptor(t, "registry_lookup_test", nil)

	got, ok := Lookup(d.Name)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Version)

	_, ok = Lookup("no_such_strategy")
	assert.False(t, ok)
	assert.Contains(t, Names(), d.Name)
}

func TestRegistryDuplicatePanics(t *testing.T) {
	registerTestDescriptor(t, "registry_dup_test", nil)
	assert.Panics(t, func() {
		registerTestDescriptor(t, "registry_dup_test", nil)
	})
}

func TestBuildParamsDefaultsAndOverrides(t *testing.T) {
	d := registerTestDescriptor(t, "registry_params_test", []ParamSpec{
		{Name: "period", Kind: ParamInt, Default: 20},
		{Name: "threshold", Kind: ParamFloat, Default: 25.0},
		{Name: "label", Kind: ParamString, Default: "x"},
	})

	params, err := d.BuildParams(nil)
	require.NoError(t, err)
	assert.Equal(t, 20, params["period"])
	assert.Equal(t, 25.0, params["threshold"])

	// Overrides win; YAML-style float for an int param coerces when whole
	params, err = d.BuildParams(map[string]interface{}{
		"period":    50.0,
		"threshold": 30,
	})
	require.NoError(t, err)
	assert.Equal(t, 50, params["period"])
	assert.Equal(t, 30.0, params["threshold"])
}

func TestBuildParamsRejectsUnknownAndBadTypes(t *testing.T) {
	d := registerTestDescriptor(t, "registry_reject_test", []ParamSpec{
		{Name: "period", Kind: ParamInt, Default: 20},
	})

	_, err := d.BuildParams(map[string]interface{}{"perid": 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown parameter")

	_, err = d.BuildParams(map[string]interface{}{"period": "fast"})
	require.Error(t, err)

	_, err = d.BuildParams(map[string]interface{}{"period": 10.5})
	require.Error(t, err, "fractional float is not an int")
}

func TestBuildParamsRequired(t *testing.T) {
	d := registerTestDescriptor(t, "registry_required_test", []ParamSpec{
		{Name: "period", Kind: ParamInt, Required: true},
	})

	_, err := d.BuildParams(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required parameter")

	_, err = d.BuildParams(map[string]interface{}{"period": 10})
	assert.NoError(t, err)
}

func TestBuildParamsEnvOverride(t *testing.T) {
	d := registerTestDescriptor(t, "registry_env_test", []ParamSpec{
		{Name: "period", Kind: ParamInt, Default: 20},
	})

	t.Setenv("STRATEGY_REGISTRY_ENV_TEST_V1_PERIOD", "35")
	params, err := d.BuildParams(nil)
	require.NoError(t, err)
	assert.Equal(t, 35, params["period"])

	// Explicit overrides beat the environment
	params, err = d.BuildParams(map[string]interface{}{"period": 40})
	require.NoError(t, err)
	assert.Equal(t, 40, params["period"])
}
