package monitorregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/growctl/errors"
	"github.com/c360/growctl/monitor"
)

func TestRegister(t *testing.T) {
	r := monitor.NewRegistry()
	require.NoError(t, Register(r))
	assert.Equal(t, []string{"faucet", "plant"}, r.Types())

	err := Register(r)
	require.Error(t, err, "registering twice reports the duplicate")
	assert.True(t, errors.IsInvalid(err))
}

func TestRegister_NilRegistry(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
