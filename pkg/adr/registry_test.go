package adr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticHandler struct{}

func (staticHandler) ID() string   { return "static" }
func (staticHandler) Name() string { return "Static" }
func (staticHandler) Handle(req HandleRequest) HandleResponse {
	return HandleResponse{DR: req.DR, TxPowerIndex: req.TxPowerIndex, NbTrans: req.NbTrans}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry(3)

	h, err := r.Get(SlowHandlerID)
	require.NoError(t, err)
	assert.Equal(t, SlowHandlerName, h.Name())
	require.IsType(t, &SlowHandler{}, h)
	assert.Equal(t, 3.0, h.(*SlowHandler).InstallationMargin())

	_, err = r.Get("nope")
	assert.True(t, errors.Is(err, ErrUnknownHandler))
}

func TestRegistryRegister(t *testing.T) {
	r := DefaultRegistry(DefaultInstallationMargin)

	require.NoError(t, r.Register(staticHandler{}))
	assert.Error(t, r.Register(staticHandler{}))
	assert.Error(t, r.Register(NewSlowHandler()))
	assert.Error(t, r.Register(nil))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, SlowHandlerID, list[0].ID())
	assert.Equal(t, "static", list[1].ID())
}
