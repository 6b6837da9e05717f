package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorawan-server/lorawan-adr/pkg/adr"
)

const increaseRequest = `{
  "adr": true,
  "dr": 2,
  "txPowerIndex": 4,
  "nbTrans": 1,
  "maxTxPowerIndex": 7,
  "requiredSnrForDr": -15,
  "installationMargin": 100,
  "minDr": 0,
  "maxDr": 5,
  "uplinkHistory": [
    {"fCnt": 0, "maxSnr": -5}, {"fCnt": 1, "maxSnr": -5}, {"fCnt": 2, "maxSnr": -5}, {"fCnt": 3, "maxSnr": -5},
    {"fCnt": 4, "maxSnr": -5}, {"fCnt": 5, "maxSnr": -5}, {"fCnt": 6, "maxSnr": -5}, {"fCnt": 7, "maxSnr": -5},
    {"fCnt": 8, "maxSnr": -5}, {"fCnt": 9, "maxSnr": -5}, {"fCnt": 10, "maxSnr": -5}, {"fCnt": 11, "maxSnr": -5},
    {"fCnt": 12, "maxSnr": -5}, {"fCnt": 13, "maxSnr": -5}, {"fCnt": 14, "maxSnr": -5}, {"fCnt": 15, "maxSnr": -5},
    {"fCnt": 16, "maxSnr": -5}, {"fCnt": 17, "maxSnr": -5}, {"fCnt": 18, "maxSnr": -5}, {"fCnt": 19, "maxSnr": -5}
  ]
}`

func newTestRegistry(t *testing.T, margin float64) *adr.Registry {
	t.Helper()

	r := adr.DefaultRegistry(margin)
	_, err := r.Get(adr.SlowHandlerID)
	require.NoError(t, err)
	return r
}

func TestRunStdin(t *testing.T) {
	var out bytes.Buffer

	// -5 - (-15) - 5 = 5 dB of headroom
	err := run(newTestRegistry(t, 5), "-", adr.SlowHandlerID, false, strings.NewReader(increaseRequest), &out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dr":3,"txPowerIndex":0,"nbTrans":1}`, out.String())

	out.Reset()
	err = run(newTestRegistry(t, adr.DefaultInstallationMargin), "-", adr.SlowHandlerID, false, strings.NewReader(increaseRequest), &out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dr":2,"txPowerIndex":0,"nbTrans":1}`, out.String())

	// a zero margin is honored, not replaced by the default
	out.Reset()
	err = run(newTestRegistry(t, 0), "-", adr.SlowHandlerID, false, strings.NewReader(increaseRequest), &out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dr":3,"txPowerIndex":0,"nbTrans":1}`, out.String())
}

func TestRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"adr":false,"dr":4,"txPowerIndex":3,"nbTrans":2,"maxDr":5}`), 0o600))

	var out bytes.Buffer
	require.NoError(t, run(newTestRegistry(t, 0), path, adr.SlowHandlerID, true, nil, &out))
	assert.JSONEq(t, `{"dr":4,"txPowerIndex":0,"nbTrans":2}`, out.String())
}

func TestRunErrors(t *testing.T) {
	r := newTestRegistry(t, 0)
	var out bytes.Buffer

	assert.Error(t, run(r, filepath.Join(t.TempDir(), "missing.json"), adr.SlowHandlerID, false, nil, &out))
	assert.Error(t, run(r, "-", adr.SlowHandlerID, false, strings.NewReader("{"), &out))
	assert.ErrorIs(t, run(r, "-", adr.SlowHandlerID, false, strings.NewReader(`{"algorithm":"other"}`), &out), adr.ErrUnknownHandler)
}
