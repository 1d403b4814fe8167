package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluebridge/internal/discovery"
)

func TestNewScannerSPPNeedsBlueZ(t *testing.T) {
	dc := discovery.DefaultConfig()

	_, err := newScanner(dc, true, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--spp")

	d, err := newScanner(dc, false, nil)
	require.NoError(t, err)
	assert.IsType(t, &discovery.HCI{}, d)

	dc.Backend = discovery.BackendBlueZ
	d, err = newScanner(dc, true, nil)
	require.NoError(t, err)
	require.IsType(t, &discovery.BlueZ{}, d)
	assert.True(t, d.(*discovery.BlueZ).SPPOnly)
}
