package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"bench", "-n", "500", "--fast", "--pair", "ETH/USDT"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "ETH/USDT fast: 500 ok / 0 failed")
}

func TestUnknownConfigFile(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"bench", "--config", "/nonexistent/ixtrade.yaml"})
	require.Error(t, root.Execute())
}
