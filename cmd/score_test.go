package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLotIDs(t *testing.T) {
	ids, err := parseLotIDs("1, 2,3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	ids, err = parseLotIDs("")
	require.NoError(t, err)
	assert.Nil(t, ids)

	_, err = parseLotIDs("1,abc")
	require.Error(t, err)
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"backfill", "sync", "score", "runs", "cursors", "migrate"} {
		assert.True(t, names[want], want)
	}
}
