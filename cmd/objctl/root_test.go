package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Amz-Meta-Owner = alice", "x-oss-meta-empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"x-amz-meta-owner": "alice",
		"x-oss-meta-empty": "",
	}, headers)

	headers, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, headers)

	for _, bad := range []string{"novalue", "=value"} {
		_, err := parseHeaders([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"put", "get", "rm"} {
		assert.True(t, names[want], want)
	}
}
