package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	v, err := extractVersion("001_invoice_engine.sql")
	require.NoError(t, err)
	assert.Equal(t, "001", v)

	_, err = extractVersion("invoice.sql")
	assert.Error(t, err)
	_, err = extractVersion("_missing_version.sql")
	assert.Error(t, err)
}

func TestChecksum(t *testing.T) {
	a := checksum([]byte("CREATE TABLE t (id INT);"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, checksum([]byte("CREATE TABLE t (id INT);")))
	assert.NotEqual(t, a, checksum([]byte("CREATE TABLE t (id BIGINT);")))
}
