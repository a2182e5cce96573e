package logstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegisterIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	id1, err := cat.Register(Collection{StreamTag: "syslog", LogSourcePath: "/var/log/syslog", Type: 1, DBDir: dir + "/syslog"})
	require.NoError(t, err)

	id2, err := cat.Register(Collection{StreamTag: "syslog", LogSourcePath: "/var/log/syslog", Type: 1, DBDir: dir + "/syslog"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	list, err := cat.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "syslog", list[0].StreamTag)
}

func TestCatalogRegisterDistinctSources(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(dir)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	_, err = cat.Register(Collection{StreamTag: "a", LogSourcePath: "/a.log", DBDir: dir + "/a"})
	require.NoError(t, err)
	_, err = cat.Register(Collection{StreamTag: "b", LogSourcePath: "/b.log", DBDir: dir + "/b"})
	require.NoError(t, err)

	list, err := cat.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}
