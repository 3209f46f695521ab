package port

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func definePorts(t *testing.T, r *Registry, pipes ...string) []ModelPort {
	t.Helper()
	tx, err := r.Begin()
	require.NoError(t, err)
	var out []ModelPort
	for _, p := range pipes {
		mp, err := tx.Define(p, "video/raw")
		require.NoError(t, err)
		out = append(out, mp)
	}
	require.NoError(t, tx.Commit())
	return out
}

func TestRegistry_DefineAndLookup(t *testing.T) {
	r := NewRegistry()
	ports := definePorts(t, r, "master-video", "master-audio")

	require.Len(t, ports, 2)
	assert.NotEqual(t, ports[0], ports[1])

	d, err := r.Lookup(ports[1])
	require.NoError(t, err)
	assert.Equal(t, "master-audio", d.PipeID)

	p, err := r.Resolve("master-video")
	require.NoError(t, err)
	assert.Equal(t, ports[0], p)
}

func TestRegistry_NotVisibleBeforeCommit(t *testing.T) {
	r := NewRegistry()
	tx, err := r.Begin()
	require.NoError(t, err)
	p, err := tx.Define("video", "video/raw")
	require.NoError(t, err)

	assert.False(t, r.Contains(p))
	require.NoError(t, tx.Commit())
	assert.True(t, r.Contains(p))
}

func TestRegistry_IdentityCarriedOver(t *testing.T) {
	r := NewRegistry()
	first := definePorts(t, r, "video", "audio")
	second := definePorts(t, r, "video")

	assert.Equal(t, first[0], second[0])
	assert.False(t, r.Contains(first[1]), "audio port not redefined, must be gone")

	_, err := r.Lookup(first[1])
	assert.True(t, IsUnknownPort(err))
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()

	_, err := r.Lookup(NIL)
	var pe *PortError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeDisconnected, pe.Code)

	tx, err := r.Begin()
	require.NoError(t, err)
	_, err = r.Begin()
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeTransactionOpen, pe.Code)

	_, err = tx.Define("a", "")
	require.NoError(t, err)
	_, err = tx.Define("a", "")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeDuplicatePipe, pe.Code)

	tx.Rollback()
	_, err = tx.Define("b", "")
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ErrCodeTransactionClosed, pe.Code)

	_, err = r.Begin()
	assert.NoError(t, err, "rollback must release the transaction slot")
}
