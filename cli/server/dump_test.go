package server

import (
	"bytes"
	"testing"

	"github.com/neohex/chit/pkg/config"
	"github.com/neohex/chit/pkg/core/state"
	"github.com/neohex/chit/pkg/core/storage"
	"github.com/neohex/chit/pkg/crypto/hash"
	"github.com/neohex/chit/pkg/network/frame"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWriteDump(t *testing.T) {
	s := storage.NewMemoryStore()
	ledger, err := state.NewLedger(s, config.Ledger{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	root, err := ledger.Apply([]state.Change{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte{}},
	})
	require.NoError(t, err)

	buf := bytes.NewBuffer(nil)
	hdr, err := writeDump(buf, ledger)
	require.NoError(t, err)
	require.Equal(t, dumpHeader{Root: root, Count: 3}, *hdr)

	var (
		r      = frame.NewReader(buf)
		actual dumpHeader
		kv     = make(map[string]string)
	)
	require.NoError(t, readFrame(r, &actual))
	require.Equal(t, *hdr, actual)
	for range actual.Count {
		var e dumpEntry
		require.NoError(t, readFrame(r, &e))
		kv[string(e.Key)] = string(e.Value)
	}
	require.Equal(t, map[string]string{"a": "1", "b": "2", "c": ""}, kv)

	t.Run("missing original key", func(t *testing.T) {
		h := hash.Keccak256([]byte("b"))
		require.NoError(t, s.PutChangeSet(map[string][]byte{
			string(storage.AppendPrefix(storage.DataAVLAux, h.BytesBE())): nil,
		}))
		_, err := writeDump(bytes.NewBuffer(nil), ledger)
		require.ErrorIs(t, err, errIncompleteDump)
	})
}
