package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/neohex/chit/pkg/core/state"
	chitio "github.com/neohex/chit/pkg/io"
	"github.com/neohex/chit/pkg/network/frame"
	"github.com/neohex/chit/pkg/util"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

const defaultRestoreBatch = 1000

// dumpHeader is the first frame of every dump.
type dumpHeader struct {
	Root  util.Uint256
	Count uint64
}

// EncodeBinary implements io.Serializable.
func (h *dumpHeader) EncodeBinary(w *chitio.BinWriter) {
	w.WriteBytes(h.Root[:])
	w.WriteVarUint(h.Count)
}

// DecodeBinary implements io.Serializable.
func (h *dumpHeader) DecodeBinary(r *chitio.BinReader) {
	r.ReadBytes(h.Root[:])
	h.Count = r.ReadVarUint()
}

// dumpEntry is a single key-value frame of a dump.
type dumpEntry state.Change

// EncodeBinary implements io.Serializable.
func (e *dumpEntry) EncodeBinary(w *chitio.BinWriter) {
	w.WriteVarBytes(e.Key)
	w.WriteVarBytes(e.Value)
}

// DecodeBinary implements io.Serializable.
func (e *dumpEntry) DecodeBinary(r *chitio.BinReader) {
	e.Key = r.ReadVarBytes()
	e.Value = r.ReadVarBytes()
}

func writeFrame(w io.Writer, s chitio.Serializable) error {
	buf := chitio.NewBufBinWriter()
	s.EncodeBinary(buf.BinWriter)
	if buf.Err != nil {
		return buf.Err
	}
	return frame.Write(w, buf.Bytes())
}

func readFrame(r *frame.Reader, s chitio.Serializable) error {
	payload, err := r.ReadFrame()
	if err != nil {
		return err
	}
	br := chitio.NewBinReaderFromBuf(payload)
	s.DecodeBinary(br)
	if br.Err == nil && br.Len() != 0 {
		br.Err = errors.New("trailing data in frame")
	}
	return br.Err
}

// errIncompleteDump is returned when some entries of the state can't be
// dumped (their original keys are missing).
var errIncompleteDump = errors.New("incomplete dump")

func dumpDB(ctx *cli.Context) error {
	_, ledger, log, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var (
		out  io.Writer = ctx.App.Writer
		path           = ctx.String("out")
	)
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer f.Close()
		out = f
	}
	hdr, err := writeDump(out, ledger)
	if err != nil {
		if path != "" {
			_ = os.Remove(path)
		}
		return cli.NewExitError(fmt.Errorf("dump failed: %w", err), 1)
	}
	log.Info("state dumped", zap.Stringer("root", hdr.Root), zap.Uint64("entries", hdr.Count))
	return nil
}

// writeDump writes the header and all entries of the current state. It fails
// if the number of written entries differs from the one in the header.
func writeDump(out io.Writer, ledger *state.Ledger) (*dumpHeader, error) {
	n, err := ledger.Len()
	if err != nil {
		return nil, err
	}
	var (
		w        = bufio.NewWriter(out)
		hdr      = &dumpHeader{Root: ledger.Root(), Count: n}
		written  uint64
		writeErr error
	)
	if err := writeFrame(w, hdr); err != nil {
		return nil, err
	}
	err = ledger.Iterate(func(k, v []byte) bool {
		writeErr = writeFrame(w, &dumpEntry{Key: k, Value: v})
		written++
		return writeErr == nil
	})
	if err == nil {
		err = writeErr
	}
	if err == nil && written != n {
		err = fmt.Errorf("%w: %d of %d entries written", errIncompleteDump, written, n)
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		return nil, err
	}
	return hdr, nil
}

func restoreDB(ctx *cli.Context) error {
	_, ledger, log, closer, err := newLedger(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var in io.Reader = os.Stdin
	if path := ctx.String("in"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer f.Close()
		in = f
	}
	batchSize := int(ctx.Uint("batch"))
	if batchSize == 0 {
		batchSize = defaultRestoreBatch
	}

	var (
		r     = frame.NewReader(in)
		hdr   dumpHeader
		fresh = ledger.Root().IsZero()
		batch = make([]state.Change, 0, batchSize)
	)
	if !fresh && !ctx.Bool("force") {
		return cli.NewExitError(errors.New("the ledger is not empty, use --force to restore into it anyway"), 1)
	}
	if err := readFrame(r, &hdr); err != nil {
		return cli.NewExitError(fmt.Errorf("bad dump header: %w", err), 1)
	}
	for i := uint64(0); i < hdr.Count; i++ {
		var e dumpEntry
		if err := readFrame(r, &e); err != nil {
			return cli.NewExitError(fmt.Errorf("entry %d: %w", i, err), 1)
		}
		batch = append(batch, state.Change(e))
		if len(batch) == batchSize || i == hdr.Count-1 {
			if _, err := ledger.Apply(batch); err != nil {
				return cli.NewExitError(err, 1)
			}
			batch = batch[:0]
		}
	}
	root := ledger.Root()
	if fresh && root != hdr.Root {
		return cli.NewExitError(fmt.Errorf("root mismatch: dump %s, restored %s", hdr.Root.StringBE(), root.StringBE()), 1)
	}
	log.Info("state restored", zap.Stringer("root", root), zap.Uint64("entries", hdr.Count))
	fmt.Fprintln(ctx.App.Writer, root.StringBE())
	return nil
}
