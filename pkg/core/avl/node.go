package avl

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/neohex/chit/pkg/crypto/hash"
	"github.com/neohex/chit/pkg/io"
	"github.com/neohex/chit/pkg/util"
)

// NodeType represents node type.
type NodeType byte

// Node types definitions.
const (
	LeafT     NodeType = 0x00
	InternalT NodeType = 0x01
)

const (
	// MaxKeyLength is the maximum length of a tree key.
	MaxKeyLength = 1024
	// MaxValueLength is the maximum length of a value stored in the tree.
	MaxValueLength = io.MaxArraySize
)

// Node is a single tree node. A node without children is serialized as a
// leaf, its height and size are 1 then. Nodes are immutable once stored, any
// change produces a new node with a different hash.
type Node struct {
	Key   []byte
	Value []byte
	Left  util.Uint256
	Right util.Uint256

	height uint8
	size   uint64

	hash       util.Uint256
	bytes      []byte
	cacheValid bool
}

var _ io.Serializable = (*Node)(nil)

// NewNode creates a node of a canonical subtree holding size entries.
func NewNode(key, value []byte, left, right util.Uint256, size uint64) *Node {
	return &Node{
		Key:    key,
		Value:  value,
		Left:   left,
		Right:  right,
		height: heightOf(size),
		size:   size,
	}
}

// heightOf returns the height of a canonical subtree holding size entries.
func heightOf(size uint64) uint8 {
	return uint8(bits.Len64(size))
}

// Type returns node type.
func (n *Node) Type() NodeType {
	if n.Left.IsZero() && n.Right.IsZero() {
		return LeafT
	}
	return InternalT
}

// Height returns the height of the subtree rooted at this node.
func (n *Node) Height() uint8 { return n.height }

// Size returns the number of entries in the subtree rooted at this node.
func (n *Node) Size() uint64 { return n.size }

// Hash returns Keccak-256 hash of the serialized node.
func (n *Node) Hash() util.Uint256 {
	n.updateCache()
	return n.hash
}

// Bytes returns serialized node.
func (n *Node) Bytes() []byte {
	n.updateCache()
	return n.bytes
}

func (n *Node) updateCache() {
	if n.cacheValid {
		return
	}
	buf := io.NewBufBinWriter()
	n.EncodeBinary(buf.BinWriter)
	n.bytes = buf.Bytes()
	n.hash = hash.Keccak256(n.bytes)
	n.cacheValid = true
}

func (n *Node) setCache(b []byte, h util.Uint256) {
	n.bytes = b
	n.hash = h
	n.cacheValid = true
}

// invalidateCache must be called after any field change.
func (n *Node) invalidateCache() {
	n.cacheValid = false
}

// EncodeBinary implements io.Serializable.
func (n *Node) EncodeBinary(w *io.BinWriter) {
	typ := n.Type()
	w.WriteB(byte(typ))
	w.WriteVarBytes(n.Key)
	w.WriteVarBytes(n.Value)
	if typ == LeafT {
		return
	}
	w.WriteBytes(n.Left[:])
	w.WriteBytes(n.Right[:])
	w.WriteB(n.height)
	w.WriteVarUint(n.size)
}

// DecodeBinary implements io.Serializable.
func (n *Node) DecodeBinary(r *io.BinReader) {
	typ := NodeType(r.ReadB())
	if r.Err != nil {
		return
	}
	if typ != LeafT && typ != InternalT {
		r.Err = fmt.Errorf("invalid node type: %x", byte(typ))
		return
	}
	n.Key = r.ReadVarBytes(MaxKeyLength)
	n.Value = r.ReadVarBytes(MaxValueLength)
	n.Left, n.Right = util.Uint256{}, util.Uint256{}
	n.height, n.size = 1, 1
	if typ == InternalT {
		r.ReadBytes(n.Left[:])
		r.ReadBytes(n.Right[:])
		n.height = r.ReadB()
		n.size = r.ReadVarUint()
		if r.Err == nil && n.Left.IsZero() && n.Right.IsZero() {
			r.Err = errors.New("internal node without children")
		}
		if r.Err == nil && (n.size < 2 || n.height != heightOf(n.size)) {
			r.Err = fmt.Errorf("inconsistent height %d for size %d", n.height, n.size)
		}
	}
	n.invalidateCache()
}

// DecodeNode decodes a node from its serialized form. Any trailing data is
// treated as an error.
func DecodeNode(data []byte) (*Node, error) {
	n := new(Node)
	r := io.NewBinReaderFromBuf(data)
	n.DecodeBinary(r)
	if r.Err == nil && r.Len() != 0 {
		r.Err = fmt.Errorf("%d trailing bytes", r.Len())
	}
	if r.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, r.Err)
	}
	return n, nil
}
