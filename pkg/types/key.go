package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the server digest is defined over RIPEMD-160

	"github.com/pay-theory/aerokit/pkg/errors"
)

// DigestSize is the length of a record digest.
const DigestSize = 20

// Key identifies a record. The digest is what the server indexes; the user key
// is only sent when the write policy asks for it.
type Key struct {
	Namespace string
	Set       string
	UserKey   Value
	Digest    [DigestSize]byte
}

// NewKey builds a key from an int, string or blob user key and computes its digest.
func NewKey(namespace, set string, userKey any) (*Key, error) {
	if namespace == "" {
		return nil, errors.Newf(errors.ErrInvalidArgument, "namespace cannot be empty")
	}

	var v Value
	switch k := userKey.(type) {
	case Value:
		v = k
	case string:
		v = StringValue(k)
	case []byte:
		v = BlobValue(k)
	case int:
		v = IntValue(int64(k))
	case int8:
		v = IntValue(int64(k))
	case int16:
		v = IntValue(int64(k))
	case int32:
		v = IntValue(int64(k))
	case int64:
		v = IntValue(k)
	case uint8:
		v = IntValue(int64(k))
	case uint16:
		v = IntValue(int64(k))
	case uint32:
		v = IntValue(int64(k))
	default:
		return nil, errors.Newf(errors.ErrInvalidArgument, "unsupported user key type %T", userKey)
	}

	digest, err := ComputeDigest(set, v)
	if err != nil {
		return nil, err
	}

	return &Key{Namespace: namespace, Set: set, UserKey: v, Digest: digest}, nil
}

// NewKeyWithDigest builds a key for a record whose user key is unknown.
func NewKeyWithDigest(namespace, set string, digest []byte) (*Key, error) {
	if namespace == "" {
		return nil, errors.Newf(errors.ErrInvalidArgument, "namespace cannot be empty")
	}
	if len(digest) != DigestSize {
		return nil, errors.Newf(errors.ErrInvalidArgument, "digest must be %d bytes, got %d", DigestSize, len(digest))
	}
	k := &Key{Namespace: namespace, Set: set}
	copy(k.Digest[:], digest)
	return k, nil
}

// ComputeDigest hashes set name, key particle type and key bytes the way the server does.
func ComputeDigest(set string, userKey Value) ([DigestSize]byte, error) {
	var out [DigestSize]byte

	var keyBytes []byte
	switch userKey.Type() {
	case IntType:
		keyBytes = binary.BigEndian.AppendUint64(nil, uint64(userKey.AsInt()))
	case StringType:
		keyBytes = []byte(userKey.AsString())
	case BlobType:
		keyBytes = userKey.AsBytes()
	default:
		return out, errors.Newf(errors.ErrInvalidArgument, "user key must be int, string or blob, got %s", userKey.Type())
	}

	h := ripemd160.New()
	h.Write([]byte(set))
	h.Write([]byte{userKey.Type().Particle()})
	h.Write(keyBytes)
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Equal compares namespace and digest.
func (k *Key) Equal(o *Key) bool {
	if k == nil || o == nil {
		return k == o
	}
	return k.Namespace == o.Namespace && bytes.Equal(k.Digest[:], o.Digest[:])
}

func (k *Key) String() string {
	if k == nil {
		return "<nil>"
	}
	if !k.UserKey.IsNil() {
		return fmt.Sprintf("%s:%s:%s", k.Namespace, k.Set, k.UserKey)
	}
	return fmt.Sprintf("%s:%s:%s", k.Namespace, k.Set, hex.EncodeToString(k.Digest[:]))
}
