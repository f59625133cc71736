package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pay-theory/aerokit/pkg/errors"
	"github.com/pay-theory/aerokit/pkg/types"
)

// Cursor represents the resume point of a scan
type Cursor struct {
	Namespace string `json:"ns"`
	Set       string `json:"set,omitempty"`
	Digest    []byte `json:"digest"`
}

// CursorAfter returns a cursor that resumes after rec
func CursorAfter(rec *types.Record) *Cursor {
	if rec == nil || rec.Key == nil {
		return nil
	}
	return &Cursor{
		Namespace: rec.Key.Namespace,
		Set:       rec.Key.Set,
		Digest:    append([]byte(nil), rec.Key.Digest[:]...),
	}
}

// Encode encodes the cursor into an opaque base64 string
func (c *Cursor) Encode() (string, error) {
	if c == nil {
		return "", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

// DecodeCursor decodes a cursor string. The empty string decodes to nil.
func DecodeCursor(encoded string) (*Cursor, error) {
	if encoded == "" {
		return nil, nil
	}

	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "failed to decode cursor: %v", err)
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, errors.Newf(errors.ErrInvalidArgument, "failed to unmarshal cursor: %v", err)
	}
	if _, err := cursor.digest(); err != nil {
		return nil, err
	}
	return &cursor, nil
}

func (c *Cursor) digest() (*[types.DigestSize]byte, error) {
	if len(c.Digest) != types.DigestSize {
		return nil, errors.Newf(errors.ErrInvalidArgument, "cursor digest must be %d bytes, got %d", types.DigestSize, len(c.Digest))
	}
	var d [types.DigestSize]byte
	copy(d[:], c.Digest)
	return &d, nil
}
