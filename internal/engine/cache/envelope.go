package cache

import (
	"bytes"
	"strings"

	"github.com/opencontainers/go-digest"
	"go.trai.ch/kiln/internal/core/domain"
	"go.trai.ch/zerr"
)

// envelopeMagic starts every persisted entry.
const envelopeMagic = "kiln1"

// Seal wraps data in the persisted envelope
// "kiln1 <hash> <sha256 digest>\n<data>".
func Seal(hash domain.ContentHash, data []byte) []byte {
	header := envelopeMagic + " " + hash.String() + " " + digest.FromBytes(data).String() + "\n"
	out := make([]byte, 0, len(header)+len(data))
	out = append(out, header...)
	return append(out, data...)
}

// Open verifies a sealed entry against hash and returns its payload. Any
// mismatch is reported as ErrCacheIntegrity.
func Open(hash domain.ContentHash, raw []byte) ([]byte, error) {
	header, payload, ok := bytes.Cut(raw, []byte{'\n'})
	if !ok {
		return nil, integrity(hash, "missing envelope header")
	}
	fields := strings.Fields(string(header))
	if len(fields) != 3 || fields[0] != envelopeMagic {
		return nil, integrity(hash, "malformed envelope header")
	}
	if fields[1] != hash.String() {
		return nil, zerr.With(integrity(hash, "envelope hash mismatch"), "stored", fields[1])
	}

	d, err := digest.Parse(fields[2])
	if err != nil {
		return nil, zerr.With(integrity(hash, "invalid digest"), "digest", fields[2])
	}
	v := d.Verifier()
	_, _ = v.Write(payload)
	if !v.Verified() {
		return nil, zerr.With(integrity(hash, "digest mismatch"), "digest", d.String())
	}
	return payload, nil
}

func integrity(hash domain.ContentHash, msg string) error {
	return zerr.With(zerr.Wrap(domain.ErrCacheIntegrity, msg), "hash", hash.String())
}
