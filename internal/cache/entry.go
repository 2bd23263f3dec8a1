package cache

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/zeebo/xxh3"
)

const (
	entryMagic         = "VFCE"
	entryFormatVersion = uint16(1)
)

// Entry is one stored price series payload.
type Entry struct {
	Key           string
	Payload       []byte
	CreatedAt     time.Time
	TTL           time.Duration
	Checksum      uint64
	SchemaVersion string
}

// NewEntry builds an entry and computes its checksum.
func NewEntry(key string, payload []byte, createdAt time.Time, ttl time.Duration, schemaVersion string) Entry {
	return Entry{
		Key:           key,
		Payload:       payload,
		CreatedAt:     createdAt,
		TTL:           ttl,
		Checksum:      xxh3.Hash(payload),
		SchemaVersion: schemaVersion,
	}
}

// Expired reports whether the entry is older than its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// Verify recomputes the payload checksum.
func (e Entry) Verify() error {
	if got := xxh3.Hash(e.Payload); got != e.Checksum {
		return errors.Newf(errors.ErrCodeCacheCorruption, "checksum mismatch for %s: stored %x, computed %x", e.Key, e.Checksum, got)
	}

	return nil
}

// MarshalBinary encodes the entry as a fixed header followed by the payload.
func (e Entry) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(entryMagic)

	fields := []any{
		entryFormatVersion,
		e.CreatedAt.UnixNano(),
		int64(e.TTL),
		e.Checksum,
		uint16(len(e.SchemaVersion)),
	}
	for _, f := range fields {
		if err := binary.Write(&buf, binary.BigEndian, f); err != nil {
			return nil, err
		}
	}

	buf.WriteString(e.SchemaVersion)

	if err := binary.Write(&buf, binary.BigEndian, uint16(len(e.Key))); err != nil {
		return nil, err
	}

	buf.WriteString(e.Key)

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(e.Payload))); err != nil {
		return nil, err
	}

	buf.Write(e.Payload)

	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an entry written by MarshalBinary. Any structural
// problem is reported as ErrCodeCacheCorruption.
func (e *Entry) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)

	magic := make([]byte, len(entryMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != entryMagic {
		return errors.New(errors.ErrCodeCacheCorruption, "bad entry magic")
	}

	var (
		version   uint16
		createdAt int64
		ttl       int64
		checksum  uint64
	)

	for _, f := range []any{&version, &createdAt, &ttl, &checksum} {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			return errors.Wrap(errors.ErrCodeCacheCorruption, "truncated entry header", err)
		}
	}

	if version != entryFormatVersion {
		return errors.Newf(errors.ErrCodeCacheCorruption, "unknown entry format %d", version)
	}

	schema, err := readString16(r)
	if err != nil {
		return err
	}

	key, err := readString16(r)
	if err != nil {
		return err
	}

	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return errors.Wrap(errors.ErrCodeCacheCorruption, "truncated payload length", err)
	}

	if int64(n) != int64(r.Len()) {
		return errors.Newf(errors.ErrCodeCacheCorruption, "payload length %d does not match %d remaining bytes", n, r.Len())
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return errors.Wrap(errors.ErrCodeCacheCorruption, "truncated payload", err)
	}

	*e = Entry{
		Key:           key,
		Payload:       payload,
		CreatedAt:     time.Unix(0, createdAt),
		TTL:           time.Duration(ttl),
		Checksum:      checksum,
		SchemaVersion: schema,
	}

	return nil
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errors.Wrap(errors.ErrCodeCacheCorruption, "truncated string length", err)
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errors.Wrap(errors.ErrCodeCacheCorruption, "truncated string", err)
	}

	return string(b), nil
}
