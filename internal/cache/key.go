package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Key identifies a cached price series. Two fetches with the same key must
// return the same data.
type Key struct {
	Source string
	Symbol string
	Start  time.Time
	End    time.Time
}

// ID returns the content address of the key under a schema line, e.g. "v1".
// The result is a lowercase hex sha256 digest.
func (k Key) ID(schemaLine string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{
		k.Source,
		k.Symbol,
		k.Start.UTC().Format(time.DateOnly),
		k.End.UTC().Format(time.DateOnly),
		schemaLine,
	}, "\x1f")))

	return hex.EncodeToString(h.Sum(nil))
}

// String is used in logs.
func (k Key) String() string {
	return k.Source + ":" + k.Symbol + "?" + k.Start.Format(time.DateOnly) + ".." + k.End.Format(time.DateOnly)
}
