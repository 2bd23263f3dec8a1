package cache

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/flate"
	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
)

// encodeSeries serializes a series as deflate compressed JSON.
func encodeSeries(series types.PriceSeries) ([]byte, error) {
	var buf bytes.Buffer

	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to create compressor", err)
	}

	if err := json.NewEncoder(w).Encode(series); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to encode series", err)
	}

	if err := w.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheWriteFailed, "failed to flush compressor", err)
	}

	return buf.Bytes(), nil
}

// decodeSeries reverses encodeSeries. Failures are reported as corruption.
func decodeSeries(payload []byte) (types.PriceSeries, error) {
	var series types.PriceSeries

	r := flate.NewReader(bytes.NewReader(payload))
	defer r.Close()

	if err := json.NewDecoder(r).Decode(&series); err != nil {
		return types.PriceSeries{}, errors.Wrap(errors.ErrCodeCacheCorruption, "failed to decode cached series", err)
	}

	if err := series.Validate(); err != nil {
		return types.PriceSeries{}, errors.Wrap(errors.ErrCodeCacheCorruption, "cached series is not ordered", err)
	}

	return series, nil
}
