package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rxtech-lab/vfunds/internal/types"
	"github.com/rxtech-lab/vfunds/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	dir string
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	suite.dir = suite.T().TempDir()
}

func (suite *StoreTestSuite) stores() map[string]Store {
	fileStore, err := NewFileStore(filepath.Join(suite.dir, "files"))
	suite.Require().NoError(err)

	sqlStore, err := NewSQLStore(filepath.Join(suite.dir, "cache.db"))
	suite.Require().NoError(err)

	return map[string]Store{
		"file":   fileStore,
		"sql":    sqlStore,
		"memory": NewMemoryStore(),
	}
}

func (suite *StoreTestSuite) sampleEntry() Entry {
	series := types.PriceSeries{Symbol: "A", Source: "qmt", Bars: []types.Bar{
		{Date: types.Date(2020, 1, 2), Open: 1, High: 1.1, Low: 0.9, Close: 1.05, Volume: 10},
		{Date: types.Date(2020, 1, 3), Open: 1.05, High: 1.2, Low: 1, Close: 1.1, Volume: 12},
	}}

	payload, err := encodeSeries(series)
	suite.Require().NoError(err)

	return NewEntry(Key{Source: "qmt", Symbol: "A"}.ID("v1"), payload,
		time.Unix(1700000000, 123), 24*time.Hour, DefaultSchemaVersion)
}

func (suite *StoreTestSuite) TestRoundTripExactBytes() {
	for name, store := range suite.stores() {
		suite.Run(name, func() {
			defer store.Close()

			entry := suite.sampleEntry()
			suite.Require().NoError(store.Save(context.Background(), entry))

			found, err := store.Load(context.Background(), entry.Key)
			suite.Require().NoError(err)
			suite.Require().True(found.IsSome())

			got := found.Unwrap()
			suite.Equal(entry.Payload, got.Payload)
			suite.Equal(entry.Checksum, got.Checksum)
			suite.True(entry.CreatedAt.Equal(got.CreatedAt))
			suite.Equal(entry.TTL, got.TTL)
			suite.Equal(entry.SchemaVersion, got.SchemaVersion)
			suite.NoError(got.Verify())

			series, err := decodeSeries(got.Payload)
			suite.Require().NoError(err)
			suite.Len(series.Bars, 2)

			// overwrite
			entry.TTL = time.Minute
			suite.Require().NoError(store.Save(context.Background(), entry))
			found, err = store.Load(context.Background(), entry.Key)
			suite.Require().NoError(err)
			suite.Equal(time.Minute, found.Unwrap().TTL)

			suite.Require().NoError(store.Delete(context.Background(), entry.Key))
			found, err = store.Load(context.Background(), entry.Key)
			suite.Require().NoError(err)
			suite.True(found.IsNone())
			suite.NoError(store.Delete(context.Background(), entry.Key))
		})
	}
}

func (suite *StoreTestSuite) TestFileStoreLayout() {
	store, err := NewFileStore(suite.dir)
	suite.Require().NoError(err)

	entry := suite.sampleEntry()
	suite.Require().NoError(store.Save(context.Background(), entry))

	path := filepath.Join(suite.dir, entry.Key[:2], entry.Key+".entry")
	suite.FileExists(path)

	leftovers, err := filepath.Glob(filepath.Join(suite.dir, entry.Key[:2], "*.tmp"))
	suite.Require().NoError(err)
	suite.Empty(leftovers)
}

func (suite *StoreTestSuite) TestFileStoreTruncatedEntry() {
	store, err := NewFileStore(suite.dir)
	suite.Require().NoError(err)

	entry := suite.sampleEntry()
	suite.Require().NoError(store.Save(context.Background(), entry))

	path := filepath.Join(suite.dir, entry.Key[:2], entry.Key+".entry")
	data, err := os.ReadFile(path)
	suite.Require().NoError(err)
	suite.Require().NoError(os.WriteFile(path, data[:len(data)-3], 0o644))

	_, err = store.Load(context.Background(), entry.Key)
	suite.True(errors.HasCode(err, errors.ErrCodeCacheCorruption))

	suite.Require().NoError(os.WriteFile(path, []byte("garbage"), 0o644))
	_, err = store.Load(context.Background(), entry.Key)
	suite.True(errors.HasCode(err, errors.ErrCodeCacheCorruption))
}

func (suite *StoreTestSuite) TestEntryExpiry() {
	entry := suite.sampleEntry()
	suite.False(entry.Expired(entry.CreatedAt.Add(time.Hour)))
	suite.True(entry.Expired(entry.CreatedAt.Add(25 * time.Hour)))
}

func (suite *StoreTestSuite) TestKeyID() {
	a := Key{Source: "qmt", Symbol: "A", Start: types.Date(2020, 1, 1), End: types.Date(2020, 12, 31)}
	b := a
	b.Symbol = "B"

	suite.Len(a.ID("v1"), 64)
	suite.Equal(a.ID("v1"), a.ID("v1"))
	suite.NotEqual(a.ID("v1"), b.ID("v1"))
	suite.NotEqual(a.ID("v1"), a.ID("v2"))
}
