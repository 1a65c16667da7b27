package godbconn

import (
	"context"

	"github.com/objectgraph/godbconn/cache"
	"github.com/objectgraph/godbconn/codec"
	"github.com/objectgraph/godbconn/database"
	"github.com/objectgraph/godbconn/persistent"
	"github.com/objectgraph/godbconn/storage"
)

// record is the shared test fixture: a plain persistent object with one
// exported field gob can encode.
type record struct {
	persistent.Base
	Name string
}

// independentRecord is a record that is immune to invalidation (spec.md
// §8's "Independent" scenario).
type independentRecord struct {
	persistent.Base
	Name string
}

func (r *independentRecord) PIndependent() bool { return true }

func newTestCodec() *codec.GobCodec {
	c := codec.NewGobCodec()
	c.Register("record", func() persistent.Object { return &record{} })
	c.Register("independentRecord", func() persistent.Object { return &independentRecord{} })
	return c
}

// testFactory builds a fresh *Connection bound to db, sharing cdc as every
// connection's Codec (the codec's type registry must be shared so every
// connection agrees on wire format).
func testFactory(cdc codec.Codec) database.Factory {
	return func(db *database.Database) database.Connection {
		c := NewConnection(ConnectionParams{
			Cache: cache.New(1000),
			Codec: cdc,
			MVCC:  true,
		})
		c.BindDatabase(db)
		return c
	}
}

func newTestDatabase(cdc codec.Codec) (*database.Database, *storage.MemStorage) {
	ms := storage.NewMemStorage()
	db := database.New(ms, testFactory(cdc), database.Config{})
	return db, ms
}

func acquireConn(db *database.Database) *Connection {
	c, err := db.Acquire(context.Background())
	if err != nil {
		panic(err)
	}
	return c.(*Connection)
}
