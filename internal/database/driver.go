package database

import (
	"database/sql"
	"encoding/binary"
	"hash/fnv"
	"strings"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/cases"
)

// DriverName is the database/sql driver registered by this package. It is
// go-sqlite3 with the FOLD collation and the seeded_rank function added to
// every connection.
const DriverName = "sqlite3_catalog"

// FoldCollation is the collation used for case-insensitive text indexes.
const FoldCollation = "FOLD"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterCollation(FoldCollation, compareFolded); err != nil {
				return err
			}
			return conn.RegisterFunc("seeded_rank", SeededRank, true)
		},
	})
}

// Fold applies Unicode full case folding. The same function backs the FOLD
// collation and in-memory comparisons, so both agree on every string.
func Fold(s string) string {
	// A Caser carries state and is not safe for concurrent use.
	return cases.Fold().String(s)
}

func compareFolded(a, b string) int {
	return strings.Compare(Fold(a), Fold(b))
}

// SeededRank maps an id to a stable pseudo-random rank for a seed. Sorting
// by it gives a shuffle that is repeatable for the same seed, which keeps
// cursor pagination over random order consistent.
func SeededRank(id string, seed int64) int64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(seed))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64() >> 1)
}
