package sqlstore

import (
	"strconv"
	"strings"
	"time"
)

// Backend names reported by Store.Backend.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// sqliteTimeLayout is fixed width so TEXT ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// dialect captures the few places the two engines disagree. Queries are
// written with ? placeholders and rebound for Postgres.
type dialect struct {
	name string
	// numbered placeholders ($1, $2, ...)
	numbered bool
	// likeOp is the case-insensitive match operator.
	likeOp string
	// serializeWrites guards check-then-insert with a process mutex for
	// engines without concurrent writers.
	serializeWrites bool
	migrationsDir   string
}

var (
	postgresDialect = dialect{
		name:          BackendPostgres,
		numbered:      true,
		likeOp:        "ILIKE",
		migrationsDir: "migrations/postgres",
	}
	sqliteDialect = dialect{
		name:            BackendSQLite,
		likeOp:          "LIKE",
		serializeWrites: true,
		migrationsDir:   "migrations/sqlite",
	}
)

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timeArg encodes t the way the engine stores created_at/updated_at.
func (d dialect) timeArg(t time.Time) any {
	if d.name == BackendSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// escapeLike makes % and _ in user input literal under ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
