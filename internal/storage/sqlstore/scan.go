package sqlstore

import (
	"fmt"
	"time"

	"pipay/pkg/domain"
)

// timeColumn scans either a native timestamp (Postgres) or the fixed-width
// TEXT encoding (SQLite) into a normalized time.
type timeColumn struct {
	dst *time.Time
}

func (c timeColumn) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*c.dst = domain.Timestamp(v)
		return nil
	case string:
		return c.parse(v)
	case []byte:
		return c.parse(string(v))
	case nil:
		*c.dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("unsupported time column type %T", src)
	}
}

func (c timeColumn) parse(s string) error {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse time column %q: %w", s, err)
		}
	}
	*c.dst = domain.Timestamp(t)
	return nil
}
