package postgres

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
)

// limitArg maps a non-positive limit to NULL, which Postgres reads as
// "no limit".
func limitArg(limit int) interface{} {
	if limit <= 0 {
		return nil
	}
	return limit
}

// jsonArg encodes v for a JSONB column; a nil pointer becomes NULL.
func jsonArg(v interface{}, isNil bool) (interface{}, error) {
	if isNil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func decodeJSON(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
