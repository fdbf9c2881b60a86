package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Value implements driver.Valuer for NullDecimal.
func (n NullDecimal) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return n.Decimal.Value()
}

// Scan implements sql.Scanner for NullDecimal.
func (n *NullDecimal) Scan(src any) error {
	if src == nil {
		n.Valid = false
		n.Decimal = decimal.Decimal{}
		return nil
	}
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return fmt.Errorf("store: scan NullDecimal: %w", err)
	}
	n.Decimal = d
	n.Valid = true
	return nil
}

// NewNullDecimal wraps d as a present NullDecimal. A nil d yields an absent
// value, matching the nullability every navigation timing field has when a
// phase is unmeasurable (spec.md §3).
func NewNullDecimal(d *decimal.Decimal) NullDecimal {
	if d == nil {
		return NullDecimal{}
	}
	return NullDecimal{Decimal: *d, Valid: true}
}

// Value implements driver.Valuer for JSONIntMap, persisting it as a JSONB
// column (the "JSONB dual storage" pattern in SPEC_FULL.md §4.5).
func (m JSONIntMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]int(m))
}

// Scan implements sql.Scanner for JSONIntMap.
func (m *JSONIntMap) Scan(src any) error {
	if src == nil {
		*m = JSONIntMap{}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("store: cannot scan %T into JSONIntMap", src)
	}

	out := map[string]int{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("store: scan JSONIntMap: %w", err)
		}
	}
	*m = out
	return nil
}
