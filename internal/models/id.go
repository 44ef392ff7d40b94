package models

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// ErrInvalidID is returned when a value cannot be coerced to an ID.
var ErrInvalidID = errors.New("invalid id")

// ID is a numeric identifier as clients send it on the wire: a JSON integer,
// a JSON float (truncated toward zero) or a string holding an integer.
type ID int64

func (id ID) Int64() int64 {
	return int64(id)
}

func (id ID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrInvalidID
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		v, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = v
		return nil

	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			*id = ID(v)
			return nil
		}
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidID, data)
		}
		v, err := idFromFloat(f)
		if err != nil {
			return err
		}
		*id = v
		return nil
	}

	return fmt.Errorf("%w: unsupported json value %q", ErrInvalidID, data)
}

// ParseID parses the string form of an ID. Surrounding whitespace is ignored.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(v), nil
}

func idFromFloat(f float64) (ID, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v out of range", ErrInvalidID, f)
	}
	return ID(math.Trunc(f)), nil
}
