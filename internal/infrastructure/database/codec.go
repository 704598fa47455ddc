package database

import (
	"fmt"
	"strings"
	"time"
)

// sqliteTimestampLayout is the layout go-sqlite3 uses when writing time.Time
// values, so decoded timestamps read back the way they were stored.
const sqliteTimestampLayout = "2006-01-02 15:04:05.999999999-07:00"

const sqliteDateLayout = "2006-01-02"

// Declared column types go-sqlite3 converts before a value reaches the codec.
// Text in a date column becomes time.Time (the zero time when unparseable),
// an integer becomes time.Unix, and an integer in a BOOLEAN column becomes
// val > 0.
const (
	declDate      = "DATE"
	declDatetime  = "DATETIME"
	declTimestamp = "TIMESTAMP"
	declBoolean   = "BOOLEAN"
)

// DecodeColumn converts a value read from a column declared as declType.
//
// Date columns decode as text in UTC: DATE values at midnight as
// 2006-01-02, everything else in sqliteTimestampLayout. A date the driver
// could not parse fails with *UnsupportedDatatypeError instead of reading
// back as the zero time. BOOLEAN columns decode as the integer 1 or 0.
func DecodeColumn(declType string, raw any) (Value, error) {
	switch v := raw.(type) {
	case time.Time:
		if v.IsZero() {
			return Value{}, &UnsupportedDatatypeError{Type: unparseableType(declType)}
		}
		v = v.UTC()
		if strings.EqualFold(declType, declDate) && v.Equal(v.Truncate(24*time.Hour)) {
			return Text(v.Format(sqliteDateLayout)), nil
		}
		return Text(v.Format(sqliteTimestampLayout)), nil
	case bool:
		if strings.EqualFold(declType, declBoolean) {
			if v {
				return Int(1), nil
			}
			return Int(0), nil
		}
	}
	return Decode(raw)
}

func unparseableType(declType string) string {
	switch strings.ToUpper(declType) {
	case declDate, declDatetime, declTimestamp:
		return "unparseable " + strings.ToUpper(declType)
	}
	return "zero time.Time"
}

// Decode converts a raw driver column value into a Value without regard to
// the column's declared type. Pool results go through DecodeColumn.
//
// Accepted: nil, bool, integers up to 64 bits, float32/64, string, []byte and
// non-zero time.Time. Any other type fails with an *UnsupportedDatatypeError.
func Decode(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case int64:
		return Int(v), nil
	case int:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case float64:
		return Float(v), nil
	case float32:
		return Float(float64(v)), nil
	case string:
		return Text(v), nil
	case []byte:
		// The driver reuses its buffer between rows.
		return Blob(append([]byte(nil), v...)), nil
	case time.Time:
		if v.IsZero() {
			return Value{}, &UnsupportedDatatypeError{Type: unparseableType("")}
		}
		return Text(v.UTC().Format(sqliteTimestampLayout)), nil
	default:
		return Value{}, &UnsupportedDatatypeError{Type: fmt.Sprintf("%T", raw)}
	}
}

// Encode converts a Value into a driver parameter using the compatible
// binding: every number binds as float64, so integers beyond 2^53 lose
// precision on the way in. Raw JSON binds as its text.
func Encode(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return float64(v.i)
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBlob:
		return v.raw
	case KindRaw:
		return string(v.raw)
	}
	return nil
}

// EncodeExact is Encode with integers bound as int64.
func EncodeExact(v Value) any {
	if v.kind == KindInt {
		return v.i
	}
	return Encode(v)
}

// encodeParams binds params positionally with enc.
func encodeParams(params []Value, enc func(Value) any) []any {
	if len(params) == 0 {
		return nil
	}
	args := make([]any, len(params))
	for i, p := range params {
		args[i] = enc(p)
	}
	return args
}
