package sqlite

import (
	"fmt"
	"math"
	"reflect"

	"github.com/meridiandb/sqlite/sqliteh"
)

// bindingsKind classifies what a caller handed to Execute. Classified
// once, before the first statement runs, so a bad value fails before
// any statement does.
type bindingsKind int

const (
	bindNone bindingsKind = iota
	bindSequence
	bindMapping
)

// classifyBindings sorts a bindings value into one of:
//
//	nil                      -> bindNone
//	map with string keys     -> bindMapping
//	slice or array           -> bindSequence ([]byte is a scalar, not a sequence)
//	anything else            -> error
func classifyBindings(v any) (kind bindingsKind, seq []any, mapping map[string]any, err error) {
	if v == nil {
		return bindNone, nil, nil, nil
	}
	switch tv := v.(type) {
	case []any:
		return bindSequence, tv, nil, nil
	case map[string]any:
		return bindMapping, nil, tv, nil
	case []byte:
		return 0, nil, nil, &BindingsError{Kind: BindingsType, Value: v}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		seq = make([]any, rv.Len())
		for i := range seq {
			seq[i] = rv.Index(i).Interface()
		}
		return bindSequence, seq, nil, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return 0, nil, nil, &BindingsError{Kind: BindingsType, Value: v}
		}
		mapping = make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			mapping[iter.Key().String()] = iter.Value().Interface()
		}
		return bindMapping, nil, mapping, nil
	}
	return 0, nil, nil, &BindingsError{Kind: BindingsType, Value: v}
}

// bindValue binds one Go value to a 1-based parameter slot, mapping Go
// types onto the SQLite storage classes.
func bindValue(stmt sqliteh.Stmt, col int, v any) error {
	switch tv := v.(type) {
	case nil:
		return stmt.BindNull(col)
	case int:
		return stmt.BindInt64(col, int64(tv))
	case int8:
		return stmt.BindInt64(col, int64(tv))
	case int16:
		return stmt.BindInt64(col, int64(tv))
	case int32:
		return stmt.BindInt64(col, int64(tv))
	case int64:
		return stmt.BindInt64(col, tv)
	case uint:
		if uint64(tv) > math.MaxInt64 {
			return &BindingsError{Kind: BindingsType, Value: v}
		}
		return stmt.BindInt64(col, int64(tv))
	case uint8:
		return stmt.BindInt64(col, int64(tv))
	case uint16:
		return stmt.BindInt64(col, int64(tv))
	case uint32:
		return stmt.BindInt64(col, int64(tv))
	case uint64:
		if tv > math.MaxInt64 {
			return &BindingsError{Kind: BindingsType, Value: v}
		}
		return stmt.BindInt64(col, int64(tv))
	case bool:
		if tv {
			return stmt.BindInt64(col, 1)
		}
		return stmt.BindInt64(col, 0)
	case float32:
		return stmt.BindDouble(col, float64(tv))
	case float64:
		return stmt.BindDouble(col, tv)
	case string:
		return stmt.BindText64(col, tv)
	case []byte:
		return stmt.BindBlob64(col, tv)
	}
	return &BindingsError{Kind: BindingsType, Value: v}
}

// columnValue materializes one result column into a Go value.
// BLOB column memory is C-owned, so it is copied here.
func columnValue(stmt sqliteh.Stmt, col int) any {
	switch stmt.ColumnType(col) {
	case sqliteh.SQLITE_INTEGER:
		return stmt.ColumnInt64(col)
	case sqliteh.SQLITE_FLOAT:
		return stmt.ColumnDouble(col)
	case sqliteh.SQLITE_TEXT:
		return stmt.ColumnText(col)
	case sqliteh.SQLITE_BLOB:
		b := stmt.ColumnBlob(col)
		if b == nil {
			return []byte(nil)
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out
	default:
		return nil
	}
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
