// Package validation implements the table-creation validator (C1): it
// consumes the raw (option, value) argument list a create_table call is
// built from and normalizes it into a canonical *models.Table, or fails
// with a typed, field-attributed error. Validation never touches the
// catalog or the backend beyond the narrow Exists check for name
// uniqueness.
package validation

import (
	"unicode"

	enterdberrors "github.com/shardkv/enterdb/internal/errors"
	"github.com/shardkv/enterdb/pkg/models"
)

// MaxNameLen bounds a table name's length (spec.md §3).
const MaxNameLen = 255

// MaxKeyLen bounds the number of fields in a table's key.
const MaxKeyLen = 100

// MaxColumnsLen bounds the number of fields in a table's columns list.
const MaxColumnsLen = 10000

// TableExistenceChecker is the narrow dependency the validator needs from
// the catalog: whether a table name is already registered. Kept separate
// from the full Catalog interface so this package never depends on more
// than it uses.
type TableExistenceChecker interface {
	Exists(name string) (bool, error)
}

// VerifyCreateTableArgs validates args and produces the canonical table
// descriptor. catalog may be nil, in which case the name-uniqueness check
// is skipped (useful for pure unit tests of the remaining rules).
func VerifyCreateTableArgs(args []models.Option, catalog TableExistenceChecker, numLocalShardsDefault int) (*models.Table, error) {
	raw := make(map[string]any, len(args))
	for _, a := range args {
		raw[a.Name] = a.Value
	}

	name, err := verifyName(raw, catalog)
	if err != nil {
		return nil, err
	}

	key, err := verifyKey(raw)
	if err != nil {
		return nil, err
	}

	columns, err := verifyColumns(raw)
	if err != nil {
		return nil, err
	}

	indexes, err := verifyIndexes(raw, key)
	if err != nil {
		return nil, err
	}

	opts, err := verifyOptions(raw, numLocalShardsDefault)
	if err != nil {
		return nil, err
	}

	columns = subtract(columns, key)
	columns = addIndexFieldsToColumns(columns, indexes)

	return &models.Table{
		Name:        name,
		Key:         key,
		Columns:     columns,
		Indexes:     indexes,
		Options:     opts,
		Distributed: opts.Distributed,
	}, nil
}

func verifyName(raw map[string]any, catalog TableExistenceChecker) (string, error) {
	v, ok := raw["name"]
	if !ok {
		return "", enterdberrors.New(enterdberrors.KindInvalidArgument, "no_name", "name is required")
	}
	name, ok := v.(string)
	if !ok || name == "" {
		return "", enterdberrors.New(enterdberrors.KindInvalidArgument, "not_printable", "name must be a non-empty string").WithField("name")
	}
	if len(name) > MaxNameLen {
		return "", enterdberrors.New(enterdberrors.KindInvalidArgument, "too_long_name", "name exceeds maximum length").WithField(name)
	}
	if !isPrintable(name) {
		return "", enterdberrors.New(enterdberrors.KindInvalidArgument, "non_unicode_name", "name contains non-printable characters").WithField(name)
	}
	if catalog != nil {
		exists, err := catalog.Exists(name)
		if err != nil {
			return "", enterdberrors.Wrap(err, enterdberrors.KindTransient, "catalog_check_failed", "failed to check table existence").WithField(name)
		}
		if exists {
			return "", enterdberrors.ErrTableExists(name)
		}
	}
	return name, nil
}

func verifyKey(raw map[string]any) ([]string, error) {
	key, err := stringList(raw["key"])
	if err != nil {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "invalid_key", "key must be a list of strings").WithField("key")
	}
	if len(key) == 0 {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "no_key_field", "key must not be empty").WithField("key")
	}
	if len(key) > MaxKeyLen {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "key_too_long", "key exceeds maximum length").WithField("key")
	}
	if err := verifyUniquePrintable(key, "key", "duplicate_key"); err != nil {
		return nil, err
	}
	return key, nil
}

func verifyColumns(raw map[string]any) ([]string, error) {
	columns, err := stringList(raw["columns"])
	if err != nil {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "not_printable", "columns must be a list of strings").WithField("columns")
	}
	if len(columns) == 0 {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "no_columns", "columns must not be empty").WithField("columns")
	}
	if len(columns) > MaxColumnsLen {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "columns_too_long", "columns exceeds maximum length").WithField("columns")
	}
	if err := verifyUniquePrintable(columns, "columns", "duplicate_column"); err != nil {
		return nil, err
	}
	return columns, nil
}

func verifyIndexes(raw map[string]any, key []string) ([]string, error) {
	v, ok := raw["indexes"]
	if !ok || v == nil {
		return nil, nil
	}
	indexes, err := stringList(v)
	if err != nil {
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "not_printable", "indexes must be a list of strings").WithField("indexes")
	}
	if err := verifyUniquePrintable(indexes, "indexes", "duplicate_index"); err != nil {
		return nil, err
	}
	// The concatenation indexes ++ key must also contain no duplicates.
	combined := append(append([]string{}, indexes...), key...)
	if err := verifyUniquePrintable(combined, "indexes", "duplicate_index"); err != nil {
		return nil, err
	}
	return indexes, nil
}

func verifyOptions(raw map[string]any, numLocalShardsDefault int) (models.Options, error) {
	opts := models.Options{
		Shards:            numLocalShardsDefault,
		Distributed:       true,
		ReplicationFactor: 1,
		Type:              models.ShardTypeOrdered,
		DataModel:         models.DataModelBinary,
		Comparator:        models.ComparatorAscending,
	}

	for name, value := range raw {
		switch name {
		case "name", "key", "columns", "indexes":
			// handled separately
		case "shards":
			n, ok := asInt(value)
			if !ok || n <= 0 {
				return opts, invalidOption(name, value)
			}
			opts.Shards = n
		case "distributed":
			b, ok := value.(bool)
			if !ok {
				return opts, invalidOption(name, value)
			}
			opts.Distributed = b
		case "replication_factor":
			n, ok := asInt(value)
			if !ok || n <= 0 {
				return opts, invalidOption(name, value)
			}
			opts.ReplicationFactor = n
		case "type":
			s, ok := value.(string)
			if !ok {
				return opts, invalidOption(name, value)
			}
			t := models.NormalizeShardType(s)
			if t != models.ShardTypeOrdered && t != models.ShardTypeOrderedWrapped {
				return opts, invalidOption(name, value)
			}
			opts.Type = t
		case "data_model":
			s, ok := value.(string)
			if !ok {
				return opts, invalidOption(name, value)
			}
			switch models.DataModel(s) {
			case models.DataModelBinary, models.DataModelArray, models.DataModelHash:
				opts.DataModel = models.DataModel(s)
			default:
				return opts, invalidOption(name, value)
			}
		case "comparator":
			s, ok := value.(string)
			if !ok {
				return opts, invalidOption(name, value)
			}
			switch models.Comparator(s) {
			case models.ComparatorAscending, models.ComparatorDescending:
				opts.Comparator = models.Comparator(s)
			default:
				return opts, invalidOption(name, value)
			}
		case "time_series":
			b, ok := value.(bool)
			if !ok {
				return opts, invalidOption(name, value)
			}
			opts.TimeSeries = b
		case "wrapper":
			w, err := verifyWrapper(value)
			if err != nil {
				return opts, err
			}
			opts.Wrapper = w
		default:
			return opts, invalidOption(name, value)
		}
	}

	if opts.Type == models.ShardTypeOrderedWrapped && opts.Wrapper == nil {
		return opts, invalidOption("wrapper", nil)
	}
	return opts, nil
}

func verifyWrapper(value any) (*models.Wrapper, error) {
	m, ok := value.(map[string]any)
	if !ok {
		return nil, invalidOption("wrapper", value)
	}
	w := &models.Wrapper{}
	n, ok := asInt(m["num_of_buckets"])
	if !ok || n < 3 {
		return nil, invalidOption("wrapper.num_of_buckets", m["num_of_buckets"])
	}
	w.NumOfBuckets = n

	if tm, ok := m["time_margin"].(map[string]any); ok {
		unit, _ := tm["unit"].(string)
		val, okVal := asInt(tm["value"])
		if !okVal || val <= 0 {
			return nil, invalidOption("wrapper.time_margin", tm)
		}
		switch models.TimeUnit(unit) {
		case models.TimeUnitSeconds, models.TimeUnitMinutes, models.TimeUnitHours:
		default:
			return nil, invalidOption("wrapper.time_margin", tm)
		}
		w.Time = &models.TimeMargin{Unit: models.TimeUnit(unit), Value: val}
	}
	if sm, ok := m["size_margin"].(map[string]any); ok {
		mb, okVal := asInt(sm["megabytes"])
		if !okVal || mb <= 0 {
			return nil, invalidOption("wrapper.size_margin", sm)
		}
		w.Size = &models.SizeMargin{Megabytes: mb}
	}
	if w.Time == nil && w.Size == nil {
		return nil, invalidOption("wrapper", value)
	}
	return w, nil
}

func invalidOption(name string, value any) error {
	return enterdberrors.New(enterdberrors.KindInvalidArgument, "invalid_option", "unrecognized or malformed option").WithField(name)
}

// addIndexFieldsToColumns appends index fields to columns when not already
// present. The source's add_index_fields_to_columns contains a typo
// (`fasle` for `false`) that suppresses this append entirely; per the
// docstring and Open Question (a) we implement the intended behavior.
func addIndexFieldsToColumns(columns, indexes []string) []string {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	out := columns
	for _, idx := range indexes {
		if !seen[idx] {
			out = append(out, idx)
			seen[idx] = true
		}
	}
	return out
}

// subtract returns a \ b (set subtraction), preserving a's order.
func subtract(a, b []string) []string {
	exclude := make(map[string]bool, len(b))
	for _, x := range b {
		exclude[x] = true
	}
	out := make([]string, 0, len(a))
	for _, x := range a {
		if !exclude[x] {
			out = append(out, x)
		}
	}
	return out
}

func verifyUniquePrintable(items []string, field, duplicateReason string) error {
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		if !isPrintable(s) {
			return enterdberrors.New(enterdberrors.KindInvalidArgument, "not_printable", "element is not printable").WithField(field)
		}
		if seen[s] {
			return enterdberrors.New(enterdberrors.KindInvalidArgument, duplicateReason, "duplicate element").WithField(s)
		}
		seen[s] = true
	}
	return nil
}

func isPrintable(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

func stringList(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	switch vv := v.(type) {
	case []string:
		return vv, nil
	case []any:
		out := make([]string, len(vv))
		for i, e := range vv {
			s, ok := e.(string)
			if !ok {
				return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "not_printable", "element is not a string")
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, enterdberrors.New(enterdberrors.KindInvalidArgument, "not_printable", "expected a list of strings")
	}
}

func asInt(v any) (int, bool) {
	switch vv := v.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case float64:
		return int(vv), true
	default:
		return 0, false
	}
}
