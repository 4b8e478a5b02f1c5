package session

import (
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/icydb/pkg/errors"
	"github.com/bobboyms/icydb/pkg/schema"
	"github.com/bobboyms/icydb/pkg/types"
)

// applyPatch aplica um documento de patch (Extended JSON) campo a campo
// na linha. Campos do documento têm de existir no schema; null explícito
// vira Null (campo nullable), valor vira o kind declarado.
func applyPatch(m *schema.EntityModel, row schema.Row, patchJSON string) error {
	var doc bson.D
	// true = Canonical (estrito), false = Relaxed
	if err := bson.UnmarshalExtJSON([]byte(patchJSON), true, &doc); err != nil {
		return errors.Invalid("session", "patch document does not parse: %v", err)
	}

	for _, elem := range doc {
		f, ok := m.Field(elem.Key)
		if !ok {
			return errors.Invalid("session", "patch touches unknown field %q of %s", elem.Key, m.Name)
		}
		v, err := patchValue(f, elem.Value)
		if err != nil {
			return err
		}
		if err := row.Set(elem.Key, v); err != nil {
			return errors.Invalid("session", "patch rejected on field %q: %v", elem.Key, err)
		}
	}
	return nil
}

// patchValue converte um valor bson para o kind declarado do campo.
func patchValue(f *schema.FieldDef, raw any) (types.Value, error) {
	if raw == nil {
		if !f.Nullable {
			return types.Value{}, errors.Invalid("session", "patch sets null on non-nullable field %q", f.Name)
		}
		return types.Null(), nil
	}

	switch f.Kind {
	case types.KindText:
		if s, ok := raw.(string); ok {
			return types.Text(s), nil
		}
	case types.KindBool:
		if b, ok := raw.(bool); ok {
			return types.Bool(b), nil
		}
	case types.KindInt:
		if i, ok := asInt64(raw); ok {
			return types.Int(i), nil
		}
	case types.KindUint:
		if i, ok := asInt64(raw); ok && i >= 0 {
			return types.Uint(uint64(i)), nil
		}
	case types.KindE8s:
		if i, ok := asInt64(raw); ok && i >= 0 {
			return types.E8s(uint64(i)), nil
		}
	case types.KindE18s:
		if i, ok := asInt64(raw); ok && i >= 0 {
			return types.E18s(uint64(i)), nil
		}
	case types.KindFloat64:
		if fv, ok := raw.(float64); ok {
			return types.Float64(fv)
		}
	case types.KindFloat32:
		if fv, ok := raw.(float64); ok {
			return types.Float32(float32(fv))
		}
	case types.KindDecimal:
		if s, ok := raw.(string); ok {
			return types.DecFromString(s)
		}
	case types.KindTimestamp:
		switch t := raw.(type) {
		case bson.DateTime:
			return types.Timestamp(t.Time()), nil
		case int64:
			return types.TimestampFromNanos(t), nil
		}
	case types.KindDate:
		switch t := raw.(type) {
		case bson.DateTime:
			return types.Date(t.Time()), nil
		case int64:
			return types.DateFromDays(t), nil
		}
	case types.KindDuration:
		if i, ok := asInt64(raw); ok {
			return types.Duration(time.Duration(i)), nil
		}
	case types.KindUlid:
		if s, ok := raw.(string); ok {
			id, err := ulid.Parse(s)
			if err != nil {
				return types.Value{}, errors.Invalid("session", "patch field %q: bad ulid %q", f.Name, s)
			}
			return types.Ulid(id), nil
		}
	case types.KindEnum:
		if s, ok := raw.(string); ok {
			return types.EnumOf(s), nil
		}
	case types.KindBlob, types.KindPrincipal, types.KindAccount:
		switch b := raw.(type) {
		case bson.Binary:
			return bytesValue(f.Kind, b.Data), nil
		case string:
			decoded, err := hex.DecodeString(b)
			if err != nil {
				return types.Value{}, errors.Invalid("session", "patch field %q: bytes must be hex", f.Name)
			}
			return bytesValue(f.Kind, decoded), nil
		}
	}

	return types.Value{}, errors.Invalid("session", "patch field %q: cannot convert %T to %s",
		f.Name, raw, f.Kind)
}

func bytesValue(k types.Kind, b []byte) types.Value {
	switch k {
	case types.KindPrincipal:
		return types.Principal(b)
	case types.KindAccount:
		return types.Account(b)
	default:
		return types.Blob(b)
	}
}

func asInt64(raw any) (int64, bool) {
	switch n := raw.(type) {
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
