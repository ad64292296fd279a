package web

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EncoderFunc converts one value into a JSON-ready generic representation
// (string, json.Number, bool, nil, []interface{}, map[string]interface{}).
type EncoderFunc func(v interface{}) (interface{}, error)

// EncodersProviderName is the reserved provider name users register to
// extend the built-in type encoders. The provider must produce
// map[reflect.Type]EncoderFunc; the mappings extend, not replace, the
// built-in set.
const EncodersProviderName = "mitsuki.jsonEncoders"

// Variant is the tag surface of a sum-type value: variants encode as their
// tag.
type Variant interface {
	VariantTag() string
}

// Date is a wall date with no time-of-day component. It encodes as
// ISO-8601 (yyyy-mm-dd).
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate creates a wall date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// DateOf truncates an instant to its wall date.
func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// ParseDate parses yyyy-mm-dd.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Set is an unordered collection that encodes as a sorted sequence.
type Set[T comparable] map[T]struct{}

// NewSet builds a set from its elements.
func NewSet[T comparable](items ...T) Set[T] {
	s := make(Set[T], len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// Add inserts an element.
func (s Set[T]) Add(item T) { s[item] = struct{}{} }

// Contains reports membership.
func (s Set[T]) Contains(item T) bool {
	_, ok := s[item]
	return ok
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	dateType    = reflect.TypeOf(Date{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	variantType = reflect.TypeOf((*Variant)(nil)).Elem()
)

// Encoder converts handler return values into transport-serializable
// generic documents. The built-in set covers instants, wall dates, UUIDs,
// arbitrary-precision decimals, variant tags, records, byte arrays, and
// set values; user-registered encoders extend it.
type Encoder struct {
	custom map[reflect.Type]EncoderFunc
}

// NewEncoder creates an encoder with the built-in mappings only.
func NewEncoder() *Encoder {
	return &Encoder{custom: make(map[reflect.Type]EncoderFunc)}
}

// Extend registers additional type→encoder mappings. Built-ins stay in
// effect for types not present in the extension set.
func (e *Encoder) Extend(mappings map[reflect.Type]EncoderFunc) {
	for t, fn := range mappings {
		e.custom[t] = fn
	}
}

// Encode converts v into its generic JSON representation.
func (e *Encoder) Encode(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	return e.encodeValue(reflect.ValueOf(v))
}

// Marshal converts v and serializes it to JSON bytes.
func (e *Encoder) Marshal(v interface{}) ([]byte, error) {
	generic, err := e.Encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func (e *Encoder) encodeValue(v reflect.Value) (interface{}, error) {
	if !v.IsValid() {
		return nil, nil
	}

	t := v.Type()

	if fn, ok := e.custom[t]; ok {
		return fn(v.Interface())
	}

	switch t {
	case timeType:
		return v.Interface().(time.Time).Format(time.RFC3339Nano), nil
	case dateType:
		return v.Interface().(Date).String(), nil
	case uuidType:
		return v.Interface().(uuid.UUID).String(), nil
	case decimalType:
		// Lossless numeric representation.
		return json.Number(v.Interface().(decimal.Decimal).String()), nil
	}

	if t.Implements(variantType) {
		return v.Interface().(Variant).VariantTag(), nil
	}

	switch v.Kind() {
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return e.encodeValue(v.Elem())

	case reflect.Struct:
		return e.encodeStruct(v)

	case reflect.Map:
		return e.encodeMap(v)

	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
			return base64.StdEncoding.EncodeToString(v.Bytes()), nil
		}
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			item, err := e.encodeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = item
		}
		return out, nil

	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(fmt.Sprintf("%d", v.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return json.Number(fmt.Sprintf("%d", v.Uint())), nil
	case reflect.Float32, reflect.Float64:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, err
		}
		return json.Number(string(data)), nil
	}

	return nil, fmt.Errorf("cannot encode value of type %s", t)
}

// encodeStruct expands a record into a map honoring json tags.
func (e *Encoder) encodeStruct(v reflect.Value) (interface{}, error) {
	t := v.Type()
	out := make(map[string]interface{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		name := field.Name
		omitempty := false
		if tag, ok := field.Tag.Lookup("json"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" && len(parts) == 1 {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, p := range parts[1:] {
				if p == "omitempty" {
					omitempty = true
				}
			}
		}

		fv := v.Field(i)
		if omitempty && fv.IsZero() {
			continue
		}

		if field.Anonymous && fv.Kind() == reflect.Struct && field.Tag.Get("json") == "" {
			embedded, err := e.encodeStruct(fv)
			if err != nil {
				return nil, err
			}
			for k, val := range embedded.(map[string]interface{}) {
				out[k] = val
			}
			continue
		}

		encoded, err := e.encodeValue(fv)
		if err != nil {
			return nil, err
		}
		out[name] = encoded
	}
	return out, nil
}

// encodeMap expands a mapping. Set-shaped maps (struct{} values) encode as
// sorted sequences; other maps keep string-converted keys.
func (e *Encoder) encodeMap(v reflect.Value) (interface{}, error) {
	t := v.Type()

	if t.Elem() == reflect.TypeOf(struct{}{}) {
		items := make([]interface{}, 0, v.Len())
		for _, key := range v.MapKeys() {
			encoded, err := e.encodeValue(key)
			if err != nil {
				return nil, err
			}
			items = append(items, encoded)
		}
		sort.Slice(items, func(i, j int) bool {
			return fmt.Sprint(items[i]) < fmt.Sprint(items[j])
		})
		return items, nil
	}

	out := make(map[string]interface{}, v.Len())
	for _, key := range v.MapKeys() {
		var name string
		if key.Kind() == reflect.String {
			name = key.String()
		} else {
			name = fmt.Sprint(key.Interface())
		}
		encoded, err := e.encodeValue(v.MapIndex(key))
		if err != nil {
			return nil, err
		}
		out[name] = encoded
	}
	return out, nil
}
