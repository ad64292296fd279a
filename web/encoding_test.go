package web

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderState string

func (s orderState) VariantTag() string { return string(s) }

type order struct {
	ID        uuid.UUID       `json:"id"`
	PlacedAt  time.Time       `json:"placed_at"`
	ShipDate  Date            `json:"ship_date"`
	Total     decimal.Decimal `json:"total"`
	State     orderState      `json:"state"`
	Signature []byte          `json:"signature"`
	Tags      Set[string]     `json:"tags"`
	Note      string          `json:"note,omitempty"`
	internal  string
}

func TestEncoderRoundTrip(t *testing.T) {
	id := uuid.MustParse("0d5de1a1-9b18-46a2-92c6-4ea62908e1a2")
	placedAt := time.Date(2024, 6, 2, 12, 30, 45, 0, time.UTC)
	total := decimal.RequireFromString("19.990000000000000001")

	value := order{
		ID:        id,
		PlacedAt:  placedAt,
		ShipDate:  NewDate(2024, time.June, 5),
		Total:     total,
		State:     orderState("shipped"),
		Signature: []byte{0xde, 0xad, 0xbe, 0xef},
		Tags:      NewSet("b", "a"),
		internal:  "hidden",
	}

	data, err := NewEncoder().Marshal(value)
	require.NoError(t, err)

	var parsed map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&parsed))

	assert.Equal(t, id.String(), parsed["id"])

	parsedTime, err := time.Parse(time.RFC3339Nano, parsed["placed_at"].(string))
	require.NoError(t, err)
	assert.True(t, parsedTime.Equal(placedAt))

	parsedDate, err := ParseDate(parsed["ship_date"].(string))
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, time.June, 5), parsedDate)

	// Lossless decimal representation: the raw numeric text survives.
	assert.Equal(t, total.String(), parsed["total"].(json.Number).String())

	assert.Equal(t, "shipped", parsed["state"])

	sig, err := base64.StdEncoding.DecodeString(parsed["signature"].(string))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sig)

	assert.Equal(t, []interface{}{"a", "b"}, parsed["tags"])

	// omitempty and unexported fields never appear.
	assert.NotContains(t, parsed, "note")
	assert.NotContains(t, parsed, "internal")
}

func TestEncoderNestedStructures(t *testing.T) {
	type inner struct {
		When time.Time `json:"when"`
	}
	type outer struct {
		Items []inner          `json:"items"`
		Index map[string]inner `json:"index"`
	}

	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	generic, err := NewEncoder().Encode(outer{
		Items: []inner{{When: when}},
		Index: map[string]inner{"first": {When: when}},
	})
	require.NoError(t, err)

	doc := generic.(map[string]interface{})
	items := doc["items"].([]interface{})
	assert.Equal(t, when.Format(time.RFC3339Nano), items[0].(map[string]interface{})["when"])
	index := doc["index"].(map[string]interface{})
	assert.Equal(t, when.Format(time.RFC3339Nano), index["first"].(map[string]interface{})["when"])
}

func TestEncoderNilAndPointers(t *testing.T) {
	enc := NewEncoder()

	generic, err := enc.Encode(nil)
	require.NoError(t, err)
	assert.Nil(t, generic)

	var missing *order
	generic, err = enc.Encode(missing)
	require.NoError(t, err)
	assert.Nil(t, generic)

	d := NewDate(2024, time.March, 1)
	generic, err = enc.Encode(&d)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", generic)
}

func TestEncoderCustomMappingExtendsBuiltins(t *testing.T) {
	type temperature float64

	enc := NewEncoder()
	enc.Extend(map[reflect.Type]EncoderFunc{
		reflect.TypeOf(temperature(0)): func(v interface{}) (interface{}, error) {
			return map[string]interface{}{"celsius": float64(v.(temperature))}, nil
		},
	})

	generic, err := enc.Encode(temperature(21.5))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"celsius": 21.5}, generic)

	// Built-ins remain active for other types.
	generic, err = enc.Encode(NewDate(2024, time.May, 9))
	require.NoError(t, err)
	assert.Equal(t, "2024-05-09", generic)
}

func TestDateParsingRejectsGarbage(t *testing.T) {
	_, err := ParseDate("05/09/2024")
	assert.Error(t, err)
}

func TestSetOperations(t *testing.T) {
	s := NewSet(3, 1)
	s.Add(2)
	assert.True(t, s.Contains(1))
	assert.False(t, s.Contains(9))

	generic, err := NewEncoder().Encode(s)
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{json.Number("1"), json.Number("2"), json.Number("3")}, generic)
}
