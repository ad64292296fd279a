package web

import (
	"reflect"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

func TestStripFieldsRemovesKeysAtAnyDepth(t *testing.T) {
	doc := map[string]interface{}{
		"secret": "top",
		"layers": []interface{}{
			map[string]interface{}{
				"secret": "mid",
				"inner": map[string]interface{}{
					"secret": "deep",
					"keep":   true,
				},
			},
		},
	}

	out := stripFields(doc, []string{"secret"}).(map[string]interface{})

	assert.NotContains(t, out, "secret")
	layer := out["layers"].([]interface{})[0].(map[string]interface{})
	assert.NotContains(t, layer, "secret")
	inner := layer["inner"].(map[string]interface{})
	assert.NotContains(t, inner, "secret")
	assert.Equal(t, true, inner["keep"])
}

func TestStripFieldsOnlyDeletesExactMatches(t *testing.T) {
	doc := map[string]interface{}{
		"password_hash":    "x",
		"password_hashish": "keepme",
	}

	out := stripFields(doc, []string{"password_hash"}).(map[string]interface{})
	assert.NotContains(t, out, "password_hash")
	assert.Equal(t, "keepme", out["password_hashish"])
}

func TestConformRejectsIncompatibleScalars(t *testing.T) {
	type view struct {
		ID int `json:"id"`
	}
	p := &egressProcessor{validate: validator.New(), encoder: NewEncoder()}
	rd := &RouteDescriptor{EgressType: reflect.TypeOf(view{})}

	_, err := p.process(rd, "just a string")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindEgressValidation))
}

func TestConformValidatesEgressTags(t *testing.T) {
	type view struct {
		Name string `json:"name" validate:"required"`
	}
	p := &egressProcessor{validate: validator.New(), encoder: NewEncoder()}
	rd := &RouteDescriptor{EgressType: reflect.TypeOf(view{})}

	_, err := p.process(rd, view{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindEgressValidation))

	out, err := p.process(rd, view{Name: "ok"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"name": "ok"}, out)
}
