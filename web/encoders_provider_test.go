package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	"github.com/DavidLandup0/mitsuki/container"
)

type money struct {
	cents int64
}

type moneyController struct{}

func (c *moneyController) Price() money { return money{cents: 1299} }

func TestReservedEncoderProviderExtendsBuiltins(t *testing.T) {
	store, err := config.NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	reg := container.NewRegistry().
		Register(container.NewDescriptor("MoneyController").
			Kind(container.KindController).
			Factory(func() *moneyController { return &moneyController{} }).
			Attach(AttachmentKey, Controller("/api").
				Route(GET("/price").Handler("Price")))).
		Register(container.NewDescriptor(EncodersProviderName).
			Factory(func() map[reflect.Type]EncoderFunc {
				return map[reflect.Type]EncoderFunc{
					reflect.TypeOf(money{}): func(v interface{}) (interface{}, error) {
						m := v.(money)
						return fmt.Sprintf("$%d.%02d", m.cents/100, m.cents%100), nil
					},
				}
			}))

	c, err := container.Resolve(context.Background(), reg, store, zap.NewNop())
	require.NoError(t, err)

	p, err := NewPipeline(c, zap.NewNop())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/price", nil)
	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"$12.99"`, rec.Body.String())
}

func TestReservedEncoderProviderWrongTypeFails(t *testing.T) {
	store, err := config.NewLoader(t.TempDir()).Load()
	require.NoError(t, err)

	reg := container.NewRegistry().
		Register(container.NewDescriptor(EncodersProviderName).
			Factory(func() string { return "not a mapping" }))

	c, err := container.Resolve(context.Background(), reg, store, zap.NewNop())
	require.NoError(t, err)

	_, err = NewPipeline(c, zap.NewNop())
	require.Error(t, err)
}
