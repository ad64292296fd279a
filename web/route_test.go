package web

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DavidLandup0/mitsuki/config"
	"github.com/DavidLandup0/mitsuki/container"
	pkgerrors "github.com/DavidLandup0/mitsuki/pkg/errors"
)

type catalogController struct{}

func (c *catalogController) List() []string                         { return []string{"a"} }
func (c *catalogController) Get(id int) map[string]interface{}      { return map[string]interface{}{"id": id} }
func (c *catalogController) Search(q string) map[string]interface{} { return map[string]interface{}{"q": q} }

func containerWith(t *testing.T, descriptors ...*container.Descriptor) *container.Container {
	t.Helper()
	store, err := config.NewLoader(t.TempDir()).Load()
	require.NoError(t, err)
	reg := container.NewRegistry()
	for _, d := range descriptors {
		reg.Register(d)
	}
	c, err := container.Resolve(context.Background(), reg, store, zap.NewNop())
	require.NoError(t, err)
	return c
}

func controllerDescriptor(name string, spec *ControllerSpec) *container.Descriptor {
	return container.NewDescriptor(name).
		Kind(container.KindController).
		Factory(func() *catalogController { return &catalogController{} }).
		Attach(AttachmentKey, spec)
}

func TestBuildRoutesMaterializesTable(t *testing.T) {
	spec := Controller("/api/catalog").
		Route(GET("").Handler("List")).
		Route(GET("/{id}").Handler("Get").Path("id"))

	c := containerWith(t, controllerDescriptor("Catalog", spec))
	routes, err := BuildRoutes(c, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, routes, 2)

	// Literal patterns sort before parameterized ones.
	assert.Equal(t, "/api/catalog", routes[0].PathPattern)
	assert.Equal(t, "/api/catalog/{id}", routes[1].PathPattern)
	assert.Equal(t, http.MethodGet, routes[1].Method)
	assert.Equal(t, "Catalog", routes[1].ComponentName)
	require.Len(t, routes[1].Params, 1)
	assert.Equal(t, BindPath, routes[1].Params[0].Kind)
	assert.Equal(t, "int", routes[1].Params[0].Target.String())
}

func TestConflictingRoutesFail(t *testing.T) {
	specA := Controller("/api/catalog").Route(GET("/{id}").Handler("Get").Path("id"))
	specB := Controller("/api/catalog").Route(GET("/{id}").Handler("Get").Path("id"))

	c := containerWith(t,
		controllerDescriptor("CatalogA", specA),
		controllerDescriptor("CatalogB", specB),
	)
	_, err := BuildRoutes(c, zap.NewNop())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindRouteConflict))
}

func TestPlaceholderWithoutBindingFails(t *testing.T) {
	spec := Controller("/api/catalog").Route(GET("/{id}").Handler("List"))

	c := containerWith(t, controllerDescriptor("Catalog", spec))
	_, err := BuildRoutes(c, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{id}")
}

func TestBindingWithoutPlaceholderFails(t *testing.T) {
	spec := Controller("/api/catalog").Route(GET("/all").Handler("Get").Path("id"))

	c := containerWith(t, controllerDescriptor("Catalog", spec))
	_, err := BuildRoutes(c, zap.NewNop())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsKind(err, pkgerrors.KindRouteConflict))
}

func TestRepeatedPlaceholderFails(t *testing.T) {
	spec := Controller("/api").Route(GET("/{id}/sub/{id}").Handler("Get").Path("id"))

	c := containerWith(t, controllerDescriptor("Catalog", spec))
	_, err := BuildRoutes(c, zap.NewNop())
	require.Error(t, err)
}

func TestUnknownHandlerMethodFails(t *testing.T) {
	spec := Controller("/api").Route(GET("/x").Handler("Nope"))

	c := containerWith(t, controllerDescriptor("Catalog", spec))
	_, err := BuildRoutes(c, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope")
}

func TestParameterCountMismatchFails(t *testing.T) {
	spec := Controller("/api").Route(GET("/x").Handler("Get"))

	c := containerWith(t, controllerDescriptor("Catalog", spec))
	_, err := BuildRoutes(c, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parameters")
}

func TestOpenAPIViewRoundTrip(t *testing.T) {
	spec := Controller("/api/catalog").
		Route(GET("").Handler("List").Meta("summary", "list items")).
		Route(GET("/{id}").Handler("Get").Path("id").Secured("catalog:read")).
		Route(GET("/search").Handler("Search").Query("q", Default("*")))

	c := containerWith(t, controllerDescriptor("Catalog", spec))

	p, err := NewPipeline(c, zap.NewNop())
	require.NoError(t, err)

	views := p.Routes()
	require.Len(t, views, 3)

	// The view carries everything needed to rebuild the table's shape:
	// rebuilding (method, pattern, parameter shapes) from the view matches
	// the original table.
	type shape struct {
		method, pattern string
		params          []ParamView
	}
	fromTable := make(map[string]shape)
	for _, rd := range p.RouteTable() {
		s := shape{method: rd.Method, pattern: rd.PathPattern}
		for _, param := range rd.Params {
			s.params = append(s.params, ParamView{
				Name:     param.Name,
				Kind:     string(param.Kind),
				Type:     param.Target.String(),
				Required: param.Required,
				Default:  param.Default,
			})
		}
		fromTable[s.method+" "+s.pattern] = s
	}

	for _, v := range views {
		original, ok := fromTable[v.Method+" "+v.Pattern]
		require.True(t, ok, "view names a route missing from the table")
		assert.Equal(t, original.params, v.Params)
	}

	// Metadata and security tags pass through untouched.
	for _, v := range views {
		if v.Pattern == "/api/catalog" {
			assert.Equal(t, "list items", v.Metadata["summary"])
		}
		if v.Pattern == "/api/catalog/{id}" {
			assert.Equal(t, []string{"catalog:read"}, v.SecurityTags)
		}
	}
}
