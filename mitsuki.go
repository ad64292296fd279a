// Package mitsuki is an opinionated web-application framework: declarative
// HTTP controllers over a layered architecture, a runtime
// dependency-injection container, profile-layered configuration, and a
// declarative task scheduler, orchestrated by a single application runtime.
//
// Applications register components through an explicit builder and hand the
// registry to the runtime:
//
//	reg := mitsuki.NewRegistry().
//		Register(mitsuki.Repository("UserRepository").Factory(NewUserRepository)).
//		Register(mitsuki.Service("UserService").Factory(NewUserService)).
//		Register(mitsuki.Controller("UserController").
//			Factory(NewUserController).
//			Attach(web.AttachmentKey, web.Controller("/api/users").
//				Route(web.GET("/{id}").Handler("GetUser").Path("id"))))
//
//	app := mitsuki.NewApplication(reg, runtime.WithConfigDir("."))
//	if err := app.Run(context.Background()); err != nil {
//		log.Fatal(err)
//	}
package mitsuki

import (
	"github.com/DavidLandup0/mitsuki/container"
	"github.com/DavidLandup0/mitsuki/runtime"
)

// NewRegistry creates an empty component registry.
func NewRegistry() *container.Registry {
	return container.NewRegistry()
}

// Component starts a generic component descriptor.
func Component(name string) *container.Descriptor {
	return container.NewDescriptor(name)
}

// Service starts a service descriptor.
func Service(name string) *container.Descriptor {
	return container.NewDescriptor(name).Kind(container.KindService)
}

// Repository starts a repository descriptor.
func Repository(name string) *container.Descriptor {
	return container.NewDescriptor(name).Kind(container.KindRepository)
}

// Controller starts a controller descriptor. Attach a web.ControllerSpec
// under web.AttachmentKey to declare its routes.
func Controller(name string) *container.Descriptor {
	return container.NewDescriptor(name).Kind(container.KindController)
}

// Configuration starts a configuration-class descriptor whose provider
// methods register additional components.
func Configuration(name string) *container.Descriptor {
	return container.NewDescriptor(name).Kind(container.KindConfiguration)
}

// NewApplication creates the application runtime over a registry.
func NewApplication(registry *container.Registry, opts ...runtime.Option) *runtime.Application {
	return runtime.New(registry, opts...)
}
