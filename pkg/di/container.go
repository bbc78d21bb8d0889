// Package di provides dependency injection container
package di

import (
	"go.uber.org/zap"

	"github.com/ssargent/roomdb/pkg/api" //nolint:depguard
	"github.com/ssargent/roomdb/pkg/config"
	"github.com/ssargent/roomdb/pkg/store"
)

// StoreOpener opens the room store described by a config.
type StoreOpener func(cfg *config.Config, logger *zap.Logger) (*store.RoomStore, error)

// Container holds all the dependencies for the application
type Container struct {
	storeOpener   StoreOpener
	serverFactory api.ServerFactory
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	return &Container{
		storeOpener:   OpenStore,
		serverFactory: api.NewServerFactory(),
	}
}

// OpenStore maps the file named by cfg and builds a store over it.
func OpenStore(cfg *config.Config, logger *zap.Logger) (*store.RoomStore, error) {
	return store.Open(store.RoomStoreConfig{
		Path:        cfg.MemoryPath(),
		BucketPages: cfg.Storage.BucketPages,
		MaxPages:    cfg.Storage.MaxPages,
	}, store.WithLogger(logger.Named("store")))
}

// GetStoreOpener returns the store opener
func (c *Container) GetStoreOpener() StoreOpener {
	return c.storeOpener
}

// GetServerFactory returns the server factory
func (c *Container) GetServerFactory() api.ServerFactory {
	return c.serverFactory
}

// SetStoreOpener allows overriding the store opener (for testing)
func (c *Container) SetStoreOpener(opener StoreOpener) {
	c.storeOpener = opener
}

// SetServerFactory allows overriding the server factory (for testing)
func (c *Container) SetServerFactory(factory api.ServerFactory) {
	c.serverFactory = factory
}
