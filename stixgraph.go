package stixgraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zero-day-ai/stixgraph/config"
	"github.com/zero-day-ai/stixgraph/exporter"
	"github.com/zero-day-ai/stixgraph/graph"
	"github.com/zero-day-ai/stixgraph/graph/memstore"
	"github.com/zero-day-ai/stixgraph/graph/sqlstore"
	"github.com/zero-day-ai/stixgraph/importer"
	"github.com/zero-day-ai/stixgraph/mapping"
	"github.com/zero-day-ai/stixgraph/stix"
	"github.com/zero-day-ai/stixgraph/stixerr"
)

// Client exports and imports STIX bundles over one graph store.
type Client struct {
	cfg      *config.Config
	store    graph.Store
	closer   io.Closer
	mapper   *mapping.Mapper
	exporter *exporter.Exporter
	importer *importer.Importer
	logger   *slog.Logger
}

// New creates a Client. Without WithStore the store named by the
// configuration is opened; without a configuration the defaults apply.
//
// Example:
//
//	client, err := stixgraph.New(
//	    stixgraph.WithConfigFile("stixgraph.yaml"),
//	    stixgraph.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
func New(opts ...Option) (*Client, error) {
	const op = "stixgraph.New"

	cc := &clientConfig{}
	for _, opt := range opts {
		opt(cc)
	}
	if cc.logger == nil {
		cc.logger = slog.Default()
	}

	cfg := cc.cfg
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOrDefault(cc.configPath); err != nil {
			return nil, stixerr.NewConfigurationError(op, err)
		}
	} else if err := cfg.Validate(); err != nil {
		return nil, stixerr.NewConfigurationError(op, err)
	}

	c := &Client{cfg: cfg, store: cc.store, logger: cc.logger}
	if c.store == nil {
		store, closer, err := OpenStore(cfg.Store)
		if err != nil {
			return nil, stixerr.NewConfigurationError(op, err)
		}
		c.store, c.closer = store, closer
	}

	c.mapper = mapping.New(
		mapping.WithSpecVersion(stix.SpecVersion(cfg.SpecVersion)),
		mapping.WithExtensionPrefix(cfg.ExtensionPrefix),
	)

	mappingPolicy, err := exporter.ParseMappingPolicy(cfg.MappingPolicy)
	if err != nil {
		c.Close()
		return nil, stixerr.NewConfigurationError(op, err)
	}
	exportOpts := []exporter.Option{
		exporter.WithMapper(c.mapper),
		exporter.WithLogger(c.logger),
		exporter.WithMaxDepth(cfg.Export.MaxDepth),
		exporter.WithMappingPolicy(mappingPolicy),
	}

	unknownPolicy, err := importer.ParseUnknownTypePolicy(cfg.UnknownTypePolicy)
	if err != nil {
		c.Close()
		return nil, stixerr.NewConfigurationError(op, err)
	}
	importOpts := []importer.Option{
		importer.WithMapper(c.mapper),
		importer.WithLogger(c.logger),
		importer.WithConcurrency(cfg.Concurrency),
		importer.WithUnknownTypePolicy(unknownPolicy),
		importer.WithTimeout(cfg.GetTimeout()),
	}

	if cc.tracer != nil {
		exportOpts = append(exportOpts, exporter.WithTracer(cc.tracer))
		importOpts = append(importOpts, importer.WithTracer(cc.tracer))
	}
	if cc.meter != nil {
		importOpts = append(importOpts, importer.WithMeterProvider(cc.meter))
	}

	c.exporter = exporter.New(c.store, exportOpts...)
	if c.importer, err = importer.New(c.store, importOpts...); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// OpenStore opens the store described by cfg. The closer is nil for stores
// that hold no resources.
func OpenStore(cfg config.StoreConfig) (graph.Store, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		return memstore.New(), nil, nil
	case "sqlite", "":
		s, err := sqlstore.Open(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store %s: %w", cfg.DSN, err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Config returns the effective configuration.
func (c *Client) Config() *config.Config { return c.cfg }

// Store returns the underlying graph store.
func (c *Client) Store() graph.Store { return c.store }

// Mapper returns the mapper shared by export and import.
func (c *Client) Mapper() *mapping.Mapper { return c.mapper }

// Exporter returns the configured exporter.
func (c *Client) Exporter() *exporter.Exporter { return c.exporter }

// Importer returns the configured importer.
func (c *Client) Importer() *importer.Importer { return c.importer }

// ExportEntity exports the entity with internal id rootID.
func (c *Client) ExportEntity(ctx context.Context, rootID string, mode exporter.Mode) (*stix.Bundle, error) {
	return c.exporter.ExportEntity(ctx, rootID, mode)
}

// ExportEntityByStixID exports the entity with the given STIX id.
func (c *Client) ExportEntityByStixID(ctx context.Context, stixID string, mode exporter.Mode) (*stix.Bundle, error) {
	e, err := c.store.FindEntityByStixID(ctx, stixID)
	if err != nil {
		if errors.Is(err, stixerr.ErrNotFound) {
			return nil, stixerr.NewNotFoundError("Client.ExportEntityByStixID", err).WithStixID(stixID)
		}
		return nil, err
	}
	return c.exporter.ExportEntity(ctx, e.ID, mode)
}

// ExportList exports every entity of type t matching filter.
func (c *Client) ExportList(ctx context.Context, t graph.EntityType, filter graph.Filter) (*stix.Bundle, error) {
	return c.exporter.ExportList(ctx, t, filter)
}

// Import parses a bundle from r and imports it.
func (c *Client) Import(ctx context.Context, r io.Reader, updateExisting bool) (*importer.Result, error) {
	return c.importer.ImportReader(ctx, r, updateExisting)
}

// ImportBundle imports an already parsed bundle.
func (c *Client) ImportBundle(ctx context.Context, b *stix.Bundle, updateExisting bool) (*importer.Result, error) {
	return c.importer.ImportBundle(ctx, b, updateExisting)
}

// Close releases the store if the Client opened it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}
