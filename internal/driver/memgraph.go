package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	DialectMemgraph = "memgraph"
	DialectNeo4j    = "neo4j"
)

type Options struct {
	URI            string
	User           string
	Password       string
	Database       string
	Dialect        string
	MaxPoolSize    int
	ConnectTimeout time.Duration
}

type MemgraphDriver struct {
	Driver   neo4j.DriverWithContext
	database string
	dialect  string
	logger   *slog.Logger
}

func NewMemgraphDriver(ctx context.Context, opts Options, logger *slog.Logger) (*MemgraphDriver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dialect == "" {
		opts.Dialect = DialectMemgraph
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, neo4j.BasicAuth(opts.User, opts.Password, ""), func(cfg *neo4j.Config) {
		if opts.MaxPoolSize > 0 {
			cfg.MaxConnectionPoolSize = opts.MaxPoolSize
		}
		cfg.SocketConnectTimeout = opts.ConnectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init graph driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify graph connectivity: %w", err)
	}

	logger.Info("connected to graph database", "uri", opts.URI, "dialect", opts.Dialect)
	return &MemgraphDriver{
		Driver:   driver,
		database: opts.Database,
		dialect:  opts.Dialect,
		logger:   logger.With("component", "graph-driver"),
	}, nil
}

func (d *MemgraphDriver) Close(ctx context.Context) error {
	return d.Driver.Close(ctx)
}

func (d *MemgraphDriver) ExecuteQuery(ctx context.Context, query string, params map[string]any) (neo4j.EagerResult, error) {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if d.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(d.database))
	}
	result, err := neo4j.ExecuteQuery(ctx, d.Driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return neo4j.EagerResult{}, fmt.Errorf("failed to execute query: %w", err)
	}
	return *result, nil
}

// BuildIndices creates the uniqueness constraints and lookup indices for
// :Entity. Failures are logged and skipped since most mean the schema
// object already exists.
func (d *MemgraphDriver) BuildIndices(ctx context.Context) error {
	for _, q := range SchemaQueries(d.dialect) {
		if _, err := d.ExecuteQuery(ctx, q, nil); err != nil {
			d.logger.Warn("failed to apply schema statement", "query", q, "error", err)
		}
	}
	return nil
}
