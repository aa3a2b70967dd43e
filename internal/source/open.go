package source

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"s13report/internal/config"
	"s13report/internal/repo"
)

// Options picks and configures a source. Empty fields fall back to the config file.
type Options struct {
	Kind          string
	Path          string
	MongoURI      string
	MongoDatabase string
	// Location reads file and Mongo dates that carry no offset.
	Location *time.Location
}

// Merge overlays non-empty fields of o onto the source section of cfg.
func (o Options) Merge(cfg *config.Config) Options {
	out := Options{
		Kind:          cfg.Source.Kind,
		Path:          cfg.Source.Path,
		MongoURI:      cfg.Source.MongoURI,
		MongoDatabase: cfg.Source.MongoDatabase,
		Location:      o.Location,
	}
	if o.Kind != "" {
		out.Kind = o.Kind
	}
	if o.Path != "" {
		out.Path = o.Path
		if o.Kind == "" {
			out.Kind = config.SourceJSON
		}
	}
	if o.MongoURI != "" {
		out.MongoURI = o.MongoURI
	}
	if o.MongoDatabase != "" {
		out.MongoDatabase = o.MongoDatabase
	}
	return out
}

// Open builds the source named by opts.Kind. The returned close func releases any
// connection the source holds and is never nil.
func Open(ctx context.Context, opts Options, r repo.Repo, logger *zap.Logger) (Source, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch opts.Kind {
	case "", config.SourceSQLite:
		return Store{Repo: r}, noop, nil
	case config.SourceJSON:
		if opts.Path == "" {
			return nil, noop, fmt.Errorf("json source requires a file path")
		}
		if _, err := os.Stat(opts.Path); err != nil {
			return nil, noop, err
		}
		return File{Path: opts.Path, Location: opts.Location, Logger: logger}, noop, nil
	case config.SourceMongo:
		if opts.MongoDatabase == "" {
			return nil, noop, fmt.Errorf("mongo source requires a database name")
		}
		client, err := ConnectMongo(ctx, opts.MongoURI)
		if err != nil {
			return nil, noop, err
		}
		return Mongo{Client: client, Database: opts.MongoDatabase, Location: opts.Location, Logger: logger}, client.Disconnect, nil
	default:
		return nil, noop, fmt.Errorf("unknown source kind %q", opts.Kind)
	}
}
