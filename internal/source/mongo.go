package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"s13report/internal/domain"
	"s13report/internal/history"
)

const (
	TerritoriesCollection = "territories"
	HistoryCollection     = "territoryHistory"
)

// Mongo reads the territories and territoryHistory collections of one database.
type Mongo struct {
	Client   *mongo.Client
	Database string
	// Location reads string dates without an offset; nil means the local zone.
	Location *time.Location
	Logger   *zap.Logger
}

var _ Source = Mongo{}

// ConnectMongo dials uri and checks the connection before handing the client out.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo connection uri is empty")
	}
	opts := options.Client().ApplyURI(uri).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(30 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

func (m Mongo) all(ctx context.Context, collection string) ([]map[string]any, error) {
	cursor, err := m.Client.Database(m.Database).Collection(collection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", collection, err)
	}
	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = plainMap(d)
	}
	return out, nil
}

func (m Mongo) Territories(ctx context.Context) ([]domain.Territory, error) {
	docs, err := m.all(ctx, TerritoriesCollection)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Territory, 0, len(docs))
	for _, d := range docs {
		if t, ok := NormalizeTerritory(d); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m Mongo) History(ctx context.Context) ([]domain.HistoryEvent, error) {
	docs, err := m.all(ctx, HistoryCollection)
	if err != nil {
		return nil, err
	}
	events, skipped := history.NormalizeAllIn(docs, m.Location)
	if skipped > 0 && m.Logger != nil {
		m.Logger.Warn("history documents skipped", zap.String("collection", HistoryCollection), zap.Int("skipped", skipped))
	}
	return events, nil
}

// plainMap rewrites BSON containers into the plain maps and slices the normalizers read.
func plainMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = plain(v)
	}
	return out
}

func plain(v any) any {
	switch val := v.(type) {
	case primitive.M:
		return plainMap(val)
	case primitive.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	}
	return v
}
