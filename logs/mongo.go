package logs

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"
)

// MongoConfig MongoDB 日志存储配置
type MongoConfig struct {
	URI            string        `yaml:"uri" env:"URI"`
	Database       string        `yaml:"database" env:"DATABASE"`
	Collection     string        `yaml:"collection" env:"COLLECTION"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DefaultMongoConfig 返回默认配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:            "mongodb://localhost:27017",
		Database:       "longtask",
		Collection:     "logs",
		ConnectTimeout: 10 * time.Second,
	}
}

// MongoRepository stores log records in a MongoDB collection keyed by _id.
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoRepository connects to MongoDB and ensures the listing index.
func NewMongoRepository(ctx context.Context, cfg MongoConfig, logger *zap.Logger) (*MongoRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultMongoConfig()
	if cfg.Database == "" {
		cfg.Database = def.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	r := &MongoRepository{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger.With(zap.String("component", "logs_mongo")),
	}
	if err := r.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	r.logger.Info("mongodb log repository ready",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)
	return r, nil
}

// EnsureIndexes creates the (tenant, _id) index used for paging.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenant", Value: 1}, {Key: "_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create log index: %w", err)
	}
	return nil
}

func (r *MongoRepository) Insert(ctx context.Context, records ...*Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]any, 0, len(records))
	for _, rec := range records {
		if rec == nil || rec.ID == "" {
			return ErrInvalidInput
		}
		docs = append(docs, rec)
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert logs: %w", err)
	}
	return nil
}

func (r *MongoRepository) List(ctx context.Context, params ListParams) (*Page, error) {
	limit := normalizeLimit(params.Limit)

	filter := bson.M{}
	if params.Tenant != "" {
		filter["tenant"] = params.Tenant
	}
	if params.After != "" {
		filter["_id"] = bson.M{"$gt": params.After}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(int64(limit + 1))

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	var records []*Record
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode logs: %w", err)
	}
	return newPage(records, limit), nil
}

func (r *MongoRepository) DeleteBatch(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("delete logs: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Close disconnects the client.
func (r *MongoRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
