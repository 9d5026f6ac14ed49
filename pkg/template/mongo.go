package template

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// MongoConfig contains document store configuration
type MongoConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	Collection     string        `mapstructure:"collection"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// MongoStore reads template documents from a MongoDB collection
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(ctx context.Context, cfg *MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Info("document store connection established",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection))

	return &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
	}, nil
}

// Get implements Store
func (s *MongoStore) Get(ctx context.Context, key string) (Document, error) {
	return s.findOne(ctx, bson.M{FieldID: key})
}

// FindByModel implements Store
func (s *MongoStore) FindByModel(ctx context.Context, model, ext string) (Document, error) {
	filter := bson.M{
		FieldModel: bson.M{"$regex": "^" + regexp.QuoteMeta(model) + "$", "$options": "i"},
		"$or":      extensionFilter(ext),
	}
	return s.findOne(ctx, filter)
}

// FindAnyByExtension implements Store
func (s *MongoStore) FindAnyByExtension(ctx context.Context, ext string) (Document, error) {
	return s.findOne(ctx, bson.M{"$or": extensionFilter(ext)})
}

// Put implements Store
func (s *MongoStore) Put(ctx context.Context, doc Document) error {
	key := doc.ID()
	if key == "" {
		return ErrInvalidKey
	}

	replacement := bson.M(doc.Clone())
	replacement[FieldID] = key

	_, err := s.collection.ReplaceOne(ctx, bson.M{FieldID: key}, replacement, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store template %q: %w", key, err)
	}
	return nil
}

// Ping implements Store
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (Document, error) {
	var raw bson.M
	err := s.collection.FindOne(ctx, filter, options.FindOne().SetSort(bson.D{{Key: FieldID, Value: 1}})).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	return Document(raw), nil
}

func extensionFilter(ext string) bson.A {
	return bson.A{
		bson.M{FieldExtension: ext},
		bson.M{FieldFileType: ext},
	}
}
