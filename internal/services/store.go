package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jake1318/sui-rpc-proxy/internal/config"
	"github.com/jake1318/sui-rpc-proxy/internal/models"
)

// StoredMetadata is the persisted shape of a metadata cache entry
type StoredMetadata struct {
	CoinType    string    `bson:"coin_type"`
	Decimals    int       `bson:"decimals"`
	Symbol      string    `bson:"symbol"`
	Name        string    `bson:"name"`
	Description string    `bson:"description"`
	Source      string    `bson:"source"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

// Metadata converts the stored record back to the canonical shape
func (s *StoredMetadata) Metadata() *models.CoinMetadata {
	return &models.CoinMetadata{
		Decimals:    s.Decimals,
		Symbol:      s.Symbol,
		Name:        s.Name,
		Description: s.Description,
	}
}

// MetadataStore persists the long-TTL metadata namespace in MongoDB so it
// survives restarts. The in-memory cache stays authoritative; the store is
// written through on insert and read once at startup.
type MetadataStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	config     *config.MongoDBConfig
}

// NewMetadataStore connects to MongoDB and prepares the metadata collection
func NewMetadataStore(cfg *config.MongoDBConfig) (*MetadataStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	clientOptions.SetServerSelectionTimeout(5 * time.Second)
	clientOptions.SetRetryWrites(true)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	collection := client.Database(cfg.Database).Collection(cfg.Collection)

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "coin_type", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	// Index might already exist; not fatal.
	_, _ = collection.Indexes().CreateOne(ctx, indexModel)

	return &MetadataStore{
		client:     client,
		collection: collection,
		config:     cfg,
	}, nil
}

// Save upserts one token's metadata
func (s *MetadataStore) Save(coinType string, meta *models.CoinMetadata, source string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := StoredMetadata{
		CoinType:    coinType,
		Decimals:    meta.Decimals,
		Symbol:      meta.Symbol,
		Name:        meta.Name,
		Description: meta.Description,
		Source:      source,
		UpdatedAt:   time.Now().UTC(),
	}

	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"coin_type": coinType}, record, opts)
	return err
}

// LoadAll reads every persisted record, used to warm the in-memory cache at
// startup
func (s *MetadataStore) LoadAll() ([]StoredMetadata, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []StoredMetadata
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// CheckHealth pings the database and reports latency
func (s *MetadataStore) CheckHealth() (time.Duration, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.client.Ping(ctx, nil)
	return time.Since(start), err
}

// Close disconnects from MongoDB
func (s *MetadataStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.client.Disconnect(ctx)
}
