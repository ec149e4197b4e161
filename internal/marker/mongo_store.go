package marker

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for MongoDB marker store.
type MongoConfig struct {
	URI        string `yaml:"uri"`        // e.g. mongodb://localhost:27017
	Database   string `yaml:"database"`   // e.g. atlas
	Collection string `yaml:"collection"` // e.g. markers
}

// MongoStore keeps persistent markers in MongoDB; temporary ones stay in memory.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	temporary  *MemoryStore
	ctxTimeout time.Duration
}

type markerDoc struct {
	ID        string    `bson:"_id"`
	Type      string    `bson:"type"`
	Label     string    `bson:"label"`
	Dimension string    `bson:"dimension"`
	X         int       `bson:"x"`
	Z         int       `bson:"z"`
	Global    bool      `bson:"global"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore establishes connection and returns store.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "atlas"
	}
	if cfg.Collection == "" {
		cfg.Collection = "markers"
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		temporary:  NewMemoryStore(),
		ctxTimeout: 5 * time.Second,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()
	dimIdx := mongo.IndexModel{
		Keys:    bson.D{{Key: "dimension", Value: 1}, {Key: "_id", Value: 1}},
		Options: options.Index().SetName("dimension_id"),
	}
	_, err := s.collection.Indexes().CreateOne(ctx, dimIdx)
	return err
}

// PutGlobalMarker implements Store.
func (s *MongoStore) PutGlobalMarker(ctx context.Context, dim string, temporary bool, markerType, label string, x, z int) (Marker, error) {
	if temporary {
		return s.temporary.PutGlobalMarker(ctx, dim, temporary, markerType, label, x, z)
	}

	mk := newGlobal(dim, temporary, markerType, label, x, z)
	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()
	_, err := s.collection.InsertOne(ctx, markerDoc{
		ID:        mk.ID,
		Type:      mk.Type,
		Label:     mk.Label,
		Dimension: mk.Dimension,
		X:         mk.X,
		Z:         mk.Z,
		Global:    mk.Global,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return Marker{}, err
	}
	return mk, nil
}

// List implements Store: persistent and temporary markers sorted by ID.
func (s *MongoStore) List(ctx context.Context, dim string) ([]Marker, error) {
	out, err := s.temporary.List(ctx, dim)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.ctxTimeout)
	defer cancel()
	cur, err := s.collection.Find(ctx, bson.M{"dimension": dim}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc markerDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, Marker{
			ID:         doc.ID,
			Type:       doc.Type,
			Label:      doc.Label,
			Dimension:  doc.Dimension,
			X:          doc.X,
			Z:          doc.Z,
			Global:     doc.Global,
			Persistent: true,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sortByID(out)
	return out, nil
}

// Close terminates connection.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
