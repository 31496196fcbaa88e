package memory

import (
	"context"
	"encoding/json"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig locates the tap collection.
type MongoConfig struct {
	URI        string `json:"URI"`
	Port       string `json:"Port"`
	Database   string `json:"Database"`
	Collection string `json:"Collection"`
	Feeder     string `json:"Feeder"` // scopes documents when several feeders share a collection
	TimeoutSec int    `json:"TimeoutSec"`
}

// ReadMongoConfig reads a MongoConfig from a JSON file.
func ReadMongoConfig(configPath string) (MongoConfig, error) {
	jsonConfig, err := os.ReadFile(configPath)
	if err != nil {
		return MongoConfig{}, err
	}
	cfg := MongoConfig{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return MongoConfig{}, err
	}
	return cfg, nil
}

func (c MongoConfig) uri() string {
	if c.Port == "" {
		return c.URI
	}
	return c.URI + ":" + c.Port
}

func (c MongoConfig) timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// MongoStore keeps one document per regulator: {feeder, regulator, tap, updated}.
type MongoStore struct {
	config MongoConfig
	client *mongo.Client
	coll   *mongo.Collection
}

type tapDoc struct {
	Feeder    string    `bson:"feeder"`
	Regulator string    `bson:"regulator"`
	Tap       int       `bson:"tap"`
	Updated   time.Time `bson:"updated"`
}

// NewMongoStore connects to the configured database.
func NewMongoStore(ctx context.Context, config MongoConfig) (*MongoStore, error) {
	if config.Collection == "" {
		config.Collection = "regulatorTaps"
	}
	client, err := mongo.NewClient(options.Client().ApplyURI(config.uri()))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, config.timeout())
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	log.Println("[Mongo] connected to", config.uri())
	return &MongoStore{
		config: config,
		client: client,
		coll:   client.Database(config.Database).Collection(config.Collection),
	}, nil
}

func (m *MongoStore) filter() bson.M {
	return bson.M{"feeder": m.config.Feeder}
}

func (m *MongoStore) Load() (map[string]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.timeout())
	defer cancel()

	cur, err := m.coll.Find(ctx, m.filter())
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	taps := make(map[string]int)
	for cur.Next(ctx) {
		doc := tapDoc{}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		taps[doc.Regulator] = doc.Tap
	}
	return taps, cur.Err()
}

// Save upserts one document per regulator.
func (m *MongoStore) Save(taps map[string]int) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.timeout())
	defer cancel()

	now := time.Now().UTC()
	opts := options.Update().SetUpsert(true)
	for reg, tap := range taps {
		_, err := m.coll.UpdateOne(
			ctx,
			bson.M{"feeder": m.config.Feeder, "regulator": reg},
			bson.D{{Key: "$set", Value: tapDoc{Feeder: m.config.Feeder, Regulator: reg, Tap: tap, Updated: now}}},
			opts,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *MongoStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.timeout())
	defer cancel()
	_, err := m.coll.DeleteMany(ctx, m.filter())
	return err
}

// Close disconnects the client.
func (m *MongoStore) Close(ctx context.Context) error {
	log.Println("[Mongo] disconnect")
	return m.client.Disconnect(ctx)
}
