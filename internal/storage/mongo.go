package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/hyperjump/nakama/internal/models"
)

// MongoStorage implements Storage on a MongoDB collection. Documents written by other
// tools are read as-is; their _id may be an ObjectID or a string.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStorage connects to uri and uses database.collection for profiles.
func NewMongoStorage(ctx context.Context, uri, database, collection string) (*MongoStorage, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &MongoStorage{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

// CreateProfile inserts a profile.
func (s *MongoStorage) CreateProfile(ctx context.Context, p *models.Profile) error {
	assignIdentity(p)
	if _, err := s.collection.InsertOne(ctx, profileToBSON(p)); err != nil {
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

func profileToBSON(p *models.Profile) bson.M {
	doc := bson.M{}
	for k, v := range p.Document() {
		doc[k] = v
	}
	doc["_id"] = p.ID
	doc[models.FieldCreatedAt] = p.CreatedAt
	return doc
}

// ImportDocument upserts doc under id.
func (s *MongoStorage) ImportDocument(ctx context.Context, id string, doc map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	replacement := bson.M{}
	for k, v := range doc {
		replacement[k] = v
	}
	delete(replacement, "_id")
	if _, ok := replacement[models.FieldCreatedAt]; !ok {
		replacement[models.FieldCreatedAt] = time.Now()
	}
	// Imported documents are keyed by string _id.
	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": id}, replacement, opts); err != nil {
		return "", fmt.Errorf("failed to import document: %w", err)
	}
	return id, nil
}

// GetProfile returns a profile by ID.
func (s *MongoStorage) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	var doc bson.M
	err := s.collection.FindOne(ctx, idFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return profileFromBSON(doc), nil
}

// DeleteProfile removes a profile by ID.
func (s *MongoStorage) DeleteProfile(ctx context.Context, id string) error {
	result, err := s.collection.DeleteOne(ctx, idFilter(id))
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteProfilesBySource removes all profiles ingested from source.
func (s *MongoStorage) DeleteProfilesBySource(ctx context.Context, source string) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{models.FieldSource: source})
	if err != nil {
		return 0, fmt.Errorf("failed to delete profiles: %w", err)
	}
	return result.DeletedCount, nil
}

// ReplaceProfilesBySource inserts the new profiles before deleting the older ones of source.
// It needs no transaction, so it also works against a standalone server. A failed batch is
// removed again by its IDs.
func (s *MongoStorage) ReplaceProfilesBySource(ctx context.Context, source string, profiles []*models.Profile) (int64, error) {
	docs := make([]any, 0, len(profiles))
	ids := bson.A{}
	for _, p := range profiles {
		p.Source = source
		assignIdentity(p)
		docs = append(docs, profileToBSON(p))
		ids = append(ids, p.ID)
	}
	if len(docs) > 0 {
		if _, err := s.collection.InsertMany(ctx, docs); err != nil {
			batch := bson.M{models.FieldSource: source, "_id": bson.M{"$in": ids}}
			if _, cleanupErr := s.collection.DeleteMany(context.WithoutCancel(ctx), batch); cleanupErr != nil {
				err = errors.Join(err, cleanupErr)
			}
			return 0, fmt.Errorf("failed to insert profiles: %w", err)
		}
	}
	result, err := s.collection.DeleteMany(ctx, bson.M{models.FieldSource: source, "_id": bson.M{"$nin": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete replaced profiles: %w", err)
	}
	return result.DeletedCount, nil
}

// ListProfiles returns every profile.
func (s *MongoStorage) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	return s.find(ctx, bson.M{})
}

// ListProfilesContaining runs one query for all fields and values; $in matches array
// elements as well as scalars.
func (s *MongoStorage) ListProfilesContaining(ctx context.Context, fields, values []string) ([]*models.Profile, error) {
	if err := checkFields(fields); err != nil {
		return nil, err
	}
	if len(fields) == 0 || len(values) == 0 {
		return []*models.Profile{}, nil
	}
	return s.find(ctx, containsFilter(fields, values))
}

func containsFilter(fields, values []string) bson.M {
	in := bson.A{}
	for _, v := range values {
		in = append(in, v)
	}
	or := bson.A{}
	for _, f := range fields {
		or = append(or, bson.M{f: bson.M{"$in": in}})
	}
	return bson.M{"$or": or}
}

// CountProfiles returns the total number of profiles.
func (s *MongoStorage) CountProfiles(ctx context.Context) (int64, error) {
	return s.collection.CountDocuments(ctx, bson.M{})
}

// Close disconnects the client.
func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStorage) find(ctx context.Context, filter bson.M) ([]*models.Profile, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: models.FieldCreatedAt, Value: 1},
		{Key: "_id", Value: 1},
	})
	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	profiles := make([]*models.Profile, 0, len(docs))
	for _, doc := range docs {
		profiles = append(profiles, profileFromBSON(doc))
	}
	return profiles, nil
}

// idFilter matches id as a string _id, or as an ObjectID when id is a valid hex ObjectID.
func idFilter(id string) bson.M {
	if oid, err := bson.ObjectIDFromHex(id); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{id, oid}}}
	}
	return bson.M{"_id": id}
}

func profileFromBSON(doc bson.M) *models.Profile {
	id := ""
	switch v := doc["_id"].(type) {
	case bson.ObjectID:
		id = v.Hex()
	case string:
		id = v
	case nil:
	default:
		id = fmt.Sprint(v)
	}
	p := models.ProfileFromDocument(id, doc)
	switch v := doc[models.FieldCreatedAt].(type) {
	case bson.DateTime:
		p.CreatedAt = v.Time()
	case time.Time:
		p.CreatedAt = v
	}
	return p
}
