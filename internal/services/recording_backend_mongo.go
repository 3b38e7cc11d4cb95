package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"variantlab/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoRecording is the stored document; Data keeps the exact JSON that was written
type mongoRecording struct {
	Key       string    `bson:"_id"`
	Version   string    `bson:"version"`
	SessionID string    `bson:"sessionId"`
	StartTime int64     `bson:"startTime"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// MongoRecordingBackend stores recordings in the session_recordings collection
type MongoRecordingBackend struct {
	mongoDB    *database.MongoDB
	collection *mongo.Collection
}

// NewMongoRecordingBackend creates a backend on an open MongoDB connection
func NewMongoRecordingBackend(mongoDB *database.MongoDB) *MongoRecordingBackend {
	return &MongoRecordingBackend{
		mongoDB:    mongoDB,
		collection: mongoDB.Collection(database.CollectionRecordings),
	}
}

// Name implements RecordingBackend
func (b *MongoRecordingBackend) Name() string { return "mongo" }

// Ensure is a no-op: collections are created on first write and indexes at startup
func (b *MongoRecordingBackend) Ensure(ctx context.Context) error { return nil }

// Put replaces the document for key in a single upsert
func (b *MongoRecordingBackend) Put(ctx context.Context, key string, data []byte) (string, error) {
	var fields indexFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("decode index fields: %w", err)
	}

	doc := mongoRecording{
		Key:       key,
		Version:   fields.Version,
		SessionID: fields.SessionID,
		StartTime: fields.StartTime,
		Data:      string(data),
		UpdatedAt: time.Now(),
	}

	_, err := b.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("mongodb://%s/%s/%s", b.mongoDB.Name(), database.CollectionRecordings, key), nil
}

// Keys lists document ids with the prefix in ascending order
func (b *MongoRecordingBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}
	}

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := b.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	keys := []string{}
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}

// Read loads the JSON body of a document
func (b *MongoRecordingBackend) Read(ctx context.Context, key string) ([]byte, error) {
	var doc mongoRecording
	err := b.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrBackendNotFound
		}
		return nil, err
	}
	return []byte(doc.Data), nil
}

// Close disconnects from MongoDB
func (b *MongoRecordingBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.mongoDB.Close(ctx)
}
