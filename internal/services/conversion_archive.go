package services

import (
	"context"
	"time"

	"variantlab/internal/database"
	"variantlab/internal/models"

	"go.mongodb.org/mongo-driver/mongo"
)

type archivedConversion struct {
	Kind                   string    `bson:"kind"`
	ArchivedAt             time.Time `bson:"archivedAt"`
	models.ConversionEvent `bson:",inline"`
}

type archivedFlow struct {
	Kind             string    `bson:"kind"`
	ArchivedAt       time.Time `bson:"archivedAt"`
	models.FlowEvent `bson:",inline"`
}

// MongoConversionArchive stores tracked events in the conversion_events collection
type MongoConversionArchive struct {
	collection *mongo.Collection
}

// NewMongoConversionArchive creates an archive on an open MongoDB connection
func NewMongoConversionArchive(mongoDB *database.MongoDB) *MongoConversionArchive {
	return &MongoConversionArchive{collection: mongoDB.Collection(database.CollectionConversionEvents)}
}

// ArchiveConversion implements ConversionArchive. Duplicate insert ids are ignored.
func (a *MongoConversionArchive) ArchiveConversion(ctx context.Context, event *models.ConversionEvent) error {
	_, err := a.collection.InsertOne(ctx, archivedConversion{
		Kind:            "conversion",
		ArchivedAt:      time.Now(),
		ConversionEvent: *event,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// ArchiveFlow implements ConversionArchive
func (a *MongoConversionArchive) ArchiveFlow(ctx context.Context, event *models.FlowEvent) error {
	_, err := a.collection.InsertOne(ctx, archivedFlow{
		Kind:       "flow",
		ArchivedAt: time.Now(),
		FlowEvent:  *event,
	})
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}
