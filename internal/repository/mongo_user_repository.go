package repository

import (
	"context"
	"errors"
	"time"

	"seawatch/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const UsersCollection = "users"

type userDocument struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	Email      string    `bson:"email"`
	Role       string    `bson:"role"`
	VesselName string    `bson:"vesselName"`
	VesselType string    `bson:"vesselType"`
	IsActive   bool      `bson:"isActive"`
	CreatedAt  time.Time `bson:"createdAt"`
}

func (d userDocument) toModel() (*model.User, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:         id,
		Name:       d.Name,
		Email:      d.Email,
		Role:       model.Role(d.Role),
		VesselName: d.VesselName,
		VesselType: d.VesselType,
		IsActive:   d.IsActive,
		CreatedAt:  d.CreatedAt,
	}, nil
}

// MongoUserRepository reads user profiles owned by the identity service.
type MongoUserRepository struct {
	col *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{col: db.Collection(UsersCollection)}
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	var doc userDocument
	err := r.col.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *MongoUserRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.User, error) {
	users := make(map[uuid.UUID]*model.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	keys := make(bson.A, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}

	cursor, err := r.col.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc userDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		user, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		users[user.ID] = user
	}
	return users, cursor.Err()
}
