package repository

import (
	"context"
	"errors"
	"time"

	"seawatch/internal/model"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ReportsCollection = "reports"

type geoPoint struct {
	Type        string    `bson:"type"`
	Coordinates []float64 `bson:"coordinates"`
}

type vesselInfoDocument struct {
	VesselName string `bson:"vesselName"`
	VesselType string `bson:"vesselType"`
}

type reportDocument struct {
	ID          string             `bson:"_id"`
	Type        string             `bson:"type"`
	Location    geoPoint           `bson:"location"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Species     *string            `bson:"species,omitempty"`
	Severity    string             `bson:"severity"`
	ImageURL    *string            `bson:"imageUrl,omitempty"`
	SubmittedBy string             `bson:"submittedBy"`
	VesselInfo  vesselInfoDocument `bson:"vesselInfo"`
	IsActive    bool               `bson:"isActive"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
	Distance    *float64           `bson:"distance,omitempty"`
}

func toReportDocument(r *model.Report) reportDocument {
	doc := reportDocument{
		ID:   r.ID.String(),
		Type: string(r.Type()),
		Location: geoPoint{
			Type:        "Point",
			Coordinates: []float64{r.Location.Longitude(), r.Location.Latitude()},
		},
		Title:       r.Title,
		Description: r.Description,
		Severity:    string(r.Severity),
		ImageURL:    r.ImageURL,
		SubmittedBy: r.SubmittedBy.String(),
		VesselInfo: vesselInfoDocument{
			VesselName: r.VesselInfo.VesselName,
			VesselType: r.VesselInfo.VesselType,
		},
		IsActive:  r.IsActive,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if species, ok := r.Species(); ok {
		doc.Species = &species
	}
	return doc
}

func (d reportDocument) toModel() (*model.Report, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	submittedBy, err := uuid.Parse(d.SubmittedBy)
	if err != nil {
		return nil, err
	}
	var lon, lat float64
	if len(d.Location.Coordinates) == 2 {
		lon, lat = d.Location.Coordinates[0], d.Location.Coordinates[1]
	}

	return &model.Report{
		ID:          id,
		Body:        model.BodyOf(model.ReportType(d.Type), d.Species),
		Location:    model.NewLocation(lon, lat),
		Title:       d.Title,
		Description: d.Description,
		Severity:    model.Severity(d.Severity),
		ImageURL:    d.ImageURL,
		SubmittedBy: submittedBy,
		VesselInfo: model.VesselInfo{
			VesselName: d.VesselInfo.VesselName,
			VesselType: d.VesselInfo.VesselType,
		},
		IsActive:       d.IsActive,
		DistanceMeters: d.Distance,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

// MongoReportRepository stores reports as GeoJSON documents. Proximity
// queries need the 2dsphere index created by database.EnsureMongoIndexes.
type MongoReportRepository struct {
	db  *mongo.Database
	col *mongo.Collection
}

func NewMongoReportRepository(db *mongo.Database) *MongoReportRepository {
	return &MongoReportRepository{db: db, col: db.Collection(ReportsCollection)}
}

func (r *MongoReportRepository) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, nil)
}

func (r *MongoReportRepository) Create(ctx context.Context, report *model.Report) (*model.Report, error) {
	created := *report
	if created.ID == uuid.Nil {
		created.ID = uuid.New()
	}
	created.Submitter = nil
	created.DistanceMeters = nil
	now := time.Now().UTC().Truncate(time.Millisecond)
	created.CreatedAt = now
	created.UpdatedAt = now

	if _, err := r.col.InsertOne(ctx, toReportDocument(&created)); err != nil {
		return nil, err
	}
	return &created, nil
}

func (r *MongoReportRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	var doc reportDocument
	err := r.col.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *MongoReportRepository) Find(ctx context.Context, filter model.ReportFilter) ([]model.Report, error) {
	query := bson.M{}
	if filter.Type != nil {
		query["type"] = string(*filter.Type)
	}
	if filter.Severity != nil {
		query["severity"] = string(*filter.Severity)
	}
	if filter.SubmittedBy != nil {
		query["submittedBy"] = filter.SubmittedBy.String()
	}
	if !filter.IncludeInactive {
		query["isActive"] = true
	}

	direction := -1
	if filter.Sort == model.SortOldest {
		direction = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: direction}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.col.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	return decodeReports(ctx, cursor)
}

func (r *MongoReportRepository) FindNear(ctx context.Context, q model.NearQuery) ([]model.Report, error) {
	geoNear := bson.D{
		{Key: "near", Value: bson.D{
			{Key: "type", Value: "Point"},
			{Key: "coordinates", Value: bson.A{q.Location.Longitude(), q.Location.Latitude()}},
		}},
		{Key: "distanceField", Value: "distance"},
		{Key: "maxDistance", Value: q.MaxDistanceMeters},
		{Key: "spherical", Value: true},
	}
	if q.ActiveOnly {
		geoNear = append(geoNear, bson.E{Key: "query", Value: bson.M{"isActive": true}})
	}

	pipeline := mongo.Pipeline{{{Key: "$geoNear", Value: geoNear}}}
	if q.Limit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: q.Limit}})
	}

	cursor, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return decodeReports(ctx, cursor)
}

// Update runs a single pipeline update so the species guard and the write
// happen atomically on the server. Values go through $literal so user text
// starting with '$' is never read as a field path.
func (r *MongoReportRepository) Update(ctx context.Context, id uuid.UUID, patch model.ReportPatch) (*model.Report, error) {
	set := bson.M{"updatedAt": "$$NOW"}
	if patch.Title != nil {
		set["title"] = bson.M{"$literal": *patch.Title}
	}
	if patch.Description != nil {
		set["description"] = bson.M{"$literal": *patch.Description}
	}
	if patch.Species != nil {
		set["species"] = bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$type", string(model.TypeHotspot)}},
			bson.M{"$literal": *patch.Species},
			"$species",
		}}
	}
	if patch.Severity != nil {
		set["severity"] = bson.M{"$literal": string(*patch.Severity)}
	}
	if patch.ImageURL != nil {
		set["imageUrl"] = bson.M{"$literal": *patch.ImageURL}
	}
	return r.updatePipeline(ctx, id, set)
}

// ToggleActive negates isActive inside the update pipeline.
func (r *MongoReportRepository) ToggleActive(ctx context.Context, id uuid.UUID) (*model.Report, error) {
	return r.updatePipeline(ctx, id, bson.M{
		"isActive":  bson.M{"$not": "$isActive"},
		"updatedAt": "$$NOW",
	})
}

func (r *MongoReportRepository) updatePipeline(ctx context.Context, id uuid.UUID, set bson.M) (*model.Report, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc reportDocument
	err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id.String()}, mongo.Pipeline{{{Key: "$set", Value: set}}}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc.toModel()
}

func (r *MongoReportRepository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.col.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

func decodeReports(ctx context.Context, cursor *mongo.Cursor) ([]model.Report, error) {
	defer cursor.Close(ctx)

	var reports []model.Report
	for cursor.Next(ctx) {
		var doc reportDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		report, err := doc.toModel()
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, cursor.Err()
}
