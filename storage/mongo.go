package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"taskboard/domain"
)

// Mongo stores one document per task, keyed by the integer id.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

type taskDocument struct {
	ID          int64     `bson:"id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	Status      string    `bson:"status"`
	AssignedTo  *int64    `bson:"assignedTo"`
	Priority    string    `bson:"priority"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

// NewMongo connects to uri and ensures a unique index on id.
func NewMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Mongo{client: client, coll: coll}, nil
}

func (s *Mongo) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

func toDocument(t domain.Task) taskDocument {
	d := taskDocument{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		CreatedAt:   t.CreatedAt.UTC(),
		UpdatedAt:   t.UpdatedAt.UTC(),
	}
	if id, ok := t.Assignee(); ok {
		d.AssignedTo = &id
	}
	return d
}

func (d taskDocument) task() domain.Task {
	t := domain.Task{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		Status:      domain.Status(d.Status),
		Priority:    domain.Priority(d.Priority),
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	if d.AssignedTo != nil {
		v := *d.AssignedTo
		t.AssignedTo = &v
	}
	return t
}

func (s *Mongo) Get(ctx context.Context, id int64) (*domain.Task, error) {
	var doc taskDocument
	err := s.coll.FindOne(ctx, bson.M{"id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t := doc.task()
	return &t, nil
}

func (s *Mongo) List(ctx context.Context) ([]domain.Task, error) {
	cur, err := s.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	tasks := []domain.Task{}
	for cur.Next(ctx) {
		var doc taskDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		tasks = append(tasks, doc.task())
	}
	return tasks, cur.Err()
}

func (s *Mongo) Insert(ctx context.Context, t domain.Task) error {
	_, err := s.coll.InsertOne(ctx, toDocument(t))
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	return err
}

func (s *Mongo) Replace(ctx context.Context, t domain.Task) error {
	res, err := s.coll.ReplaceOne(ctx, bson.M{"id": t.ID}, toDocument(t))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := s.coll.DeleteOne(ctx, bson.M{"id": id})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *Mongo) MaxID(ctx context.Context) (int64, error) {
	var doc taskDocument
	err := s.coll.FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.ID, nil
}
