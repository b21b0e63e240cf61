package mongo

import (
	"context"
	"time"

	"github.com/voicegrid/transched/internal/pkg/persistence"
	"github.com/voicegrid/transched/internal/pkg/status"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Jobs provides job rows access in mongo db
type Jobs struct {
	SessionProvider *SessionProvider
}

// NewJobs creates Jobs instance
func NewJobs(sessionProvider *SessionProvider) (*Jobs, error) {
	if sessionProvider == nil {
		return nil, errors.New("No session provider")
	}
	return &Jobs{SessionProvider: sessionProvider}, nil
}

// Insert saves a new job row
func (js *Jobs) Insert(job *persistence.Job) error {
	ctx, cancel := mongoContext()
	defer cancel()

	session, err := js.SessionProvider.NewSession()
	if err != nil {
		return err
	}
	defer session.EndSession(context.Background())

	c := session.Client().Database(store).Collection(jobTable)
	_, err = c.InsertOne(ctx, job)
	return errors.Wrap(err, "Can't insert job")
}

// Get retrieves a job by ID, returns nil if not found
func (js *Jobs) Get(id string) (*persistence.Job, error) {
	ctx, cancel := mongoContext()
	defer cancel()

	session, err := js.SessionProvider.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(context.Background())

	c := session.Client().Database(store).Collection(jobTable)
	var res persistence.Job
	err = c.FindOne(ctx, bson.M{"ID": id}).Decode(&res)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Can't get job")
	}
	return &res, nil
}

// Update applies patch to a job row, returns false when no row matched
func (js *Jobs) Update(id string, patch map[string]interface{}) (bool, error) {
	return js.update(bson.M{"ID": id}, patch)
}

// UpdateIfStatus applies patch only when the job is currently in the given status.
// Returns false when the job is missing or in another status
func (js *Jobs) UpdateIfStatus(id string, st status.Status, patch map[string]interface{}) (bool, error) {
	return js.update(bson.M{"ID": id, "status": status.Name(st)}, patch)
}

func (js *Jobs) update(filter bson.M, patch map[string]interface{}) (bool, error) {
	ctx, cancel := mongoContext()
	defer cancel()

	session, err := js.SessionProvider.NewSession()
	if err != nil {
		return false, err
	}
	defer session.EndSession(context.Background())

	c := session.Client().Database(store).Collection(jobTable)
	res, err := c.UpdateOne(ctx, filter, bson.M{"$set": patch})
	if err != nil {
		return false, errors.Wrap(err, "Can't update job")
	}
	return res.MatchedCount > 0, nil
}

// CountByStatus returns the number of jobs in the given status
func (js *Jobs) CountByStatus(st status.Status) (int, error) {
	ctx, cancel := mongoContext()
	defer cancel()

	session, err := js.SessionProvider.NewSession()
	if err != nil {
		return 0, err
	}
	defer session.EndSession(context.Background())

	c := session.Client().Database(store).Collection(jobTable)
	n, err := c.CountDocuments(ctx, bson.M{"status": status.Name(st)})
	if err != nil {
		return 0, errors.Wrap(err, "Can't count jobs")
	}
	return int(n), nil
}

// FindByFingerprint returns a job with the fingerprint in the given status, nil if none
func (js *Jobs) FindByFingerprint(fingerprint string, st status.Status) (*persistence.Job, error) {
	return js.findOne(bson.M{"fingerprint": fingerprint, "status": status.Name(st)},
		bson.D{{Key: "createdAt", Value: 1}})
}

// OldestByStatus returns the earliest created job in the given status, nil if none
func (js *Jobs) OldestByStatus(st status.Status) (*persistence.Job, error) {
	return js.findOne(bson.M{"status": status.Name(st)}, bson.D{{Key: "createdAt", Value: 1}})
}

// StaleProcessing returns the processing job with the oldest lastSeen before the limit, nil if none
func (js *Jobs) StaleProcessing(olderThan time.Time) (*persistence.Job, error) {
	return js.findOne(bson.M{"status": status.Name(status.Processing),
		"lastSeen": bson.M{"$lt": olderThan}}, bson.D{{Key: "lastSeen", Value: 1}})
}

func (js *Jobs) findOne(filter bson.M, sort bson.D) (*persistence.Job, error) {
	jobs, err := js.find(filter, sort, 1)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

// RecentCompleted returns up to limit last completed jobs, newest first
func (js *Jobs) RecentCompleted(limit int) ([]persistence.Job, error) {
	return js.find(bson.M{"status": status.Name(status.Completed)},
		bson.D{{Key: "completedAt", Value: -1}}, limit)
}

// ListByOwner returns jobs of an owner or jobs matching an access token
func (js *Jobs) ListByOwner(ownerOrToken string, limit int) ([]persistence.Job, error) {
	return js.find(bson.M{"$or": []bson.M{{"ownerID": ownerOrToken},
		{"accessToken": ownerOrToken}}}, bson.D{{Key: "createdAt", Value: -1}}, limit)
}

func (js *Jobs) find(filter bson.M, sort bson.D, limit int) ([]persistence.Job, error) {
	ctx, cancel := mongoContext()
	defer cancel()

	session, err := js.SessionProvider.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.EndSession(context.Background())

	c := session.Client().Database(store).Collection(jobTable)
	opts := mongoOptions(sort, limit)
	cursor, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "Can't select jobs")
	}
	defer cursor.Close(ctx)
	var res []persistence.Job
	if err = cursor.All(ctx, &res); err != nil {
		return nil, errors.Wrap(err, "Can't read jobs")
	}
	return res, nil
}

func mongoOptions(sort bson.D, limit int) *options.FindOptions {
	opts := options.Find().SetSort(sort)
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	return opts
}
