package repository

import (
	"context"
	"errors"
	"time"

	"civicsync-dispatch/models"
	"civicsync-dispatch/services/duplicate"

	"github.com/m-mizutani/goerr/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collIssues      = "issues"
	collCrews       = "crews"
	collAssignments = "assignments"
	collScores      = "priority_scores"
	collUpvotes     = "upvotes"
	collUsers       = "users"
)

// Mongo is the MongoDB Repository. Transactions need a replica set.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongo(client *mongo.Client, db *mongo.Database) *Mongo {
	return &Mongo{client: client, db: db}
}

func (m *Mongo) coll(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// EnsureIndexes creates the indexes the queries and uniqueness rules rely on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexes := map[string][]mongo.IndexModel{
		collIssues: {
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "isDuplicate", Value: 1}, {Key: "reportedAt", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priorityScore", Value: -1}}},
		},
		collCrews: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "department", Value: 1}}},
		},
		collAssignments: {
			// at most one active assignment per issue
			{
				Keys: bson.D{{Key: "issue", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"completed": false}),
			},
			{Keys: bson.D{{Key: "crew", Value: 1}, {Key: "completed", Value: 1}}},
		},
		collUpvotes: {
			{Keys: bson.D{{Key: "issue", Value: 1}, {Key: "user", Value: 1}}},
		},
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for name, idx := range indexes {
		if _, err := m.coll(name).Indexes().CreateMany(ctx, idx); err != nil {
			return goerr.Wrap(err, "failed to create indexes", goerr.V("collection", name))
		}
	}
	return nil
}

func (m *Mongo) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx, m)
	}

	sess, err := m.client.StartSession()
	if err != nil {
		return goerr.Wrap(err, "failed to start session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, m)
	})
	return err
}

func (m *Mongo) findOne(ctx context.Context, coll string, filter bson.M, out interface{}, what string) error {
	err := m.coll(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return goerr.Wrap(ErrNotFound, what+" not found", goerr.V("filter", filter))
	}
	if err != nil {
		return goerr.Wrap(err, "failed to load "+what, goerr.V("filter", filter))
	}
	return nil
}

func (m *Mongo) insert(ctx context.Context, coll string, doc interface{}, what string) error {
	_, err := m.coll(coll).InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return goerr.Wrap(ErrDuplicateKey, what+" already exists")
	}
	if err != nil {
		return goerr.Wrap(err, "failed to insert "+what)
	}
	return nil
}

// replaceVersioned overwrites the document only if its stored version is
// still expected.
func (m *Mongo) replaceVersioned(ctx context.Context, coll string, id primitive.ObjectID, expected int64, doc interface{}, what string) error {
	res, err := m.coll(coll).ReplaceOne(ctx, bson.M{"_id": id, "version": expected}, doc)
	if err != nil {
		return goerr.Wrap(err, "failed to update "+what, goerr.V("id", id.Hex()))
	}
	if res.MatchedCount == 1 {
		return nil
	}

	n, err := m.coll(coll).CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return goerr.Wrap(err, "failed to check "+what, goerr.V("id", id.Hex()))
	}
	if n == 0 {
		return goerr.Wrap(ErrNotFound, what+" not found", goerr.V("id", id.Hex()))
	}
	return goerr.Wrap(ErrConflict, what+" was modified", goerr.V("id", id.Hex()), goerr.V("expected_version", expected))
}

// Issues

func issueQuery(f IssueFilter) bson.M {
	q := bson.M{}
	if f.Category != "" {
		q["category"] = f.Category
	}
	status := bson.M{}
	if len(f.Statuses) > 0 {
		status["$in"] = f.Statuses
	}
	if len(f.ExcludeStatuses) > 0 {
		status["$nin"] = f.ExcludeStatuses
	}
	if len(status) > 0 {
		q["status"] = status
	}
	if f.Duplicate != nil {
		q["isDuplicate"] = *f.Duplicate
	}
	if f.MinPriority != nil {
		q["priorityScore"] = bson.M{"$gte": *f.MinPriority}
	}
	reported := bson.M{}
	if !f.Since.IsZero() {
		reported["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		reported["$lte"] = f.Until
	}
	if len(reported) > 0 {
		q["reportedAt"] = reported
	}
	return q
}

func (m *Mongo) GetIssue(ctx context.Context, id primitive.ObjectID) (*models.Issue, error) {
	var issue models.Issue
	if err := m.findOne(ctx, collIssues, bson.M{"_id": id}, &issue, "issue"); err != nil {
		return nil, err
	}
	return &issue, nil
}

func (m *Mongo) ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, error) {
	sortBy := bson.D{{Key: "reportedAt", Value: -1}, {Key: "_id", Value: 1}}
	if f.Sort == SortPriority {
		sortBy = bson.D{{Key: "priorityScore", Value: -1}, {Key: "reportedAt", Value: -1}, {Key: "_id", Value: 1}}
	}
	opts := options.Find().SetSort(sortBy)
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cursor, err := m.coll(collIssues).Find(ctx, issueQuery(f), opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query issues")
	}
	defer cursor.Close(ctx)

	issues := []models.Issue{}
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, goerr.Wrap(err, "failed to decode issues")
	}
	return issues, nil
}

func (m *Mongo) CountIssues(ctx context.Context, f IssueFilter) (int64, error) {
	n, err := m.coll(collIssues).CountDocuments(ctx, issueQuery(f))
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count issues")
	}
	return n, nil
}

func (m *Mongo) DuplicateCandidates(ctx context.Context, q duplicate.Candidates) ([]models.Issue, error) {
	filter := bson.M{
		"category":    q.Category,
		"isDuplicate": false,
		"imageHash":   bson.M{"$exists": true, "$ne": ""},
		"reportedAt":  bson.M{"$gte": q.Since},
	}
	cursor, err := m.coll(collIssues).Find(ctx, filter)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query duplicate candidates", goerr.V("category", q.Category))
	}
	defer cursor.Close(ctx)

	var issues []models.Issue
	if err := cursor.All(ctx, &issues); err != nil {
		return nil, goerr.Wrap(err, "failed to decode duplicate candidates")
	}
	return issues, nil
}

func (m *Mongo) InsertIssue(ctx context.Context, issue *models.Issue) error {
	if issue.ID.IsZero() {
		issue.ID = primitive.NewObjectID()
	}
	issue.Version = 1
	return m.insert(ctx, collIssues, issue, "issue")
}

func (m *Mongo) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	expected := issue.Version
	next := *issue
	next.Version = expected + 1
	if err := m.replaceVersioned(ctx, collIssues, issue.ID, expected, &next, "issue"); err != nil {
		return err
	}
	issue.Version = next.Version
	return nil
}

// Crews

func (m *Mongo) GetCrew(ctx context.Context, id primitive.ObjectID) (*models.Crew, error) {
	var crew models.Crew
	if err := m.findOne(ctx, collCrews, bson.M{"_id": id}, &crew, "crew"); err != nil {
		return nil, err
	}
	return &crew, nil
}

func (m *Mongo) ListCrews(ctx context.Context, f CrewFilter) ([]models.Crew, error) {
	q := bson.M{}
	if f.Status != "" {
		q["status"] = f.Status
	}
	if f.Department != "" {
		q["department"] = f.Department
	}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.coll(collCrews).Find(ctx, q, opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query crews")
	}
	defer cursor.Close(ctx)

	crews := []models.Crew{}
	if err := cursor.All(ctx, &crews); err != nil {
		return nil, goerr.Wrap(err, "failed to decode crews")
	}
	return crews, nil
}

func (m *Mongo) InsertCrew(ctx context.Context, crew *models.Crew) error {
	if crew.ID.IsZero() {
		crew.ID = primitive.NewObjectID()
	}
	crew.Version = 1
	return m.insert(ctx, collCrews, crew, "crew")
}

func (m *Mongo) UpdateCrew(ctx context.Context, crew *models.Crew) error {
	expected := crew.Version
	next := *crew
	next.Version = expected + 1
	if err := m.replaceVersioned(ctx, collCrews, crew.ID, expected, &next, "crew"); err != nil {
		return err
	}
	crew.Version = next.Version
	return nil
}

// Assignments

func (m *Mongo) GetAssignment(ctx context.Context, id primitive.ObjectID) (*models.Assignment, error) {
	var a models.Assignment
	if err := m.findOne(ctx, collAssignments, bson.M{"_id": id}, &a, "assignment"); err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *Mongo) ActiveAssignment(ctx context.Context, issueID primitive.ObjectID) (*models.Assignment, error) {
	var a models.Assignment
	if err := m.findOne(ctx, collAssignments, bson.M{"issue": issueID, "completed": false}, &a, "active assignment"); err != nil {
		return nil, err
	}
	return &a, nil
}

func (m *Mongo) ListAssignments(ctx context.Context, f AssignmentFilter) ([]models.Assignment, error) {
	q := bson.M{}
	if f.Crew != nil {
		q["crew"] = *f.Crew
	}
	if f.ActiveOnly {
		q["completed"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "assignedAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := m.coll(collAssignments).Find(ctx, q, opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query assignments")
	}
	defer cursor.Close(ctx)

	out := []models.Assignment{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to decode assignments")
	}
	return out, nil
}

func (m *Mongo) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	return m.insert(ctx, collAssignments, a, "assignment")
}

func (m *Mongo) UpdateAssignment(ctx context.Context, a *models.Assignment) error {
	res, err := m.coll(collAssignments).ReplaceOne(ctx, bson.M{"_id": a.ID}, a)
	if err != nil {
		return goerr.Wrap(err, "failed to update assignment", goerr.V("assignment_id", a.ID.Hex()))
	}
	if res.MatchedCount == 0 {
		return goerr.Wrap(ErrNotFound, "assignment not found", goerr.V("assignment_id", a.ID.Hex()))
	}
	return nil
}

// Priority scores

func (m *Mongo) GetPriorityScore(ctx context.Context, issueID primitive.ObjectID) (*models.PriorityScore, error) {
	var s models.PriorityScore
	if err := m.findOne(ctx, collScores, bson.M{"_id": issueID}, &s, "priority score"); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Mongo) UpsertPriorityScore(ctx context.Context, score *models.PriorityScore) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := m.coll(collScores).ReplaceOne(ctx, bson.M{"_id": score.Issue}, score, opts); err != nil {
		return goerr.Wrap(err, "failed to upsert priority score", goerr.V("issue_id", score.Issue.Hex()))
	}
	return nil
}

// Upvotes

func (m *Mongo) InsertUpvote(ctx context.Context, u *models.Upvote) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	return m.insert(ctx, collUpvotes, u, "upvote")
}

func (m *Mongo) CountUpvotes(ctx context.Context, issueID primitive.ObjectID) (int64, error) {
	n, err := m.coll(collUpvotes).CountDocuments(ctx, bson.M{"issue": issueID})
	if err != nil {
		return 0, goerr.Wrap(err, "failed to count upvotes", goerr.V("issue_id", issueID.Hex()))
	}
	return n, nil
}

func (m *Mongo) ListUpvotes(ctx context.Context, issueID primitive.ObjectID) ([]models.Upvote, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.coll(collUpvotes).Find(ctx, bson.M{"issue": issueID}, opts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query upvotes", goerr.V("issue_id", issueID.Hex()))
	}
	defer cursor.Close(ctx)

	upvotes := []models.Upvote{}
	if err := cursor.All(ctx, &upvotes); err != nil {
		return nil, goerr.Wrap(err, "failed to decode upvotes", goerr.V("issue_id", issueID.Hex()))
	}
	return upvotes, nil
}

// Users

func (m *Mongo) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := m.findOne(ctx, collUsers, bson.M{"_id": id}, &u, "user"); err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := m.findOne(ctx, collUsers, bson.M{"email": email}, &u, "user"); err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) InsertUser(ctx context.Context, u *models.User) error {
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	return m.insert(ctx, collUsers, u, "user")
}
