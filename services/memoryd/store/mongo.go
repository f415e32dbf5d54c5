// Copyright (C) 2026 OpenClaw
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/openclaw/memoryd/services/memoryd/datatypes"
)

// Mongo is the production Store backed by a MongoDB database. Every write
// targets a single document, so the implementation never needs transactions.
type Mongo struct {
	client   *mongo.Client
	db       *mongo.Database
	memories *mongo.Collection
	entities *mongo.Collection
	episodes *mongo.Collection
	edges    *mongo.Collection
	jobs     *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// # Description
//
//	NewMongo connects to the given MongoDB URI, verifies the connection with a
//	ping, and ensures the daemon's indexes exist.
//
// # Inputs
//   - ctx: bounds the connect, ping, and index builds
//   - uri: mongodb:// connection string
//   - dbName: database to use
//
// # Outputs
//   - *Mongo: ready store
//   - error: datatypes.ErrStoreUnavailable when the server is unreachable
func NewMongo(ctx context.Context, uri, dbName string) (*Mongo, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, storeErr("connect", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, storeErr("ping", err)
	}
	db := client.Database(dbName)
	s := &Mongo{
		client:   client,
		db:       db,
		memories: db.Collection(CollectionMemories),
		entities: db.Collection(CollectionEntities),
		episodes: db.Collection(CollectionEpisodes),
		edges:    db.Collection(CollectionPendingEdges),
		jobs:     db.Collection(CollectionJobs),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.memories, []mongo.IndexModel{
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "tags", Value: 1}}},
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "text", Value: 1}}},
		}},
		{s.entities, []mongo.IndexModel{
			{
				Keys:    bson.D{{Key: "agentId", Value: 1}, {Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		}},
		{s.episodes, []mongo.IndexModel{
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{s.edges, []mongo.IndexModel{
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "probability", Value: -1}}},
			{Keys: bson.D{{Key: "sourceId", Value: 1}}},
			{Keys: bson.D{{Key: "targetId", Value: 1}}},
		}},
		{s.jobs, []mongo.IndexModel{
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
			{Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return storeErr("create indexes", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memories
// -----------------------------------------------------------------------------

func (s *Mongo) InsertMemory(ctx context.Context, m *datatypes.Memory) (string, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if _, err := s.memories.InsertOne(ctx, m); err != nil {
		return "", storeErr("insert memory", err)
	}
	return m.ID, nil
}

func (s *Mongo) GetMemory(ctx context.Context, id string) (*datatypes.Memory, error) {
	var m datatypes.Memory
	err := s.memories.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		return nil, storeErr("get memory", err)
	}
	return &m, nil
}

func (s *Mongo) UpdateMemory(ctx context.Context, id string, u Update) error {
	res, err := s.memories.UpdateOne(ctx, bson.M{"_id": id}, updateToBSON(u))
	if err != nil {
		return storeErr("update memory", err)
	}
	if res.MatchedCount == 0 {
		return datatypes.ErrNotFound
	}
	return nil
}

func (s *Mongo) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.memories.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr("delete memory", err)
	}
	if res.DeletedCount == 0 {
		return datatypes.ErrNotFound
	}
	return nil
}

func (s *Mongo) DeleteMemories(ctx context.Context, f MemoryFilter) (int64, error) {
	res, err := s.memories.DeleteMany(ctx, memoryFilterToBSON(f))
	if err != nil {
		return 0, storeErr("delete memories", err)
	}
	return res.DeletedCount, nil
}

func (s *Mongo) ListMemories(ctx context.Context, f MemoryFilter, limit int) ([]datatypes.Memory, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.memories.Find(ctx, memoryFilterToBSON(f), opts)
	if err != nil {
		return nil, storeErr("list memories", err)
	}
	var out []datatypes.Memory
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("list memories", err)
	}
	return out, nil
}

func (s *Mongo) CountMemories(ctx context.Context, f MemoryFilter) (int64, error) {
	n, err := s.memories.CountDocuments(ctx, memoryFilterToBSON(f))
	if err != nil {
		return 0, storeErr("count memories", err)
	}
	return n, nil
}

func (s *Mongo) ForEachMemoryBatch(ctx context.Context, agentID string, batchSize int, fn func([]datatypes.Memory) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	filter := bson.M{}
	if agentID != "" {
		filter["agentId"] = agentID
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetBatchSize(int32(batchSize))
	cur, err := s.memories.Find(ctx, filter, opts)
	if err != nil {
		return storeErr("iterate memories", err)
	}
	defer cur.Close(ctx)

	batch := make([]datatypes.Memory, 0, batchSize)
	for cur.Next(ctx) {
		var m datatypes.Memory
		if err := cur.Decode(&m); err != nil {
			return storeErr("decode memory", err)
		}
		batch = append(batch, m)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := cur.Err(); err != nil {
		return storeErr("iterate memories", err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func (s *Mongo) BulkUpdateMemories(ctx context.Context, updates []MemoryUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, up := range updates {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": up.ID}).
			SetUpdate(updateToBSON(up.Update)))
	}
	opts := options.BulkWrite().SetOrdered(false)
	if _, err := s.memories.BulkWrite(ctx, models, opts); err != nil {
		return storeErr("bulk update memories", err)
	}
	return nil
}

// SearchByEmbedding scans the agent's memories and ranks them by cosine
// similarity in process. Collections stay small enough per agent that a
// dedicated vector index is not worth its operational cost here.
func (s *Mongo) SearchByEmbedding(ctx context.Context, agentID string, vector []float32, limit int, tags []string) ([]ScoredMemory, error) {
	filter := bson.M{"agentId": agentID}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$in": tags}
	}
	cur, err := s.memories.Find(ctx, filter)
	if err != nil {
		return nil, storeErr("search memories", err)
	}
	defer cur.Close(ctx)

	var hits []ScoredMemory
	for cur.Next(ctx) {
		var m datatypes.Memory
		if err := cur.Decode(&m); err != nil {
			return nil, storeErr("decode memory", err)
		}
		score, err := cosineSim(vector, m.Embedding)
		if err != nil {
			return nil, err
		}
		hits = append(hits, ScoredMemory{Memory: m, Score: score})
	}
	if err := cur.Err(); err != nil {
		return nil, storeErr("search memories", err)
	}
	sortScored(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Mongo) DuplicateTextGroups(ctx context.Context, agentID string) ([]DuplicateGroup, error) {
	match := bson.M{}
	if agentID != "" {
		match["agentId"] = agentID
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{
			"_id":   bson.M{"agentId": "$agentId", "text": "$text"},
			"ids":   bson.M{"$push": "$_id"},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$match", Value: bson.M{"count": bson.M{"$gt": 1}}}},
	}
	cur, err := s.memories.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, storeErr("duplicate groups", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Key struct {
			AgentID string `bson:"agentId"`
			Text    string `bson:"text"`
		} `bson:"_id"`
		IDs []string `bson:"ids"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, storeErr("duplicate groups", err)
	}
	out := make([]DuplicateGroup, 0, len(rows))
	for _, r := range rows {
		out = append(out, DuplicateGroup{AgentID: r.Key.AgentID, Text: r.Key.Text, IDs: r.IDs})
	}
	return out, nil
}

func (s *Mongo) ListAgentIDs(ctx context.Context) ([]string, error) {
	raw, err := s.memories.Distinct(ctx, "agentId", bson.M{})
	if err != nil {
		return nil, storeErr("distinct agents", err)
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Entities
// -----------------------------------------------------------------------------

func (s *Mongo) UpsertEntity(ctx context.Context, agentID, slug string, u Update) error {
	if u.SetOnInsert == nil {
		u.SetOnInsert = map[string]any{}
	}
	u.SetOnInsert["_id"] = uuid.NewString()
	u.SetOnInsert["agentId"] = agentID
	u.SetOnInsert["slug"] = slug
	filter := bson.M{"agentId": agentID, "slug": slug}
	opts := options.Update().SetUpsert(true)
	if _, err := s.entities.UpdateOne(ctx, filter, updateToBSON(u), opts); err != nil {
		return storeErr("upsert entity", err)
	}
	return nil
}

func (s *Mongo) GetEntity(ctx context.Context, agentID, slug string) (*datatypes.Entity, error) {
	var e datatypes.Entity
	err := s.entities.FindOne(ctx, bson.M{"agentId": agentID, "slug": slug}).Decode(&e)
	if err != nil {
		return nil, storeErr("get entity", err)
	}
	return &e, nil
}

func (s *Mongo) ListEntities(ctx context.Context, agentID string, opts EntityListOptions) ([]datatypes.Entity, int64, error) {
	filter := bson.M{"agentId": agentID}
	if opts.Type != "" {
		filter["entityType"] = opts.Type
	}
	total, err := s.entities.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, storeErr("count entities", err)
	}
	sortDoc := bson.D{{Key: "memoryCount", Value: -1}}
	switch opts.SortBy {
	case "lastSeenAt":
		sortDoc = bson.D{{Key: "lastSeenAt", Value: -1}}
	case "name":
		sortDoc = bson.D{{Key: "name", Value: 1}}
	}
	findOpts := options.Find().SetSort(sortDoc)
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	cur, err := s.entities.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, 0, storeErr("list entities", err)
	}
	var out []datatypes.Entity
	if err := cur.All(ctx, &out); err != nil {
		return nil, 0, storeErr("list entities", err)
	}
	return out, total, nil
}

func (s *Mongo) SearchEntities(ctx context.Context, agentID, query string, limit int) ([]datatypes.Entity, error) {
	rx := bson.M{"$regex": query, "$options": "i"}
	filter := bson.M{
		"agentId": agentID,
		"$or": bson.A{
			bson.M{"slug": rx},
			bson.M{"name": rx},
			bson.M{"aliases": rx},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "memoryCount", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.entities.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("search entities", err)
	}
	var out []datatypes.Entity
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("search entities", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Episodes
// -----------------------------------------------------------------------------

func (s *Mongo) InsertEpisode(ctx context.Context, e *datatypes.Episode) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if _, err := s.episodes.InsertOne(ctx, e); err != nil {
		return "", storeErr("insert episode", err)
	}
	return e.ID, nil
}

func (s *Mongo) ListEpisodes(ctx context.Context, agentID string, limit int) ([]datatypes.Episode, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.episodes.Find(ctx, bson.M{"agentId": agentID}, opts)
	if err != nil {
		return nil, storeErr("list episodes", err)
	}
	var out []datatypes.Episode
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("list episodes", err)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Pending edges
// -----------------------------------------------------------------------------

func (s *Mongo) InsertPendingEdge(ctx context.Context, p *datatypes.PendingEdge) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, err := s.edges.InsertOne(ctx, p); err != nil {
		return "", storeErr("insert pending edge", err)
	}
	return p.ID, nil
}

func (s *Mongo) ListPendingEdges(ctx context.Context, agentID string, minProbability float64, limit int) ([]datatypes.PendingEdge, error) {
	filter := bson.M{}
	if agentID != "" {
		filter["agentId"] = agentID
	}
	if minProbability > 0 {
		filter["probability"] = bson.M{"$gte": minProbability}
	}
	opts := options.Find().SetSort(bson.D{{Key: "probability", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.edges.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("list pending edges", err)
	}
	var out []datatypes.PendingEdge
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("list pending edges", err)
	}
	return out, nil
}

func (s *Mongo) DeletePendingEdge(ctx context.Context, id string) error {
	res, err := s.edges.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return storeErr("delete pending edge", err)
	}
	if res.DeletedCount == 0 {
		return datatypes.ErrNotFound
	}
	return nil
}

func (s *Mongo) DeletePendingEdgesByMemory(ctx context.Context, memoryID string) (int64, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"sourceId": memoryID},
		bson.M{"targetId": memoryID},
	}}
	res, err := s.edges.DeleteMany(ctx, filter)
	if err != nil {
		return 0, storeErr("delete pending edges", err)
	}
	return res.DeletedCount, nil
}

// -----------------------------------------------------------------------------
// Reflection jobs
// -----------------------------------------------------------------------------

func (s *Mongo) InsertJob(ctx context.Context, j *datatypes.ReflectionJob) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if _, err := s.jobs.InsertOne(ctx, j); err != nil {
		return "", storeErr("insert job", err)
	}
	return j.ID, nil
}

func (s *Mongo) GetJob(ctx context.Context, id string) (*datatypes.ReflectionJob, error) {
	var j datatypes.ReflectionJob
	err := s.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&j)
	if err != nil {
		return nil, storeErr("get job", err)
	}
	return &j, nil
}

func (s *Mongo) UpdateJob(ctx context.Context, id string, u Update) error {
	res, err := s.jobs.UpdateOne(ctx, bson.M{"_id": id}, updateToBSON(u))
	if err != nil {
		return storeErr("update job", err)
	}
	if res.MatchedCount == 0 {
		return datatypes.ErrNotFound
	}
	return nil
}

func (s *Mongo) ClaimJob(ctx context.Context, id string) (bool, error) {
	filter := bson.M{"_id": id, "status": datatypes.JobPending}
	update := bson.M{"$set": bson.M{
		"status":    datatypes.JobRunning,
		"startedAt": time.Now().UTC(),
	}}
	res, err := s.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, storeErr("claim job", err)
	}
	return res.ModifiedCount > 0, nil
}

// UpsertStageResult replaces the matching stages entry through the positional
// operator and falls back to a $push when no entry matched. Both branches are
// single atomic document updates, so concurrent recorders cannot interleave
// into two entries for one stage.
func (s *Mongo) UpsertStageResult(ctx context.Context, jobID string, res datatypes.StageResult) error {
	filter := bson.M{"_id": jobID, "stages.stage": res.Stage}
	update := bson.M{"$set": bson.M{"stages.$": res}}
	upd, err := s.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return storeErr("upsert stage result", err)
	}
	if upd.MatchedCount > 0 {
		return nil
	}
	push, err := s.jobs.UpdateOne(ctx, bson.M{"_id": jobID}, bson.M{"$push": bson.M{"stages": res}})
	if err != nil {
		return storeErr("upsert stage result", err)
	}
	if push.MatchedCount == 0 {
		return datatypes.ErrNotFound
	}
	return nil
}

func (s *Mongo) ListJobs(ctx context.Context, agentID string, limit int) ([]datatypes.ReflectionJob, error) {
	filter := bson.M{}
	if agentID != "" {
		filter["agentId"] = agentID
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.jobs.Find(ctx, filter, opts)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	var out []datatypes.ReflectionJob
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("list jobs", err)
	}
	return out, nil
}

func (s *Mongo) ListPendingJobs(ctx context.Context, limit int) ([]datatypes.ReflectionJob, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.jobs.Find(ctx, bson.M{"status": datatypes.JobPending}, opts)
	if err != nil {
		return nil, storeErr("list pending jobs", err)
	}
	var out []datatypes.ReflectionJob
	if err := cur.All(ctx, &out); err != nil {
		return nil, storeErr("list pending jobs", err)
	}
	return out, nil
}

func (s *Mongo) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := bson.M{
		"status":      bson.M{"$in": bson.A{datatypes.JobComplete, datatypes.JobFailed}},
		"completedAt": bson.M{"$lt": cutoff},
	}
	res, err := s.jobs.DeleteMany(ctx, filter)
	if err != nil {
		return 0, storeErr("cleanup jobs", err)
	}
	return res.DeletedCount, nil
}

func (s *Mongo) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

func (s *Mongo) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return storeErr("disconnect", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Conversions
// -----------------------------------------------------------------------------

func updateToBSON(u Update) bson.M {
	out := bson.M{}
	if len(u.Set) > 0 {
		out["$set"] = bson.M(u.Set)
	}
	if len(u.Push) > 0 {
		out["$push"] = bson.M(u.Push)
	}
	if len(u.Inc) > 0 {
		out["$inc"] = bson.M(u.Inc)
	}
	if len(u.AddToSet) > 0 {
		out["$addToSet"] = bson.M(u.AddToSet)
	}
	if len(u.SetOnInsert) > 0 {
		out["$setOnInsert"] = bson.M(u.SetOnInsert)
	}
	return out
}

func memoryFilterToBSON(f MemoryFilter) bson.M {
	out := bson.M{}
	if f.AgentID != "" {
		out["agentId"] = f.AgentID
	}
	if len(f.IDs) > 0 {
		out["_id"] = bson.M{"$in": f.IDs}
	}
	if f.Text != "" {
		out["text"] = f.Text
	}
	if len(f.Tags) > 0 {
		out["tags"] = bson.M{"$in": f.Tags}
	}
	if f.CreatedBefore != nil {
		out["createdAt"] = bson.M{"$lt": *f.CreatedBefore}
	}
	return out
}

// storeErr maps driver errors onto the daemon's taxonomy.
func storeErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return datatypes.ErrNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, datatypes.ErrTimeout)
	default:
		return fmt.Errorf("%s: %v: %w", op, err, datatypes.ErrStoreUnavailable)
	}
}
