package store

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// leafCollection holds the tree, one document per leaf.
const leafCollection = "tree_leaves"

type mongoLeaf struct {
	Path  string `bson:"_id"`
	Value string `bson:"v"`
}

// NewMongo stores the tree in a collection of database. Writes run inside
// multi-document transactions, so the deployment must be a replica set;
// WithTransaction re-runs a transaction that hit a write conflict.
func NewMongo(database *mongo.Database, opts Options) *LeafStore {
	return newLeafStore(&mongoEngine{
		client: database.Client(),
		coll:   database.Collection(leafCollection),
	}, opts)
}

type mongoEngine struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func (e *mongoEngine) read(ctx context.Context, fn func(leafTx) error) error {
	return fn(&mongoTx{ctx: ctx, coll: e.coll})
}

func (e *mongoEngine) write(ctx context.Context, fn func(leafTx) error) error {
	sess, err := e.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(&mongoTx{ctx: sc, coll: e.coll})
	})
	return err
}

// close leaves the client open; it belongs to the caller.
func (e *mongoEngine) close() error {
	return nil
}

type mongoTx struct {
	ctx  context.Context
	coll *mongo.Collection
}

func subtreeFilter(p string) bson.M {
	if p == "" {
		return bson.M{}
	}
	lo, hi := subtreeRange(p)
	return bson.M{"$or": bson.A{
		bson.M{"_id": p},
		bson.M{"_id": bson.M{"$gte": lo, "$lt": hi}},
	}}
}

func (t *mongoTx) scan(p string) ([]leaf, error) {
	cur, err := t.coll.Find(t.ctx, subtreeFilter(p), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(t.ctx)

	var docs []mongoLeaf
	if err := cur.All(t.ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]leaf, len(docs))
	for i, d := range docs {
		out[i] = leaf{path: d.Path, raw: []byte(d.Value)}
	}
	return out, nil
}

func (t *mongoTx) replace(p string, leaves []leaf) error {
	exact := append(ancestors(p), p)
	if _, err := t.coll.DeleteMany(t.ctx, bson.M{"_id": bson.M{"$in": exact}}); err != nil {
		return err
	}
	lo, hi := subtreeRange(p)
	if _, err := t.coll.DeleteMany(t.ctx, bson.M{"_id": bson.M{"$gte": lo, "$lt": hi}}); err != nil {
		return err
	}
	if len(leaves) == 0 {
		return nil
	}
	docs := make([]interface{}, len(leaves))
	for i, l := range leaves {
		docs[i] = mongoLeaf{Path: l.path, Value: string(l.raw)}
	}
	_, err := t.coll.InsertMany(t.ctx, docs)
	return err
}
