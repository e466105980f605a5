package db

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// testDatabase connects to MONGO_URI and returns a freshly dropped database,
// skipping the test when Mongo is unreachable.
func testDatabase(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to create client: %v, skipping integration test", err)
	}
	database := client.Database("test_fleet_maintenance")
	_ = database.Drop(context.Background())
	t.Cleanup(func() {
		_ = database.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return client, database
}

// requireReplicaSet skips tests that need multi-document transactions when
// the server is a standalone mongod.
func requireReplicaSet(t *testing.T, client *mongo.Client) {
	t.Helper()
	var hello struct {
		SetName string `bson:"setName"`
		Msg     string `bson:"msg"`
	}
	err := client.Database("admin").RunCommand(context.Background(), bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
	if err != nil {
		t.Skipf("hello failed: %v, skipping transaction test", err)
	}
	if hello.SetName == "" && hello.Msg != "isdbgrid" {
		t.Skip("transactions need a replica set or mongos, skipping")
	}
}
