// Package mongodb provides the MongoDB docdb implementation.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leylinehq/session-service/internal/core/docdb"
)

// Collection names.
const (
	RealmsCollection        = "Realms"
	SessionsCollection      = "Sessions"
	ServiceConfigCollection = "ServiceConfig"
)

// Client implements the docdb.Client interface for MongoDB.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
}

// ClientConfig holds MongoDB connection configuration.
type ClientConfig struct {
	URI          string
	DatabaseName string
}

// NewClient creates a new MongoDB client.
func NewClient(ctx context.Context, config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.URI == "" {
		return nil, fmt.Errorf("mongodb URI is required")
	}
	if config.DatabaseName == "" {
		return nil, fmt.Errorf("database name is required")
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return &Client{
		client:   client,
		database: client.Database(config.DatabaseName),
	}, nil
}

// Realms returns the realms collection.
func (c *Client) Realms() docdb.Collection {
	return NewCollection(c.database.Collection(RealmsCollection))
}

// Sessions returns the sessions collection.
func (c *Client) Sessions() docdb.Collection {
	return NewCollection(c.database.Collection(SessionsCollection))
}

// ServiceConfig returns the service configuration collection.
func (c *Client) ServiceConfig() docdb.Collection {
	return NewCollection(c.database.Collection(ServiceConfigCollection))
}

// Ping verifies the connection to MongoDB.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes session queries rely on: realm-scoped
// lookup and the creation-time pagination order.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	sessions := c.database.Collection(SessionsCollection)
	_, err := sessions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "realmId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure sessions indexes: %w", err)
	}

	realms := c.database.Collection(RealmsCollection)
	_, err = realms.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to ensure realms indexes: %w", err)
	}

	return nil
}
