package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

var MongoURI = "mongodb://localhost:27017"

var DatabaseName = "chatbot"

var MgoCli *mongo.Client

const connectTimeout = time.Second * 10

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	fineTuneCollection      = "finetune"
)

func Init() {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(MongoURI))
	if err != nil {
		zap.S().Fatalw("connect mongo", "uri", MongoURI, "err", err)
	}
	if err = cli.Ping(ctx, readpref.Primary()); err != nil {
		zap.S().Fatalw("ping mongo", "uri", MongoURI, "err", err)
	}
	MgoCli = cli
}

func collection(name string) *mongo.Collection {
	return MgoCli.Database(DatabaseName).Collection(name)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
