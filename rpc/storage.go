package rpc

import (
	"context"

	"chatbot/chat"
	"chatbot/db"
)

// Storage is everything the HTTP layer needs from the persistence layer.
// *db.Store satisfies it; tests plug in an in-memory fake.
type Storage interface {
	chat.Store

	InsertUser(ctx context.Context, u db.User) error
	UserByUsername(ctx context.Context, username string) (*db.User, error)
	UserByEmail(ctx context.Context, email string) (*db.User, error)

	CreateConversation(ctx context.Context, c db.Conversation) error
	Conversations(ctx context.Context, userId string) ([]db.Conversation, error)
	Conversation(ctx context.Context, id, userId string) (*db.Conversation, error)
	DeleteConversation(ctx context.Context, id, userId string) error
	UpdateConversationModel(ctx context.Context, id, userId, modelName string) error
	CountMessages(ctx context.Context, conversationId string) (int64, error)

	FineTuneRecords(ctx context.Context) ([]db.FineTuneRecord, error)
	CollectStats(ctx context.Context) (*db.Stats, error)
}
