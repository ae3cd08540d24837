package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrNotFound = errors.New("not found")

// Store wraps the mongo collections behind the operations the rest of the
// service needs. All multi-document writes for one turn go through
// CommitAssistantTurn so they share a transaction.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (*Store) InsertUser(ctx context.Context, u User) error {
	_, err := collection(usersCollection).InsertOne(ctx, u)
	return err
}

func (*Store) UserByUsername(ctx context.Context, username string) (*User, error) {
	return findUser(ctx, bson.M{"username": username})
}

func (*Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	return findUser(ctx, bson.M{"email": email})
}

func findUser(ctx context.Context, filter bson.M) (*User, error) {
	var u User
	err := collection(usersCollection).FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (*Store) CreateConversation(ctx context.Context, c Conversation) error {
	_, err := collection(conversationsCollection).InsertOne(ctx, c)
	return err
}

func (*Store) Conversation(ctx context.Context, id, userId string) (*Conversation, error) {
	var c Conversation
	err := collection(conversationsCollection).
		FindOne(ctx, bson.M{"_id": id, "userId": userId}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (*Store) Conversations(ctx context.Context, userId string) ([]Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	cur, err := collection(conversationsCollection).Find(ctx, bson.M{"userId": userId}, opts)
	if err != nil {
		return nil, err
	}
	var out []Conversation
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConversation removes the conversation and cascades to its messages.
func (*Store) DeleteConversation(ctx context.Context, id, userId string) error {
	res, err := collection(conversationsCollection).DeleteOne(ctx, bson.M{"_id": id, "userId": userId})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	_, err = collection(messagesCollection).DeleteMany(ctx, bson.M{"conversationId": id})
	return err
}

func (*Store) UpdateConversationModel(ctx context.Context, id, userId, modelName string) error {
	res, err := collection(conversationsCollection).UpdateOne(ctx,
		bson.M{"_id": id, "userId": userId},
		bson.M{"$set": bson.M{"modelName": modelName, "updatedAt": nowUTC()}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (*Store) InsertMessage(ctx context.Context, m Message) error {
	if _, err := collection(messagesCollection).InsertOne(ctx, m); err != nil {
		return err
	}
	_, err := collection(conversationsCollection).UpdateOne(ctx,
		bson.M{"_id": m.ConversationId},
		bson.M{"$set": bson.M{"updatedAt": m.Timestamp}})
	return err
}

func (*Store) Messages(ctx context.Context, conversationId string) ([]Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cur, err := collection(messagesCollection).Find(ctx, bson.M{"conversationId": conversationId}, opts)
	if err != nil {
		return nil, err
	}
	var out []Message
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (*Store) CountMessages(ctx context.Context, conversationId string) (int64, error) {
	return collection(messagesCollection).CountDocuments(ctx, bson.M{"conversationId": conversationId})
}

// CommitAssistantTurn inserts the assistant message and, when title is
// non-empty, updates the conversation title in the same transaction. Either
// both writes land or neither does.
func (*Store) CommitAssistantTurn(ctx context.Context, m Message, title string) error {
	sess, err := MgoCli.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := collection(messagesCollection).InsertOne(sc, m); err != nil {
			return nil, err
		}
		update := bson.M{"updatedAt": m.Timestamp}
		if title != "" {
			update["title"] = title
		}
		_, err := collection(conversationsCollection).UpdateOne(sc,
			bson.M{"_id": m.ConversationId}, bson.M{"$set": update})
		return nil, err
	})
	return err
}

// SetMessageAudio attaches an audio reference after the message is already
// committed. Runs outside any transaction on purpose.
func (*Store) SetMessageAudio(ctx context.Context, messageId, audioUrl string) error {
	_, err := collection(messagesCollection).UpdateOne(ctx,
		bson.M{"_id": messageId}, bson.M{"$set": bson.M{"audioUrl": audioUrl}})
	return err
}

func (*Store) InsertFineTune(ctx context.Context, r FineTuneRecord) error {
	_, err := collection(fineTuneCollection).InsertOne(ctx, r)
	return err
}

func (*Store) FineTuneRecords(ctx context.Context) ([]FineTuneRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cur, err := collection(fineTuneCollection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var out []FineTuneRecord
	if err = cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type Stats struct {
	UserCount         int64 `json:"user_count"`
	ConversationCount int64 `json:"conversation_count"`
	MessageCount      int64 `json:"message_count"`
	FineTuneCount     int64 `json:"fine_tune_count"`
}

func (*Store) CollectStats(ctx context.Context) (*Stats, error) {
	var st Stats
	var err error
	if st.UserCount, err = collection(usersCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if st.ConversationCount, err = collection(conversationsCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if st.MessageCount, err = collection(messagesCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	if st.FineTuneCount, err = collection(fineTuneCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return nil, err
	}
	return &st, nil
}
