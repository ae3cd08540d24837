package db

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	DefaultTitle = "New Conversation"
	DefaultModel = "qwen3:latest"
)

type User struct {
	Id           string    `json:"id" bson:"_id"`
	Username     string    `json:"username" bson:"username"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	CreatedAt    time.Time `json:"created_at" bson:"createdAt"`
}

type Conversation struct {
	Id        string    `json:"id" bson:"_id"`
	UserId    string    `json:"user_id" bson:"userId"`
	Title     string    `json:"title" bson:"title"`
	ModelName string    `json:"model_name" bson:"modelName"`
	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
}

type Message struct {
	Id             string    `json:"id" bson:"_id"`
	ConversationId string    `json:"conversation_id" bson:"conversationId"`
	Role           string    `json:"role" bson:"role"`
	Content        string    `json:"content" bson:"content"`
	AudioUrl       string    `json:"audio_url,omitempty" bson:"audioUrl,omitempty"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
}

// FineTuneRecord is one labeled preference example captured from a
// comparative turn. Immutable once inserted.
type FineTuneRecord struct {
	Id           string    `json:"id" bson:"_id"`
	UserQuery    string    `json:"user_query" bson:"userQuery"`
	ChosenAnswer string    `json:"chosen_answer" bson:"chosenAnswer"`
	ModelUsed    string    `json:"model_used" bson:"modelUsed"`
	UserId       string    `json:"user_id" bson:"userId"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}
