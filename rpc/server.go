package rpc

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatbot/chat"
	"chatbot/model"
	"chatbot/speech"
)

const (
	UserIdContextName = "user_id"

	SessionName    = "chatbot"
	SessionUserKey = "user_id"
	SessionRoleKey = "role"
	AdminRole      = "admin"
)

const SessionMaxAge = 24 * 60 * 60

var once sync.Once

var RpcServer *Service

type Config struct {
	Port          string
	SessionSecret string
	AdminUser     string
	AdminPassword string
}

type Service struct {
	cfg      Config
	store    Storage
	orch     *chat.Orchestrator
	resolver *model.Resolver
	ollama   *model.OllamaClient
	speech   *speech.Service
}

func InitRpcService(cfg Config, store Storage, orch *chat.Orchestrator, resolver *model.Resolver, ollama *model.OllamaClient, sp *speech.Service) {
	once.Do(func() {
		RpcServer = &Service{
			cfg:      cfg,
			store:    store,
			orch:     orch,
			resolver: resolver,
			ollama:   ollama,
			speech:   sp,
		}
	})
}

type LoggerMy struct {
}

func (*LoggerMy) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if strings.Index(msg, `"/healthcheck"`) > 0 {
		return
	}
	zap.S().Debug(msg)
	return
}

func (s *Service) Start(ctx context.Context) error {
	gin.DefaultWriter = &LoggerMy{}
	r := s.buildRouter()
	address := "0.0.0.0:" + s.cfg.Port
	zap.S().Infow("start rpc", "address", address)
	return r.Run(address)
}

func (s *Service) buildRouter() *gin.Engine {
	r := gin.Default()
	store := cookie.NewStore([]byte(s.cfg.SessionSecret))
	store.Options(sessions.Options{
		MaxAge: SessionMaxAge,
		Path:   "/",
	})
	r.Use(Cors())
	r.Use(sessions.Sessions(SessionName, store))
	r.SetTrustedProxies(nil)

	r.GET("/healthcheck", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "message": "Chatbot API is running"})
	})
	r.GET("/audio/:filename", s.HandleAudio)

	auth := r.Group("/api/auth")
	auth.POST("/register", s.HandleRegister)
	auth.POST("/login", s.HandleLogin)

	chatGroup := r.Group("/api/chat", AuthRequired())
	chatGroup.GET("/conversations", s.HandleListConversations)
	chatGroup.POST("/conversations", s.HandleCreateConversation)
	chatGroup.GET("/conversations/:id", s.HandleGetConversation)
	chatGroup.DELETE("/conversations/:id", s.HandleDeleteConversation)
	chatGroup.PUT("/conversations/:id/model", s.HandleChangeModel)
	chatGroup.POST("/conversations/:id/messages", s.HandleSendMessage)
	chatGroup.POST("/select-response", s.HandleSelectResponse)
	chatGroup.POST("/tts", s.HandleSynthesize)
	chatGroup.POST("/asr", s.HandleTranscribe)

	models := r.Group("/api", AuthRequired())
	models.GET("/models", s.HandleListModels)
	models.POST("/models/:name/pull", s.HandlePullModel)

	admin := r.Group("/api/admin")
	admin.POST("/login", s.HandleAdminLogin)
	admin.GET("/stats", AdminRequired(), s.HandleStats)
	admin.GET("/fine-tune-data", AdminRequired(), s.HandleFineTuneData)
	admin.GET("/export-csv", AdminRequired(), s.HandleExportCsv)

	return r
}
