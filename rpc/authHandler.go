package rpc

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chatbot/db"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func userPayload(u *db.User) gin.H {
	return gin.H{
		"id":       u.Id,
		"username": u.Username,
		"email":    u.Email,
	}
}

func (s *Service) HandleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Email == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "All fields are required"})
		return
	}
	ctx := c.Request.Context()
	if existing, _ := s.store.UserByUsername(ctx, req.Username); existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
		return
	}
	if existing, _ := s.store.UserByEmail(ctx, req.Email); existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email already exists"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}
	u := db.User{
		Id:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err = s.store.InsertUser(ctx, u); err != nil {
		zap.S().Errorw("insert user", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		return
	}
	s.login(c, u.Id)
	c.JSON(http.StatusCreated, gin.H{"user": userPayload(&u)})
}

func (s *Service) HandleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}
	u, err := s.store.UserByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			zap.S().Errorw("lookup user", "err", err)
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	s.login(c, u.Id)
	c.JSON(http.StatusOK, gin.H{"user": userPayload(u)})
}

func (s *Service) login(c *gin.Context, userId string) {
	sess := sessions.Default(c)
	sess.Set(SessionUserKey, userId)
	if err := sess.Save(); err != nil {
		zap.S().Warnw("save session", "err", err)
	}
}

func (s *Service) HandleAdminLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}
	if req.Username != s.cfg.AdminUser || req.Password != s.cfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	sess := sessions.Default(c)
	sess.Set(SessionRoleKey, AdminRole)
	if err := sess.Save(); err != nil {
		zap.S().Warnw("save session", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Admin logged in"})
}
