package authorization

import (
	"errors"
	"net/http"
	"time"

	jwt "github.com/appleboy/gin-jwt/v2"
	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/AnastRaja/chatbot-sub000/config"
)

const defaultTimeout = 72 * time.Hour

// Module wires together the JWT middleware and backing services.
type Module struct {
	accounts      *AccountStore
	service       *AuthService
	jwtMiddleware *jwt.GinJWTMiddleware
	captcha       *CaptchaStore
}

// RegisterRequest captures the payload for account registration.
type RegisterRequest struct {
	Email         string `json:"email" binding:"required"`
	Password      string `json:"password" binding:"required"`
	DisplayName   string `json:"display_name"`
	CaptchaID     string `json:"captcha_id" binding:"required"`
	CaptchaAnswer string `json:"captcha_answer" binding:"required"`
}

// LoginRequest represents the expected payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRoutes bootstraps the authentication endpoints under /auth.
func RegisterRoutes(router *gin.Engine, db *gorm.DB, cfg config.AuthConfig, captcha *CaptchaStore) (*Module, error) {
	if db == nil {
		return nil, errors.New("authorization: database is required")
	}

	accounts := NewAccountStore(db)
	service := NewAuthService(accounts)

	middleware, err := buildJWTMiddleware(service, cfg)
	if err != nil {
		return nil, err
	}

	module := &Module{accounts: accounts, service: service, jwtMiddleware: middleware, captcha: captcha}

	group := router.Group("/auth")
	group.GET("/captcha", module.handleCaptcha)
	group.POST("/register", module.handleRegister)
	group.POST("/login", middleware.LoginHandler)
	group.GET("/refresh_token", middleware.RefreshHandler)
	group.GET("/me", middleware.MiddlewareFunc(), module.handleMe)

	return module, nil
}

func (m *Module) Middleware() gin.HandlerFunc {
	if m == nil || m.jwtMiddleware == nil {
		return nil
	}
	return m.jwtMiddleware.MiddlewareFunc()
}

func (m *Module) handleCaptcha(c *gin.Context) {
	challenge, err := m.captcha.Issue()
	if err != nil {
		log.Warn("authorization: issue captcha", "err", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "captcha unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"captcha_id": challenge.ID,
		"image":      challenge.ImageBase64,
		"expires_at": challenge.ExpiresAt.UTC(),
	})
}

func (m *Module) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}

	if !m.captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid captcha"})
		return
	}

	account, err := m.service.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrMissingLoginValues):
			c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": account})
}

func (m *Module) handleMe(c *gin.Context) {
	accountID := CurrentAccountID(c)
	if accountID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	account, err := m.accounts.FindByID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account})
}

func buildJWTMiddleware(service *AuthService, cfg config.AuthConfig) (*jwt.GinJWTMiddleware, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("authorization: JWT secret is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRefresh := cfg.MaxRefresh
	if maxRefresh <= 0 {
		maxRefresh = 24 * time.Hour
	}

	return jwt.New(&jwt.GinJWTMiddleware{
		Realm:       "chatbot",
		Key:         []byte(cfg.JWTSecret),
		Timeout:     timeout,
		MaxRefresh:  maxRefresh,
		IdentityKey: IdentityKey,
		PayloadFunc: func(data interface{}) jwt.MapClaims {
			if identity, ok := data.(*Identity); ok {
				return jwt.MapClaims{
					IdentityKey: identity.ID,
					"email":     identity.Email,
				}
			}
			return jwt.MapClaims{}
		},
		IdentityHandler: func(c *gin.Context) interface{} {
			claims := jwt.ExtractClaims(c)
			email, _ := claims["email"].(string)
			return &Identity{ID: extractAccountID(claims), Email: email}
		},
		Authenticator: func(c *gin.Context) (interface{}, error) {
			var req LoginRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				return nil, jwt.ErrMissingLoginValues
			}
			return service.Authenticate(c.Request.Context(), req.Email, req.Password)
		},
		Authorizator: func(data interface{}, c *gin.Context) bool {
			identity, ok := data.(*Identity)
			return ok && identity.ID != 0
		},
		Unauthorized: func(c *gin.Context, code int, message string) {
			c.JSON(code, gin.H{"error": message})
		},
		// Browsers cannot set headers on websocket upgrades, hence the query lookup.
		TokenLookup:   "header: Authorization, query: token, cookie: jwt",
		TokenHeadName: "Bearer",
		TimeFunc:      time.Now,
	})
}
