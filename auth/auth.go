package auth

import (
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	emailpkg "yamdb/email"
	"yamdb/models"
)

type AuthModule struct {
	db     *gorm.DB
	secret []byte
	sender emailpkg.Sender
}

func NewAuthModule(db *gorm.DB, secret []byte, sender emailpkg.Sender) *AuthModule {
	return &AuthModule{
		db:     db,
		secret: secret,
		sender: sender,
	}
}

func (a *AuthModule) RegisterRoutes(router *gin.Engine) {
	router.POST("/v1/auth/signup/", a.signup)
	router.POST("/v1/auth/token/", a.token)
}

// signup registers a (username, email) identity and mails it a confirmation
// code. Repeating the call for an identity that already holds a code is a
// no-op that still reports success.
func (a *AuthModule) signup(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and a valid email are required"})
		return
	}

	if !models.ValidUsername(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"username": "use letters, digits and . @ + - only"})
		return
	}
	if models.ReservedUsername(req.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"username": "username 'me' is reserved"})
		return
	}

	var user models.User
	err := a.db.Where("username = ? AND email = ?", req.Username, req.Email).First(&user).Error
	if err == gorm.ErrRecordNotFound {
		// The exact pair is new; a partial match means the identity is taken.
		var count int64
		a.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&count)
		if count > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"email": "user with email " + req.Email + " already exists"})
			return
		}
		a.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count)
		if count > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"username": "user with username " + req.Username + " already exists"})
			return
		}

		user = models.User{
			Username: req.Username,
			Email:    req.Email,
			Role:     models.RoleUser,
			IsActive: true,
		}
		if err := a.db.Create(&user).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
			return
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up user"})
		return
	}

	if user.ConfirmationCode != "" {
		c.JSON(http.StatusOK, gin.H{"username": user.Username, "email": user.Email})
		return
	}

	code, err := generateCode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate confirmation code"})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store confirmation code"})
		return
	}

	if err := a.db.Model(&user).Update("confirmation_code", string(hash)).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store confirmation code"})
		return
	}

	if err := a.sender.SendConfirmationCode(user.Email, code); err != nil {
		// Registration already succeeded; delivery problems are an ops issue.
		log.Printf("failed to send confirmation code to %s: %v", user.Email, err)
	}

	c.JSON(http.StatusOK, gin.H{"username": user.Username, "email": user.Email})
}

// token exchanges a confirmation code for a signed bearer token.
func (a *AuthModule) token(c *gin.Context) {
	var req struct {
		Username         string `json:"username" binding:"required"`
		ConfirmationCode string `json:"confirmation_code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and confirmation_code are required"})
		return
	}

	var user models.User
	if err := a.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	if user.ConfirmationCode == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.ConfirmationCode), []byte(req.ConfirmationCode)) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"confirmation_code": "invalid confirmation code"})
		return
	}

	token, err := NewToken(a.secret, user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": token})
}

func generateCode() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
