package users

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"yamdb/auth"
	"yamdb/common"
	"yamdb/models"
	"yamdb/permissions"
)

type UsersModule struct {
	db *gorm.DB
}

func NewUsersModule(db *gorm.DB) *UsersModule {
	return &UsersModule{db: db}
}

func (m *UsersModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/v1/users")
	{
		group.GET("/", m.list)
		group.POST("/", m.create)
		group.GET("/:username", m.retrieve)
		group.PATCH("/:username", m.update)
		group.DELETE("/:username", m.delete)
		group.PUT("/:username", m.methodNotAllowed)
	}
}

func (m *UsersModule) list(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsSuperuser(user) {
		deny(c, user)
		return
	}

	query := m.db.Model(&models.User{})
	if search := c.Query("search"); search != "" {
		query = query.Where("username LIKE ?", "%"+search+"%")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	page := common.Paginate(c)
	var result []models.User
	if err := query.Order("username").Limit(page.Limit).Offset(page.Offset).Find(&result).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}

	c.JSON(http.StatusOK, common.Envelope(c, page, count, result))
}

func (m *UsersModule) create(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsSuperuser(user) {
		deny(c, user)
		return
	}

	var req struct {
		Username  string `json:"username" binding:"required"`
		Email     string `json:"email" binding:"required,email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Bio       string `json:"bio"`
		Role      string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and a valid email are required"})
		return
	}
	if req.Role == "" {
		req.Role = models.RoleUser
	}

	if msg, field := validateIdentity(m.db, req.Username, req.Email, req.Role, 0); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{field: msg})
		return
	}

	created := models.User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Bio:       req.Bio,
		Role:      req.Role,
		IsActive:  true,
		IsAdmin:   req.Role == models.RoleAdmin || req.Role == models.RoleSuperuser,
	}
	if err := m.db.Create(&created).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create user"})
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (m *UsersModule) retrieve(c *gin.Context) {
	user := auth.CurrentUser(c)
	username := c.Param("username")

	if username == "me" {
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.JSON(http.StatusOK, user)
		return
	}

	if !permissions.IsSuperuser(user) {
		deny(c, user)
		return
	}

	var target models.User
	if err := m.db.Where("username = ?", username).First(&target).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, target)
}

func (m *UsersModule) update(c *gin.Context) {
	user := auth.CurrentUser(c)
	username := c.Param("username")

	var target models.User
	roleEditable := true

	if username == "me" {
		if user == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		target = *user
		roleEditable = false // role is read-only on self-update
	} else {
		if !permissions.IsSuperuser(user) {
			deny(c, user)
			return
		}
		if err := m.db.Where("username = ?", username).First(&target).Error; err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
	}

	var req struct {
		Username  *string `json:"username"`
		Email     *string `json:"email"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Bio       *string `json:"bio"`
		Role      *string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Username != nil {
		target.Username = *req.Username
	}
	if req.Email != nil {
		target.Email = *req.Email
	}
	if req.FirstName != nil {
		target.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		target.LastName = *req.LastName
	}
	if req.Bio != nil {
		target.Bio = *req.Bio
	}
	if req.Role != nil && roleEditable {
		target.Role = *req.Role
		target.IsAdmin = target.Role == models.RoleAdmin || target.Role == models.RoleSuperuser
	}

	if msg, field := validateIdentity(m.db, target.Username, target.Email, target.Role, target.ID); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{field: msg})
		return
	}

	if err := m.db.Save(&target).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to update user"})
		return
	}

	c.JSON(http.StatusOK, target)
}

func (m *UsersModule) delete(c *gin.Context) {
	user := auth.CurrentUser(c)
	username := c.Param("username")

	if username == "me" {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
		return
	}

	if !permissions.IsSuperuser(user) {
		deny(c, user)
		return
	}

	var target models.User
	if err := m.db.Where("username = ?", username).First(&target).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	}

	// Reviews and comments are owned by their author for lifecycle purposes.
	err := m.db.Transaction(func(tx *gorm.DB) error {
		var reviewIDs []int
		if err := tx.Model(&models.Review{}).Where("author_id = ?", target.ID).Pluck("id", &reviewIDs).Error; err != nil {
			return err
		}
		if len(reviewIDs) > 0 {
			if err := tx.Where("review_id IN ?", reviewIDs).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("author_id = ?", target.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("author_id = ?", target.ID).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		return tx.Delete(&target).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete user"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *UsersModule) methodNotAllowed(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
}

// validateIdentity checks username/email/role constraints; excludeID skips
// the user's own row on uniqueness checks during updates.
func validateIdentity(db *gorm.DB, username, email, role string, excludeID int) (msg, field string) {
	if !models.ValidUsername(username) {
		return "use letters, digits and . @ + - only", "username"
	}
	if models.ReservedUsername(username) {
		return "username 'me' is reserved", "username"
	}
	if !models.ValidRole(role) {
		return "unknown role " + role, "role"
	}

	var count int64
	db.Model(&models.User{}).Where("username = ? AND id != ?", username, excludeID).Count(&count)
	if count > 0 {
		return "user with username " + username + " already exists", "username"
	}
	db.Model(&models.User{}).Where("email = ? AND id != ?", email, excludeID).Count(&count)
	if count > 0 {
		return "user with email " + email + " already exists", "email"
	}
	return "", ""
}

func deny(c *gin.Context, user *models.User) {
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
}
