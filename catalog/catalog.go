package catalog

import (
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"yamdb/auth"
	"yamdb/common"
	"yamdb/models"
	"yamdb/permissions"
)

// Titles are classified by categories and genres; the aggregate rating is
// derived from review scores on every read.
type CatalogModule struct {
	db *gorm.DB
}

func NewCatalogModule(db *gorm.DB) *CatalogModule {
	return &CatalogModule{db: db}
}

var slugRe = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)

const minYear = 1895 // year of the first public film screening

func (m *CatalogModule) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/v1")
	{
		v1.GET("/categories/", m.listCategories)
		v1.POST("/categories/", m.createCategory)
		v1.DELETE("/categories/:slug", m.deleteCategory)

		v1.GET("/genres/", m.listGenres)
		v1.POST("/genres/", m.createGenre)
		v1.DELETE("/genres/:slug", m.deleteGenre)

		v1.GET("/titles/", m.listTitles)
		v1.POST("/titles/", m.createTitle)
		v1.GET("/titles/:id", m.getTitle)
		v1.PATCH("/titles/:id", m.updateTitle)
		v1.DELETE("/titles/:id", m.deleteTitle)
	}
}

// ----- categories and genres -----

func (m *CatalogModule) listCategories(c *gin.Context) {
	m.listReference(c, &[]models.Category{})
}

func (m *CatalogModule) listGenres(c *gin.Context) {
	m.listReference(c, &[]models.Genre{})
}

func (m *CatalogModule) listReference(c *gin.Context, out interface{}) {
	query := m.db.Model(out)
	if search := c.Query("search"); search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list"})
		return
	}

	page := common.Paginate(c)
	if err := query.Order("slug").Limit(page.Limit).Offset(page.Offset).Find(out).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list"})
		return
	}

	c.JSON(http.StatusOK, common.Envelope(c, page, count, out))
}

func (m *CatalogModule) createCategory(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
		Slug string `json:"slug" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and slug are required"})
		return
	}
	if !slugRe.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"slug": "slug may contain letters, digits, hyphens and underscores"})
		return
	}

	var count int64
	m.db.Model(&models.Category{}).Where("slug = ?", req.Slug).Count(&count)
	if count > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"slug": "category with slug " + req.Slug + " already exists"})
		return
	}

	category := models.Category{Name: req.Name, Slug: req.Slug}
	if err := m.db.Create(&category).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create category"})
		return
	}
	c.JSON(http.StatusCreated, category)
}

// deleteCategory nulls the category reference on titles instead of cascading.
func (m *CatalogModule) deleteCategory(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var category models.Category
	if err := m.db.Where("slug = ?", c.Param("slug")).First(&category).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Title{}).Where("category_id = ?", category.ID).
			Update("category_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&category).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete category"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *CatalogModule) createGenre(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var req struct {
		Name string `json:"name" binding:"required"`
		Slug string `json:"slug" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and slug are required"})
		return
	}
	if !slugRe.MatchString(req.Slug) {
		c.JSON(http.StatusBadRequest, gin.H{"slug": "slug may contain letters, digits, hyphens and underscores"})
		return
	}

	var count int64
	m.db.Model(&models.Genre{}).Where("slug = ?", req.Slug).Count(&count)
	if count > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"slug": "genre with slug " + req.Slug + " already exists"})
		return
	}

	genre := models.Genre{Name: req.Name, Slug: req.Slug}
	if err := m.db.Create(&genre).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create genre"})
		return
	}
	c.JSON(http.StatusCreated, genre)
}

func (m *CatalogModule) deleteGenre(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var genre models.Genre
	if err := m.db.Where("slug = ?", c.Param("slug")).First(&genre).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "genre not found"})
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("genre_id = ?", genre.ID).Delete(&models.TitleGenre{}).Error; err != nil {
			return err
		}
		return tx.Delete(&genre).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete genre"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ----- titles -----

type titleJSON struct {
	ID          int              `json:"id"`
	Name        string           `json:"name"`
	Year        int              `json:"year"`
	Rating      *float64         `json:"rating"`
	Description string           `json:"description"`
	Genre       []models.Genre   `json:"genre"`
	Category    *models.Category `json:"category"`
}

func (m *CatalogModule) listTitles(c *gin.Context) {
	query := m.db.Model(&models.Title{})

	if slug := c.Query("category"); slug != "" {
		var category models.Category
		if err := m.db.Where("slug = ?", slug).First(&category).Error; err == nil {
			query = query.Where("category_id = ?", category.ID)
		} else {
			query = query.Where("1 = 0")
		}
	}
	if slug := c.Query("genre"); slug != "" {
		var genre models.Genre
		if err := m.db.Where("slug = ?", slug).First(&genre).Error; err == nil {
			sub := m.db.Model(&models.TitleGenre{}).Select("title_id").Where("genre_id = ?", genre.ID)
			query = query.Where("id IN (?)", sub)
		} else {
			query = query.Where("1 = 0")
		}
	}
	if year := c.Query("year"); year != "" {
		query = query.Where("year = ?", year)
	}
	if name := c.Query("name"); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list titles"})
		return
	}

	page := common.Paginate(c)
	var titles []models.Title
	if err := query.Order("id").Limit(page.Limit).Offset(page.Offset).Find(&titles).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list titles"})
		return
	}

	results := make([]titleJSON, 0, len(titles))
	for _, t := range titles {
		results = append(results, m.serializeTitle(&t))
	}

	c.JSON(http.StatusOK, common.Envelope(c, page, count, results))
}

func (m *CatalogModule) getTitle(c *gin.Context) {
	var title models.Title
	if err := m.db.First(&title, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return
	}
	c.JSON(http.StatusOK, m.serializeTitle(&title))
}

func (m *CatalogModule) createTitle(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var req struct {
		Name        string   `json:"name" binding:"required"`
		Year        int      `json:"year" binding:"required"`
		Description string   `json:"description"`
		Genre       []string `json:"genre"`
		Category    string   `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, year and category are required"})
		return
	}

	if !validYear(req.Year) {
		c.JSON(http.StatusBadRequest, gin.H{"year": "year must be between 1895 and the current year"})
		return
	}

	var category models.Category
	if err := m.db.Where("slug = ?", req.Category).First(&category).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"category": "unknown category " + req.Category})
		return
	}

	genres, missing := m.lookupGenres(req.Genre)
	if missing != "" {
		c.JSON(http.StatusBadRequest, gin.H{"genre": "unknown genre " + missing})
		return
	}

	title := models.Title{
		Name:        req.Name,
		Year:        req.Year,
		Description: req.Description,
		CategoryID:  &category.ID,
	}
	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&title).Error; err != nil {
			return err
		}
		for _, g := range genres {
			if err := tx.Create(&models.TitleGenre{TitleID: title.ID, GenreID: g.ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to create title"})
		return
	}

	c.JSON(http.StatusCreated, m.serializeTitle(&title))
}

func (m *CatalogModule) updateTitle(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var title models.Title
	if err := m.db.First(&title, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return
	}

	var req struct {
		Name        *string   `json:"name"`
		Year        *int      `json:"year"`
		Description *string   `json:"description"`
		Genre       *[]string `json:"genre"`
		Category    *string   `json:"category"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Name != nil {
		title.Name = *req.Name
	}
	if req.Year != nil {
		if !validYear(*req.Year) {
			c.JSON(http.StatusBadRequest, gin.H{"year": "year must be between 1895 and the current year"})
			return
		}
		title.Year = *req.Year
	}
	if req.Description != nil {
		title.Description = *req.Description
	}
	if req.Category != nil {
		var category models.Category
		if err := m.db.Where("slug = ?", *req.Category).First(&category).Error; err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"category": "unknown category " + *req.Category})
			return
		}
		title.CategoryID = &category.ID
	}

	var genres []models.Genre
	if req.Genre != nil {
		var missing string
		genres, missing = m.lookupGenres(*req.Genre)
		if missing != "" {
			c.JSON(http.StatusBadRequest, gin.H{"genre": "unknown genre " + missing})
			return
		}
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&title).Error; err != nil {
			return err
		}
		if req.Genre == nil {
			return nil
		}
		if err := tx.Where("title_id = ?", title.ID).Delete(&models.TitleGenre{}).Error; err != nil {
			return err
		}
		for _, g := range genres {
			if err := tx.Create(&models.TitleGenre{TitleID: title.ID, GenreID: g.ID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update title"})
		return
	}

	c.JSON(http.StatusOK, m.serializeTitle(&title))
}

func (m *CatalogModule) deleteTitle(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdminOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	var title models.Title
	if err := m.db.First(&title, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		var reviewIDs []int
		if err := tx.Model(&models.Review{}).Where("title_id = ?", title.ID).Pluck("id", &reviewIDs).Error; err != nil {
			return err
		}
		if len(reviewIDs) > 0 {
			if err := tx.Where("review_id IN ?", reviewIDs).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("title_id = ?", title.ID).Delete(&models.Review{}).Error; err != nil {
			return err
		}
		if err := tx.Where("title_id = ?", title.ID).Delete(&models.TitleGenre{}).Error; err != nil {
			return err
		}
		return tx.Delete(&title).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete title"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (m *CatalogModule) serializeTitle(title *models.Title) titleJSON {
	out := titleJSON{
		ID:          title.ID,
		Name:        title.Name,
		Year:        title.Year,
		Description: title.Description,
		Genre:       []models.Genre{},
		Rating:      m.titleRating(title.ID),
	}

	if title.CategoryID != nil {
		var category models.Category
		if err := m.db.First(&category, *title.CategoryID).Error; err == nil {
			out.Category = &category
		}
	}

	var links []models.TitleGenre
	if err := m.db.Where("title_id = ?", title.ID).Find(&links).Error; err == nil && len(links) > 0 {
		ids := make([]int, 0, len(links))
		for _, l := range links {
			ids = append(ids, l.GenreID)
		}
		m.db.Where("id IN ?", ids).Order("slug").Find(&out.Genre)
	}

	return out
}

// titleRating returns the mean review score, or nil with no reviews.
func (m *CatalogModule) titleRating(titleID int) *float64 {
	var row struct {
		Rating float64
		Count  int64
	}
	err := m.db.Model(&models.Review{}).
		Select("AVG(score) as rating, COUNT(*) as count").
		Where("title_id = ?", titleID).
		Scan(&row).Error
	if err != nil || row.Count == 0 {
		return nil
	}
	return &row.Rating
}

// validYear recomputes the upper bound on every call; the current year must
// never be captured at process start.
func validYear(year int) bool {
	return year >= minYear && year <= time.Now().Year()
}

func deny(c *gin.Context, user *models.User) {
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
}

func (m *CatalogModule) lookupGenres(slugs []string) ([]models.Genre, string) {
	genres := make([]models.Genre, 0, len(slugs))
	for _, slug := range slugs {
		var genre models.Genre
		if err := m.db.Where("slug = ?", slug).First(&genre).Error; err != nil {
			return nil, slug
		}
		genres = append(genres, genre)
	}
	return genres, ""
}
