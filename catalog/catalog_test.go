package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"yamdb/auth"
	"yamdb/models"
)

var testSecret = []byte("test-secret")

type nopSender struct{}

func (nopSender) SendConfirmationCode(to, code string) error { return nil }

func setupTestDB() *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic("failed to connect database")
	}

	db.AutoMigrate(&models.User{}, &models.Category{}, &models.Genre{}, &models.Title{},
		&models.TitleGenre{}, &models.Review{}, &models.Comment{})
	return db
}

func setupTestRouter(db *gorm.DB) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(auth.NewAuthModule(db, testSecret, nopSender{}).Identify())
	NewCatalogModule(db).RegisterRoutes(router)
	return router
}

func createUser(db *gorm.DB, username, role string) *models.User {
	user := &models.User{Username: username, Email: username + "@example.com", Role: role}
	db.Create(user)
	return user
}

func request(router *gin.Engine, method, path string, body interface{}, as *models.User) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		token, _ := auth.NewToken(testSecret, as.ID)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedCatalog(db *gorm.DB) (models.Category, models.Genre) {
	category := models.Category{Name: "Movies", Slug: "movies"}
	db.Create(&category)
	genre := models.Genre{Name: "Drama", Slug: "drama"}
	db.Create(&genre)
	return category, genre
}

func TestCategories_ListIsPublic(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	seedCatalog(db)

	w := request(router, "GET", "/v1/categories/", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "movies")
}

func TestCategories_WriteRequiresAdmin(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	plain := createUser(db, "plain", models.RoleUser)
	admin := createUser(db, "boss", models.RoleAdmin)

	body := gin.H{"name": "Books", "slug": "books"}
	assert.Equal(t, http.StatusUnauthorized, request(router, "POST", "/v1/categories/", body, nil).Code)
	assert.Equal(t, http.StatusForbidden, request(router, "POST", "/v1/categories/", body, plain).Code)
	assert.Equal(t, http.StatusCreated, request(router, "POST", "/v1/categories/", body, admin).Code)

	assert.Equal(t, http.StatusUnauthorized, request(router, "DELETE", "/v1/categories/books", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, request(router, "DELETE", "/v1/categories/books", nil, plain).Code)
	assert.Equal(t, http.StatusNoContent, request(router, "DELETE", "/v1/categories/books", nil, admin).Code)
}

func TestCategories_SlugValidation(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	seedCatalog(db)

	w := request(router, "POST", "/v1/categories/", gin.H{"name": "Bad", "slug": "no spaces"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// duplicate slug
	w = request(router, "POST", "/v1/categories/", gin.H{"name": "Other", "slug": "movies"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteCategory_KeepsTitles(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	category, _ := seedCatalog(db)

	title := models.Title{Name: "Heat", Year: 1995, CategoryID: &category.ID}
	db.Create(&title)

	w := request(router, "DELETE", "/v1/categories/movies", nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)

	var survivor models.Title
	assert.NoError(t, db.First(&survivor, title.ID).Error)
	assert.Nil(t, survivor.CategoryID)
}

func TestDeleteGenre_KeepsTitles(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	_, genre := seedCatalog(db)

	title := models.Title{Name: "Heat", Year: 1995}
	db.Create(&title)
	db.Create(&models.TitleGenre{TitleID: title.ID, GenreID: genre.ID})

	w := request(router, "DELETE", "/v1/genres/drama", nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)

	var survivor models.Title
	assert.NoError(t, db.First(&survivor, title.ID).Error)

	var linkCount int64
	db.Model(&models.TitleGenre{}).Count(&linkCount)
	assert.Equal(t, int64(0), linkCount)
}

func TestCreateTitle(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	seedCatalog(db)

	w := request(router, "POST", "/v1/titles/", gin.H{
		"name":     "Heat",
		"year":     1995,
		"category": "movies",
		"genre":    []string{"drama"},
	}, admin)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		ID       int             `json:"id"`
		Rating   *float64        `json:"rating"`
		Genre    []models.Genre  `json:"genre"`
		Category models.Category `json:"category"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Rating)
	assert.Len(t, resp.Genre, 1)
	assert.Equal(t, "movies", resp.Category.Slug)
}

func TestCreateTitle_Validation(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	seedCatalog(db)

	cases := []gin.H{
		{"name": "No Category", "year": 2000},
		{"name": "Too Early", "year": 1894, "category": "movies"},
		{"name": "Not Yet", "year": time.Now().Year() + 1, "category": "movies"},
		{"name": "Ghost Category", "year": 2000, "category": "ghosts"},
		{"name": "Ghost Genre", "year": 2000, "category": "movies", "genre": []string{"ghost"}},
	}
	for _, body := range cases {
		w := request(router, "POST", "/v1/titles/", body, admin)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	// the current year itself is allowed
	w := request(router, "POST", "/v1/titles/", gin.H{
		"name": "Fresh", "year": time.Now().Year(), "category": "movies",
	}, admin)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestTitleRating_Lifecycle(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	category, _ := seedCatalog(db)
	alice := createUser(db, "alice", models.RoleUser)
	bob := createUser(db, "bob", models.RoleUser)

	title := models.Title{Name: "Heat", Year: 1995, CategoryID: &category.ID}
	db.Create(&title)

	path := fmt.Sprintf("/v1/titles/%d", title.ID)

	var resp struct {
		Rating *float64 `json:"rating"`
	}
	w := request(router, "GET", path, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Nil(t, resp.Rating)

	db.Create(&models.Review{TitleID: title.ID, AuthorID: alice.ID, Text: "a", Score: 4})
	db.Create(&models.Review{TitleID: title.ID, AuthorID: bob.ID, Text: "b", Score: 7})

	w = request(router, "GET", path, nil, nil)
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotNil(t, resp.Rating)
	assert.InDelta(t, 5.5, *resp.Rating, 0.001)
}

func TestListTitles_Filters(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	category, genre := seedCatalog(db)

	other := models.Category{Name: "Books", Slug: "books"}
	db.Create(&other)

	heat := models.Title{Name: "Heat", Year: 1995, CategoryID: &category.ID}
	db.Create(&heat)
	db.Create(&models.TitleGenre{TitleID: heat.ID, GenreID: genre.ID})
	db.Create(&models.Title{Name: "Dune", Year: 1965, CategoryID: &other.ID})

	type envelope struct {
		Count int64 `json:"count"`
	}
	var resp envelope

	w := request(router, "GET", "/v1/titles/?category=movies", nil, nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, int64(1), resp.Count)

	w = request(router, "GET", "/v1/titles/?genre=drama", nil, nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, int64(1), resp.Count)

	w = request(router, "GET", "/v1/titles/?year=1965", nil, nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, int64(1), resp.Count)

	w = request(router, "GET", "/v1/titles/?name=une", nil, nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, int64(1), resp.Count)

	// unknown slugs match nothing rather than erroring
	w = request(router, "GET", "/v1/titles/?genre=ghost", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, int64(0), resp.Count)
}

func TestUpdateTitle_ReplacesGenres(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	category, genre := seedCatalog(db)

	scifi := models.Genre{Name: "Sci-Fi", Slug: "sci-fi"}
	db.Create(&scifi)

	title := models.Title{Name: "Heat", Year: 1995, CategoryID: &category.ID}
	db.Create(&title)
	db.Create(&models.TitleGenre{TitleID: title.ID, GenreID: genre.ID})

	path := fmt.Sprintf("/v1/titles/%d", title.ID)
	w := request(router, "PATCH", path, gin.H{"genre": []string{"sci-fi"}}, admin)
	assert.Equal(t, http.StatusOK, w.Code)

	var links []models.TitleGenre
	db.Where("title_id = ?", title.ID).Find(&links)
	assert.Len(t, links, 1)
	assert.Equal(t, scifi.ID, links[0].GenreID)

	// a patch without genre leaves the links alone
	w = request(router, "PATCH", path, gin.H{"description": "heist classic"}, admin)
	assert.Equal(t, http.StatusOK, w.Code)
	db.Where("title_id = ?", title.ID).Find(&links)
	assert.Len(t, links, 1)
}

func TestDeleteTitle_Cascades(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)
	admin := createUser(db, "boss", models.RoleAdmin)
	category, genre := seedCatalog(db)
	alice := createUser(db, "alice", models.RoleUser)

	title := models.Title{Name: "Heat", Year: 1995, CategoryID: &category.ID}
	db.Create(&title)
	db.Create(&models.TitleGenre{TitleID: title.ID, GenreID: genre.ID})

	review := models.Review{TitleID: title.ID, AuthorID: alice.ID, Text: "great", Score: 9}
	db.Create(&review)
	db.Create(&models.Comment{ReviewID: review.ID, AuthorID: alice.ID, Text: "still great"})

	w := request(router, "DELETE", fmt.Sprintf("/v1/titles/%d", title.ID), nil, admin)
	assert.Equal(t, http.StatusNoContent, w.Code)

	var titles, reviewCount, commentCount, linkCount int64
	db.Model(&models.Title{}).Count(&titles)
	db.Model(&models.Review{}).Count(&reviewCount)
	db.Model(&models.Comment{}).Count(&commentCount)
	db.Model(&models.TitleGenre{}).Count(&linkCount)
	assert.Equal(t, int64(0), titles)
	assert.Equal(t, int64(0), reviewCount)
	assert.Equal(t, int64(0), commentCount)
	assert.Equal(t, int64(0), linkCount)
}

func TestGetTitle_NotFound(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db)

	w := request(router, "GET", "/v1/titles/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidYear(t *testing.T) {
	assert.False(t, validYear(1894))
	assert.True(t, validYear(1895))
	assert.True(t, validYear(time.Now().Year()))
	assert.False(t, validYear(time.Now().Year()+1))
}
