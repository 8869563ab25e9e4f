package backoffice

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

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

func setupTestRouter(db *gorm.DB, dataDir string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(auth.NewAuthModule(db, testSecret, nopSender{}).Identify())
	NewBackofficeModule(db, dataDir).RegisterRoutes(router)
	return router
}

func createUser(db *gorm.DB, username, role string) *models.User {
	user := &models.User{Username: username, Email: username + "@example.com", Role: role}
	db.Create(user)
	return user
}

func request(router *gin.Engine, method, path string, as *models.User) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	if as != nil {
		token, _ := auth.NewToken(testSecret, as.ID)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func writeSeedFiles(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	files := map[string]string{
		"users.csv": "id,username,email,role,bio,first_name,last_name\n" +
			"100,alice,alice@x.com,user,,Alice,Smith\n" +
			"101,mod,mod@x.com,moderator,,,\n",
		"category.csv": "id,name,slug\n1,Movies,movies\n",
		"genre.csv":    "id,name,slug\n1,Drama,drama\n2,Sci-Fi,sci-fi\n",
		"titles.csv":   "id,name,year,category\n1,Heat,1995,1\n",
		"genre_title.csv": "id,title_id,genre_id\n" +
			"1,1,1\n" +
			"2,1,2\n",
		"review.csv":   "id,title_id,text,author,score,pub_date\n1,1,great,100,9,2019-09-24 21:14:51\n",
		"comments.csv": "id,review_id,text,author,pub_date\n1,1,agreed,101,2019-09-25\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestImport_RequiresAdmin(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, writeSeedFiles(t))
	plain := createUser(db, "plain", models.RoleUser)
	moderator := createUser(db, "mod2", models.RoleModerator)

	assert.Equal(t, http.StatusUnauthorized, request(router, "POST", "/v1/backoffice/import/", nil).Code)
	assert.Equal(t, http.StatusForbidden, request(router, "POST", "/v1/backoffice/import/", plain).Code)
	assert.Equal(t, http.StatusForbidden, request(router, "POST", "/v1/backoffice/import/", moderator).Code)
}

func TestImport_LoadsAllFiles(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, writeSeedFiles(t))
	admin := createUser(db, "boss", models.RoleAdmin)

	w := request(router, "POST", "/v1/backoffice/import/", admin)
	assert.Equal(t, http.StatusOK, w.Code)

	for model, want := range map[interface{}]int64{
		&models.User{}:       3, // two imported plus the admin
		&models.Category{}:   1,
		&models.Genre{}:      2,
		&models.Title{}:      1,
		&models.TitleGenre{}: 2,
		&models.Review{}:     1,
		&models.Comment{}:    1,
	} {
		var count int64
		db.Model(model).Count(&count)
		assert.Equal(t, want, count)
	}

	var title models.Title
	assert.NoError(t, db.First(&title, 1).Error)
	assert.Equal(t, "Heat", title.Name)
	assert.NotNil(t, title.CategoryID)

	var review models.Review
	assert.NoError(t, db.First(&review, 1).Error)
	assert.Equal(t, 100, review.AuthorID)
	assert.Equal(t, 2019, review.PubDate.Year())

	var imported models.User
	assert.NoError(t, db.First(&imported, 100).Error)
	assert.True(t, imported.IsActive)
	assert.Equal(t, models.RoleUser, imported.Role)
}

func TestImport_RefusesPopulatedTables(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, writeSeedFiles(t))
	admin := createUser(db, "boss", models.RoleAdmin)

	assert.Equal(t, http.StatusOK, request(router, "POST", "/v1/backoffice/import/", admin).Code)

	w := request(router, "POST", "/v1/backoffice/import/", admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "already has data")
}

func TestImport_MissingFile(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, t.TempDir())
	admin := createUser(db, "boss", models.RoleAdmin)

	w := request(router, "POST", "/v1/backoffice/import/", admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the transaction rolled back; nothing was loaded
	var count int64
	db.Model(&models.Category{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestStats(t *testing.T) {
	db := setupTestDB()
	router := setupTestRouter(db, t.TempDir())
	admin := createUser(db, "boss", models.RoleAdmin)
	plain := createUser(db, "plain", models.RoleUser)

	db.Create(&models.Category{Name: "Movies", Slug: "movies"})
	db.Create(&models.Title{Name: "Heat", Year: 1995})

	assert.Equal(t, http.StatusForbidden, request(router, "GET", "/v1/backoffice/stats/", plain).Code)

	w := request(router, "GET", "/v1/backoffice/stats/", admin)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int64
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp["users"])
	assert.Equal(t, int64(1), resp["categories"])
	assert.Equal(t, int64(1), resp["titles"])
	assert.Equal(t, int64(0), resp["reviews"])
}

func TestParseTime(t *testing.T) {
	for _, value := range []string{
		"2019-09-24T21:14:51Z",
		"2019-09-24 21:14:51",
		"2019-09-24",
	} {
		parsed, err := parseTime(value)
		assert.NoError(t, err, value)
		assert.Equal(t, 2019, parsed.Year())
	}

	_, err := parseTime("24/09/2019")
	assert.Error(t, err)
}
