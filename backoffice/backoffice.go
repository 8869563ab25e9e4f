package backoffice

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"yamdb/auth"
	"yamdb/models"
	"yamdb/permissions"
)

// BackofficeModule exposes operational endpoints: seeding the database from
// CSV exports and basic entity counts. Admin role required throughout.
type BackofficeModule struct {
	db      *gorm.DB
	dataDir string
}

func NewBackofficeModule(db *gorm.DB, dataDir string) *BackofficeModule {
	return &BackofficeModule{db: db, dataDir: dataDir}
}

func (b *BackofficeModule) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/v1/backoffice")
	{
		group.POST("/import/", b.importData)
		group.GET("/stats/", b.stats)
	}
}

func (b *BackofficeModule) stats(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdmin(user) {
		deny(c, user)
		return
	}

	counts := gin.H{}
	for name, model := range map[string]interface{}{
		"users":      &models.User{},
		"categories": &models.Category{},
		"genres":     &models.Genre{},
		"titles":     &models.Title{},
		"reviews":    &models.Review{},
		"comments":   &models.Comment{},
	} {
		var count int64
		if err := b.db.Model(model).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count " + name})
			return
		}
		counts[name] = count
	}

	c.JSON(http.StatusOK, counts)
}

// importData loads the CSV seed files in dependency order. Each table must
// be empty before its file is loaded; a populated table aborts the import.
func (b *BackofficeModule) importData(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.IsAdmin(user) {
		deny(c, user)
		return
	}

	steps := []struct {
		file string
		load func(tx *gorm.DB, rows [][]string) error
	}{
		{"users.csv", func(tx *gorm.DB, rows [][]string) error {
			return b.loadUsers(tx, rows, user.ID)
		}},
		{"category.csv", b.loadCategories},
		{"genre.csv", b.loadGenres},
		{"titles.csv", b.loadTitles},
		{"genre_title.csv", b.loadTitleGenres},
		{"review.csv", b.loadReviews},
		{"comments.csv", b.loadComments},
	}

	loaded := []string{}
	err := b.db.Transaction(func(tx *gorm.DB) error {
		for _, step := range steps {
			rows, err := b.readCSV(step.file)
			if err != nil {
				return err
			}
			if err := step.load(tx, rows); err != nil {
				return fmt.Errorf("%s: %v", step.file, err)
			}
			loaded = append(loaded, step.file)
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "import failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"imported": loaded})
}

// readCSV returns the file's data rows, header skipped.
func (b *BackofficeModule) readCSV(name string) ([][]string, error) {
	f, err := os.Open(filepath.Join(b.dataDir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	return rows[1:], nil
}

func requireEmpty(tx *gorm.DB, model interface{}, what string) error {
	var count int64
	if err := tx.Model(model).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%s table already has data", what)
	}
	return nil
}

// users.csv: id,username,email,role,bio,first_name,last_name
// The importing admin is already a row in the users table, so the emptiness
// check excludes the caller.
func (b *BackofficeModule) loadUsers(tx *gorm.DB, rows [][]string, callerID int) error {
	var count int64
	if err := tx.Model(&models.User{}).Where("id <> ?", callerID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("users table already has data")
	}
	for _, row := range rows {
		if len(row) < 7 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		user := models.User{
			ID:        id,
			Username:  row[1],
			Email:     row[2],
			Role:      row[3],
			Bio:       row[4],
			FirstName: row[5],
			LastName:  row[6],
			IsActive:  true,
			IsAdmin:   row[3] == models.RoleAdmin || row[3] == models.RoleSuperuser,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
	}
	return nil
}

// category.csv and genre.csv: id,name,slug
func (b *BackofficeModule) loadCategories(tx *gorm.DB, rows [][]string) error {
	if err := requireEmpty(tx, &models.Category{}, "categories"); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 3 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		if err := tx.Create(&models.Category{ID: id, Name: row[1], Slug: row[2]}).Error; err != nil {
			return err
		}
	}
	return nil
}

func (b *BackofficeModule) loadGenres(tx *gorm.DB, rows [][]string) error {
	if err := requireEmpty(tx, &models.Genre{}, "genres"); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 3 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		if err := tx.Create(&models.Genre{ID: id, Name: row[1], Slug: row[2]}).Error; err != nil {
			return err
		}
	}
	return nil
}

// titles.csv: id,name,year,category_id
func (b *BackofficeModule) loadTitles(tx *gorm.DB, rows [][]string) error {
	if err := requireEmpty(tx, &models.Title{}, "titles"); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 4 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		year, err := strconv.Atoi(row[2])
		if err != nil {
			return err
		}
		categoryID, err := strconv.Atoi(row[3])
		if err != nil {
			return err
		}
		var category models.Category
		if err := tx.First(&category, categoryID).Error; err != nil {
			return fmt.Errorf("unknown category id %d", categoryID)
		}
		title := models.Title{ID: id, Name: row[1], Year: year, CategoryID: &category.ID}
		if err := tx.Create(&title).Error; err != nil {
			return err
		}
	}
	return nil
}

// genre_title.csv: id,title_id,genre_id
func (b *BackofficeModule) loadTitleGenres(tx *gorm.DB, rows [][]string) error {
	if err := requireEmpty(tx, &models.TitleGenre{}, "title genres"); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 3 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		titleID, err := strconv.Atoi(row[1])
		if err != nil {
			return err
		}
		genreID, err := strconv.Atoi(row[2])
		if err != nil {
			return err
		}
		link := models.TitleGenre{ID: id, TitleID: titleID, GenreID: genreID}
		if err := tx.Create(&link).Error; err != nil {
			return err
		}
	}
	return nil
}

// review.csv: id,title_id,text,author,score,pub_date
func (b *BackofficeModule) loadReviews(tx *gorm.DB, rows [][]string) error {
	if err := requireEmpty(tx, &models.Review{}, "reviews"); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 6 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		titleID, err := strconv.Atoi(row[1])
		if err != nil {
			return err
		}
		authorID, err := strconv.Atoi(row[3])
		if err != nil {
			return err
		}
		score, err := strconv.Atoi(row[4])
		if err != nil {
			return err
		}
		pubDate, err := parseTime(row[5])
		if err != nil {
			return err
		}
		review := models.Review{
			ID:       id,
			TitleID:  titleID,
			AuthorID: authorID,
			Text:     row[2],
			Score:    score,
			PubDate:  pubDate,
		}
		if err := tx.Create(&review).Error; err != nil {
			return err
		}
	}
	return nil
}

// comments.csv: id,review_id,text,author,pub_date
func (b *BackofficeModule) loadComments(tx *gorm.DB, rows [][]string) error {
	if err := requireEmpty(tx, &models.Comment{}, "comments"); err != nil {
		return err
	}
	for _, row := range rows {
		if len(row) < 5 {
			return fmt.Errorf("malformed row %v", row)
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return err
		}
		reviewID, err := strconv.Atoi(row[1])
		if err != nil {
			return err
		}
		authorID, err := strconv.Atoi(row[3])
		if err != nil {
			return err
		}
		pubDate, err := parseTime(row[4])
		if err != nil {
			return err
		}
		comment := models.Comment{
			ID:       id,
			ReviewID: reviewID,
			AuthorID: authorID,
			Text:     row[2],
			PubDate:  pubDate,
		}
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
	}
	return nil
}

func parseTime(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

func deny(c *gin.Context, user *models.User) {
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
}
