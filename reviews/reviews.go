package reviews

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gorm.io/gorm"

	"yamdb/auth"
	"yamdb/common"
	"yamdb/models"
	"yamdb/permissions"
)

// ReviewsModule serves reviews scoped to a title and comments scoped to a
// review. One review per (title, author); the unique index closes the race
// between the duplicate pre-check and the insert.
type ReviewsModule struct {
	db *gorm.DB
}

func NewReviewsModule(db *gorm.DB) *ReviewsModule {
	return &ReviewsModule{db: db}
}

// markdown renderer for review and comment bodies. Raw HTML is escaped:
// review text comes from arbitrary users.
var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
	),
)

func (m *ReviewsModule) RegisterRoutes(router *gin.Engine) {
	reviews := router.Group("/v1/titles/:id/reviews")
	{
		reviews.GET("/", m.listReviews)
		reviews.POST("/", m.createReview)
		reviews.GET("/:reviewID", m.getReview)
		reviews.PATCH("/:reviewID", m.updateReview)
		reviews.DELETE("/:reviewID", m.deleteReview)
	}

	comments := router.Group("/v1/titles/:id/reviews/:reviewID/comments")
	{
		comments.GET("/", m.listComments)
		comments.POST("/", m.createComment)
		comments.GET("/:commentID", m.getComment)
		comments.PATCH("/:commentID", m.updateComment)
		comments.DELETE("/:commentID", m.deleteComment)
	}
}

type reviewJSON struct {
	ID       int       `json:"id"`
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	TextHTML string    `json:"text_html"`
	Score    int       `json:"score"`
	PubDate  time.Time `json:"pub_date"`
}

type commentJSON struct {
	ID       int       `json:"id"`
	Author   string    `json:"author"`
	Text     string    `json:"text"`
	TextHTML string    `json:"text_html"`
	PubDate  time.Time `json:"pub_date"`
}

// ----- reviews -----

func (m *ReviewsModule) listReviews(c *gin.Context) {
	title, ok := m.loadTitle(c)
	if !ok {
		return
	}

	query := m.db.Model(&models.Review{}).Where("title_id = ?", title.ID)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reviews"})
		return
	}

	page := common.Paginate(c)
	var result []models.Review
	if err := query.Order("pub_date").Limit(page.Limit).Offset(page.Offset).Find(&result).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reviews"})
		return
	}

	out := make([]reviewJSON, 0, len(result))
	for _, r := range result {
		out = append(out, m.serializeReview(&r))
	}
	c.JSON(http.StatusOK, common.Envelope(c, page, count, out))
}

func (m *ReviewsModule) createReview(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.AuthenticatedOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	title, ok := m.loadTitle(c)
	if !ok {
		return
	}

	var req struct {
		Text  string `json:"text" binding:"required"`
		Score int    `json:"score" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text and score are required"})
		return
	}
	if req.Score < 1 || req.Score > 10 {
		c.JSON(http.StatusBadRequest, gin.H{"score": "score must be between 1 and 10"})
		return
	}

	var count int64
	m.db.Model(&models.Review{}).Where("title_id = ? AND author_id = ?", title.ID, user.ID).Count(&count)
	if count > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "you have already reviewed this title"})
		return
	}

	review := models.Review{
		TitleID:  title.ID,
		AuthorID: user.ID,
		Text:     req.Text,
		Score:    req.Score,
	}
	if err := m.db.Create(&review).Error; err != nil {
		if isUniqueViolation(err) {
			// Concurrent submission lost the race; the index is the backstop.
			c.JSON(http.StatusConflict, gin.H{"error": "you have already reviewed this title"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create review"})
		return
	}

	c.JSON(http.StatusCreated, m.serializeReview(&review))
}

func (m *ReviewsModule) getReview(c *gin.Context) {
	review, ok := m.loadReview(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.serializeReview(review))
}

func (m *ReviewsModule) updateReview(c *gin.Context) {
	user := auth.CurrentUser(c)
	review, ok := m.loadReview(c)
	if !ok {
		return
	}
	if !permissions.IsAdminModeratorAuthorOrReadOnly(c.Request.Method, user, review.AuthorID) {
		deny(c, user)
		return
	}

	var req struct {
		Text  *string `json:"text"`
		Score *int    `json:"score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Text != nil {
		review.Text = *req.Text
	}
	if req.Score != nil {
		if *req.Score < 1 || *req.Score > 10 {
			c.JSON(http.StatusBadRequest, gin.H{"score": "score must be between 1 and 10"})
			return
		}
		review.Score = *req.Score
	}

	// pub_date stays at its creation value
	if err := m.db.Model(review).Updates(map[string]interface{}{
		"text":  review.Text,
		"score": review.Score,
	}).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update review"})
		return
	}

	c.JSON(http.StatusOK, m.serializeReview(review))
}

func (m *ReviewsModule) deleteReview(c *gin.Context) {
	user := auth.CurrentUser(c)
	review, ok := m.loadReview(c)
	if !ok {
		return
	}
	if !permissions.IsAdminModeratorAuthorOrReadOnly(c.Request.Method, user, review.AuthorID) {
		deny(c, user)
		return
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("review_id = ?", review.ID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(review).Error
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete review"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ----- comments -----

func (m *ReviewsModule) listComments(c *gin.Context) {
	review, ok := m.loadReview(c)
	if !ok {
		return
	}

	query := m.db.Model(&models.Comment{}).Where("review_id = ?", review.ID)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list comments"})
		return
	}

	page := common.Paginate(c)
	var result []models.Comment
	if err := query.Order("pub_date").Limit(page.Limit).Offset(page.Offset).Find(&result).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list comments"})
		return
	}

	out := make([]commentJSON, 0, len(result))
	for _, cm := range result {
		out = append(out, m.serializeComment(&cm))
	}
	c.JSON(http.StatusOK, common.Envelope(c, page, count, out))
}

func (m *ReviewsModule) createComment(c *gin.Context) {
	user := auth.CurrentUser(c)
	if !permissions.AuthenticatedOrReadOnly(c.Request.Method, user) {
		deny(c, user)
		return
	}

	review, ok := m.loadReview(c)
	if !ok {
		return
	}

	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	comment := models.Comment{
		ReviewID: review.ID,
		AuthorID: user.ID,
		Text:     req.Text,
	}
	if err := m.db.Create(&comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create comment"})
		return
	}

	c.JSON(http.StatusCreated, m.serializeComment(&comment))
}

func (m *ReviewsModule) getComment(c *gin.Context) {
	comment, ok := m.loadComment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, m.serializeComment(comment))
}

func (m *ReviewsModule) updateComment(c *gin.Context) {
	user := auth.CurrentUser(c)
	comment, ok := m.loadComment(c)
	if !ok {
		return
	}
	if !permissions.IsAdminModeratorAuthorOrReadOnly(c.Request.Method, user, comment.AuthorID) {
		deny(c, user)
		return
	}

	var req struct {
		Text *string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if req.Text != nil {
		if err := m.db.Model(comment).Update("text", *req.Text).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update comment"})
			return
		}
		comment.Text = *req.Text
	}

	c.JSON(http.StatusOK, m.serializeComment(comment))
}

func (m *ReviewsModule) deleteComment(c *gin.Context) {
	user := auth.CurrentUser(c)
	comment, ok := m.loadComment(c)
	if !ok {
		return
	}
	if !permissions.IsAdminModeratorAuthorOrReadOnly(c.Request.Method, user, comment.AuthorID) {
		deny(c, user)
		return
	}

	if err := m.db.Delete(comment).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete comment"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ----- helpers -----

func (m *ReviewsModule) loadTitle(c *gin.Context) (*models.Title, bool) {
	var title models.Title
	if err := m.db.First(&title, "id = ?", c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "title not found"})
		return nil, false
	}
	return &title, true
}

func (m *ReviewsModule) loadReview(c *gin.Context) (*models.Review, bool) {
	title, ok := m.loadTitle(c)
	if !ok {
		return nil, false
	}

	var review models.Review
	err := m.db.Where("id = ? AND title_id = ?", c.Param("reviewID"), title.ID).First(&review).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return nil, false
	}
	return &review, true
}

func (m *ReviewsModule) loadComment(c *gin.Context) (*models.Comment, bool) {
	review, ok := m.loadReview(c)
	if !ok {
		return nil, false
	}

	var comment models.Comment
	err := m.db.Where("id = ? AND review_id = ?", c.Param("commentID"), review.ID).First(&comment).Error
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "comment not found"})
		return nil, false
	}
	return &comment, true
}

func (m *ReviewsModule) serializeReview(review *models.Review) reviewJSON {
	return reviewJSON{
		ID:       review.ID,
		Author:   m.authorUsername(review.AuthorID),
		Text:     review.Text,
		TextHTML: renderMarkdown(review.Text),
		Score:    review.Score,
		PubDate:  review.PubDate,
	}
}

func (m *ReviewsModule) serializeComment(comment *models.Comment) commentJSON {
	return commentJSON{
		ID:       comment.ID,
		Author:   m.authorUsername(comment.AuthorID),
		Text:     comment.Text,
		TextHTML: renderMarkdown(comment.Text),
		PubDate:  comment.PubDate,
	}
}

func (m *ReviewsModule) authorUsername(userID int) string {
	var user models.User
	if err := m.db.First(&user, userID).Error; err != nil {
		return ""
	}
	return user.Username
}

func renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(content), &buf); err != nil {
		return content
	}
	return buf.String()
}

func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}

func deny(c *gin.Context, user *models.User) {
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
}
