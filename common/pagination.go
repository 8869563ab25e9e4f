package common

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Pagination carries limit/offset parsed from the query string.
type Pagination struct {
	Limit  int
	Offset int
}

// Paginate reads ?limit= and ?offset=, clamping to sane bounds.
func Paginate(c *gin.Context) Pagination {
	limit := DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}

	return Pagination{Limit: limit, Offset: offset}
}

// Envelope wraps a result page in the count/next/previous/results shape.
func Envelope(c *gin.Context, p Pagination, count int64, results interface{}) gin.H {
	var next, previous interface{}
	if int64(p.Offset+p.Limit) < count {
		next = pageURL(c, p, p.Offset+p.Limit)
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		previous = pageURL(c, p, prev)
	}
	return gin.H{
		"count":    count,
		"next":     next,
		"previous": previous,
		"results":  results,
	}
}

func pageURL(c *gin.Context, p Pagination, offset int) string {
	u := *c.Request.URL
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}
