package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// PageMeta describes one page of a listing.
type PageMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

// NewPageMeta computes the last page; an empty listing still has page 1.
func NewPageMeta(page, perPage, total int) PageMeta {
	last := 1
	if perPage > 0 && total > 0 {
		last = (total + perPage - 1) / perPage
	}
	return PageMeta{CurrentPage: page, PerPage: perPage, Total: total, LastPage: last}
}

// JSON writes a JSON response with the given status.
func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

// OK writes a 200 OK JSON response.
func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}

// Page writes a 200 response with a data array and pagination meta.
func Page(c *gin.Context, data any, meta PageMeta) {
	OK(c, gin.H{"data": data, "meta": meta})
}
