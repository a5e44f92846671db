package utils

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

var ErrInvalidPagination = errors.New("invalid pagination")

type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// Page acompaña a los listados paginados.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

func SendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{"data": data})
}

// SendPage responde un listado con su ventana de paginación.
func SendPage(c *gin.Context, data interface{}, limit, offset, count int) {
	c.JSON(http.StatusOK, gin.H{
		"data": data,
		"page": Page{Limit: limit, Offset: offset, Count: count},
	})
}

func SendError(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": ErrorResponse{Message: message, Status: statusCode}})
}

func SendBadRequest(c *gin.Context, message string) {
	SendError(c, http.StatusBadRequest, message)
}

func SendNotFound(c *gin.Context, message string) {
	SendError(c, http.StatusNotFound, message)
}

func SendInternalServerError(c *gin.Context, message string) {
	SendError(c, http.StatusInternalServerError, message)
}

// ParsePagination lee ?limit=&offset=. Sin limit usa DefaultPageLimit; nunca supera MaxPageLimit.
func ParsePagination(c *gin.Context) (limit, offset int, err error) {
	limit, offset = DefaultPageLimit, 0

	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, ErrInvalidPagination
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, ErrInvalidPagination
		}
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return limit, offset, nil
}
