// Package api exposes a DocStore over HTTP with gin.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/rungodb/pkg/docstore"
	"github.com/celerix-dev/rungodb/pkg/sdk"
)

type Handler struct {
	Store sdk.DocStore
}

func (h *Handler) ListContainers(c *gin.Context) {
	names, err := h.Store.Containers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, names)
}

func (h *Handler) Insert(c *gin.Context) {
	var entity any
	if err := c.ShouldBindJSON(&entity); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	uid, err := h.Store.Insert(c.Param("container"), entity)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"uid": uid})
}

// List filters with the query string: ?status=open matches entities whose
// status is the string "open".
func (h *Handler) List(c *gin.Context) {
	p := docstore.Predicate{}
	for field, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			p[field] = values[0]
		}
	}
	h.query(c, p)
}

func (h *Handler) Query(c *gin.Context) {
	p, ok := bindPredicate(c)
	if !ok {
		return
	}
	h.query(c, p)
}

func (h *Handler) query(c *gin.Context, p docstore.Predicate) {
	found, err := h.Store.Query(c.Param("container"), p)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, found)
}

func (h *Handler) Get(c *gin.Context) {
	found, err := h.Store.Query(c.Param("container"), docstore.Predicate{docstore.UIDField: c.Param("uid")})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	if len(found) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "entity not found"})
		return
	}
	c.JSON(http.StatusOK, found[0])
}

func (h *Handler) DeleteOne(c *gin.Context) {
	h.delete(c, docstore.Predicate{docstore.UIDField: c.Param("uid")})
}

func (h *Handler) Delete(c *gin.Context) {
	p, ok := bindPredicate(c)
	if !ok {
		return
	}
	h.delete(c, p)
}

func (h *Handler) delete(c *gin.Context, p docstore.Predicate) {
	n, err := h.Store.Delete(c.Param("container"), p)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) Export(c *gin.Context) {
	tree, err := h.Store.Export()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tree)
}

// bindPredicate reads a JSON object body. An empty body is the empty predicate.
func bindPredicate(c *gin.Context) (docstore.Predicate, bool) {
	if c.Request.ContentLength == 0 {
		return nil, true
	}
	var p docstore.Predicate
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "predicate must be a json object"})
		return nil, false
	}
	return p, true
}

func statusFor(err error) int {
	if errors.Is(err, docstore.ErrShape) || errors.Is(err, docstore.ErrInvalidUID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
