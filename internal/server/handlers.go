package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agenthands/entitynet/internal/core/apperr"
	"github.com/agenthands/entitynet/internal/core/community"
	"github.com/agenthands/entitynet/internal/core/extraction"
	"github.com/agenthands/entitynet/internal/core/model"
)

// identityFields name the node fields an update may never touch.
var identityFields = []string{"name", "entity", "category"}

type CreateNodesRequest struct {
	Entities []model.RawEntity `json:"entities"`
}

type TextRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) ListNodes(c *gin.Context) {
	var category *string
	if v, ok := c.GetQuery("entityType"); ok && v != "" {
		category = &v
	}

	nodes, err := s.Engine.ListNodes(c.Request.Context(), category)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "nodes": nodes})
}

func (s *Server) GetNode(c *gin.Context) {
	node, err := s.Engine.GetNode(c.Request.Context(), c.Param("uid"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "node": node})
}

func (s *Server) CreateNodes(c *gin.Context) {
	var req CreateNodesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request: %v", err))
		return
	}
	if req.Entities == nil {
		respondError(c, apperr.Validation("entities is required"))
		return
	}

	res, err := s.Engine.Construct(c.Request.Context(), req.Entities)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "message": "Nodes added successfully", "result": res})
}

func (s *Server) UpdateNode(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		respondError(c, apperr.Validation("uid query parameter is required"))
		return
	}
	replace := false
	if v := c.Query("replace"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(c, apperr.Validation("replace must be a boolean, got %q", v))
			return
		}
		replace = b
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, apperr.Validation("invalid request: %v", err))
		return
	}
	for _, f := range identityFields {
		if _, ok := body[f]; ok {
			respondError(c, apperr.Validation("%s cannot be updated", f))
			return
		}
	}
	raw, _ := json.Marshal(body)
	var attrs model.Attributes
	if err := json.Unmarshal(raw, &attrs); err != nil {
		respondError(c, apperr.Validation("invalid attributes: %v", err))
		return
	}

	var node *model.Node
	var err error
	if replace {
		node, err = s.Engine.ReplaceAttributes(c.Request.Context(), uid, attrs)
	} else {
		node, err = s.Engine.UpdateNode(c.Request.Context(), uid, attrs)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "message": "Node updated successfully", "node": node})
}

func (s *Server) DeleteNode(c *gin.Context) {
	uid := c.Query("uid")
	if uid == "" {
		respondError(c, apperr.Validation("uid query parameter is required"))
		return
	}

	deleted, err := s.Engine.DeleteNode(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	if !deleted {
		respondMessage(c, http.StatusNotFound, "Node not found")
		return
	}
	respondMessage(c, http.StatusOK, "Node deleted successfully")
}

func (s *Server) ListRelationships(c *gin.Context) {
	var uid *string
	if v, ok := c.GetQuery("uid"); ok && v != "" {
		uid = &v
	}

	rels, err := s.Engine.ListRelationships(c.Request.Context(), uid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "relationships": rels})
}

func (s *Server) ListCommunities(c *gin.Context) {
	detector, ok := community.ByName(c.Query("method"))
	if !ok {
		respondError(c, apperr.Validation("unknown community method %q", c.Query("method")))
		return
	}
	var category *string
	if v, ok := c.GetQuery("entityType"); ok && v != "" {
		category = &v
	}

	groups, err := s.Engine.Communities(c.Request.Context(), category, detector)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "communities": groups})
}

func (s *Server) Extract(c *gin.Context) {
	entities, ok := s.extract(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "entities": entities})
}

func (s *Server) BuildEntityNetwork(c *gin.Context) {
	entities, ok := s.extract(c)
	if !ok {
		return
	}

	res, err := s.Engine.Construct(c.Request.Context(), entities)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": http.StatusOK, "entities": entities, "result": res})
}

func (s *Server) extract(c *gin.Context) ([]model.RawEntity, bool) {
	if s.Extractor == nil {
		respondMessage(c, http.StatusServiceUnavailable, "entity extraction is not configured")
		return nil, false
	}

	var req TextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Validation("invalid request: %v", err))
		return nil, false
	}

	entities, err := s.Extractor.Extract(c.Request.Context(), req.Text)
	if errors.Is(err, extraction.ErrEmptyText) {
		respondError(c, apperr.Validation("%v", err))
		return nil, false
	}
	if err != nil {
		_ = c.Error(err)
		respondMessage(c, http.StatusBadGateway, "entity extraction failed")
		return nil, false
	}
	return entities, true
}
