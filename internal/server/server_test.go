package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/entitynet/internal/core"
	"github.com/agenthands/entitynet/internal/core/extraction"
	"github.com/agenthands/entitynet/internal/core/keylock"
	"github.com/agenthands/entitynet/internal/core/model"
	"github.com/agenthands/entitynet/internal/store/memory"
)

const testKey = "secret"

type mockExtractor struct {
	entities []model.RawEntity
	err      error
}

func (m *mockExtractor) Extract(ctx context.Context, text string) ([]model.RawEntity, error) {
	return m.entities, m.err
}

type nodeResponse struct {
	Status int        `json:"status"`
	Node   model.Node `json:"node"`
}

type nodesResponse struct {
	Status int          `json:"status"`
	Nodes  []model.Node `json:"nodes"`
}

type relationshipsResponse struct {
	Relationships []model.Relationship `json:"relationships"`
}

type constructResponse struct {
	Status  int                   `json:"status"`
	Message string                `json:"message"`
	Result  model.ConstructResult `json:"result"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func setupRouter(t *testing.T, ex extraction.Extractor) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := core.NewEngine(memory.New(), keylock.NewLocal(), core.Options{Concurrency: 2, StoreTimeout: time.Second})
	srv := NewServer(engine, ex, Options{APIKey: testKey, CORSOrigins: []string{"*"}}, nil)
	return srv.SetupRouter()
}

func do(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func seed(t *testing.T, r http.Handler) constructResponse {
	t.Helper()
	w := do(t, r, http.MethodPost, "/nodes/", `{"entities": [
		["Chris Ballinger", "PERSON"],
		["Ford", "ORG", {"entityType": ["Company"]}],
		["Dubai", "GPE", {"url": "http://en.wikipedia.org/wiki/Dubai"}]
	]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[constructResponse](t, w)
}

func TestAuth(t *testing.T) {
	r := setupRouter(t, nil)

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{"missing", "", http.StatusUnauthorized, "Api Key required"},
		{"wrong", "Bearer nope", http.StatusUnauthorized, "Api Key Incorrect"},
		{"bare key", testKey, http.StatusOK, ""},
		{"bearer", "Bearer " + testKey, http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/nodes/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.message != "" {
				assert.Contains(t, w.Body.String(), tt.message)
			}
		})
	}
}

func TestHealthzNeedsNoKey(t *testing.T) {
	r := setupRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateNodes(t *testing.T) {
	r := setupRouter(t, nil)

	res := seed(t, r)
	assert.Equal(t, "Nodes added successfully", res.Message)
	assert.Len(t, res.Result.Created, 3)
	assert.Len(t, res.Result.Relationships, 3)

	t.Run("repeat merges", func(t *testing.T) {
		res := seed(t, r)
		assert.Empty(t, res.Result.Created)
		assert.Len(t, res.Result.Merged, 3)
	})

	t.Run("blank name is rejected", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/nodes/", `{"entities": [["  ", "ORG"]]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation", decode[errorResponse](t, w).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/nodes/", `{"entities": 3}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing entities", func(t *testing.T) {
		w := do(t, r, http.MethodPost, "/nodes/", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestListAndGetNodes(t *testing.T) {
	r := setupRouter(t, nil)
	res := seed(t, r)

	w := do(t, r, http.MethodGet, "/nodes/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[nodesResponse](t, w).Nodes, 3)

	w = do(t, r, http.MethodGet, "/nodes/?entityType=ORG", nil)
	require.Equal(t, http.StatusOK, w.Code)
	nodes := decode[nodesResponse](t, w).Nodes
	require.Len(t, nodes, 1)
	assert.Equal(t, "Ford", nodes[0].Name)

	w = do(t, r, http.MethodGet, "/nodes/?entityType=NOPE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": 200, "nodes": []}`, w.Body.String())

	uid := res.Result.Created[0].UID
	w = do(t, r, http.MethodGet, "/nodes/"+uid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uid, decode[nodeResponse](t, w).Node.UID)

	w = do(t, r, http.MethodGet, "/nodes/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, w).Code)
}

func TestUpdateNode(t *testing.T) {
	r := setupRouter(t, nil)
	res := seed(t, r)

	var ford model.Node
	for _, n := range res.Result.Created {
		if n.Name == "Ford" {
			ford = n
		}
	}
	require.NotEmpty(t, ford.UID)

	t.Run("merge keeps absent fields", func(t *testing.T) {
		w := do(t, r, http.MethodPut, "/nodes/?uid="+ford.UID, `{"dbPediaIri": "http://dbpedia.org/resource/Ford_Motor_Company"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		n := decode[nodeResponse](t, w).Node
		assert.Equal(t, []string{"Company"}, n.Attributes.EntityType)
		require.NotNil(t, n.Attributes.KnowledgeBaseURI)
	})

	t.Run("replace clears absent fields", func(t *testing.T) {
		w := do(t, r, http.MethodPut, "/nodes/?replace=true&uid="+ford.UID, `{"wikiClasses": ["Organisation"]}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		n := decode[nodeResponse](t, w).Node
		assert.Nil(t, n.Attributes.EntityType)
		assert.Nil(t, n.Attributes.KnowledgeBaseURI)
		assert.Equal(t, []string{"Organisation"}, n.Attributes.WikiClasses)
	})

	t.Run("identity fields are rejected", func(t *testing.T) {
		for _, body := range []string{`{"name": "GM"}`, `{"entity": "PERSON"}`, `{"category": "PERSON"}`} {
			w := do(t, r, http.MethodPut, "/nodes/?uid="+ford.UID, body)
			assert.Equal(t, http.StatusBadRequest, w.Code, body)
		}
	})

	t.Run("invalid url", func(t *testing.T) {
		w := do(t, r, http.MethodPut, "/nodes/?uid="+ford.UID, `{"url": "not a url"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed replace flag", func(t *testing.T) {
		w := do(t, r, http.MethodPut, "/nodes/?replace=yes&uid="+ford.UID, `{"url": "http://example.com"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[errorResponse](t, w).Message, "replace")

		w = do(t, r, http.MethodGet, "/nodes/"+ford.UID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Nil(t, decode[nodeResponse](t, w).Node.Attributes.ReferenceURL, "rejected update writes nothing")
	})

	t.Run("missing uid", func(t *testing.T) {
		w := do(t, r, http.MethodPut, "/nodes/", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown node", func(t *testing.T) {
		w := do(t, r, http.MethodPut, "/nodes/?uid=missing", `{"url": "http://example.com"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteNode(t *testing.T) {
	r := setupRouter(t, nil)
	res := seed(t, r)
	uid := res.Result.Created[0].UID

	w := do(t, r, http.MethodDelete, "/nodes/?uid="+uid, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/relationships/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rels := decode[relationshipsResponse](t, w).Relationships
	require.Len(t, rels, 1)
	for _, rel := range rels {
		assert.False(t, rel.Touches(uid))
	}

	w = do(t, r, http.MethodDelete, "/nodes/?uid="+uid, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRelationshipsForNode(t *testing.T) {
	r := setupRouter(t, nil)
	res := seed(t, r)
	uid := res.Result.Created[0].UID

	w := do(t, r, http.MethodGet, "/relationships/?uid="+uid, nil)
	require.Equal(t, http.StatusOK, w.Code)
	rels := decode[relationshipsResponse](t, w).Relationships
	assert.Len(t, rels, 2)
	for _, rel := range rels {
		assert.True(t, rel.Touches(uid))
		assert.Less(t, rel.UIDA, rel.UIDB)
	}
}

func TestExtraction(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		r := setupRouter(t, nil)
		w := do(t, r, http.MethodPost, "/extraction/", `{"text": "Ford"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("extracts", func(t *testing.T) {
		r := setupRouter(t, &mockExtractor{entities: []model.RawEntity{{Name: "Ford", Category: "ORG"}}})
		w := do(t, r, http.MethodPost, "/extraction/", `{"text": "Ford"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `["Ford","ORG"`)

		w = do(t, r, http.MethodGet, "/nodes/", nil)
		assert.Empty(t, decode[nodesResponse](t, w).Nodes, "extraction alone stores nothing")
	})

	t.Run("empty text", func(t *testing.T) {
		r := setupRouter(t, &mockExtractor{err: extraction.ErrEmptyText})
		w := do(t, r, http.MethodPost, "/extraction/", `{"text": "   "}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("llm failure", func(t *testing.T) {
		r := setupRouter(t, &mockExtractor{err: errors.New("rate limited")})
		w := do(t, r, http.MethodPost, "/extraction/", `{"text": "Ford"}`)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestBuildEntityNetwork(t *testing.T) {
	r := setupRouter(t, &mockExtractor{entities: []model.RawEntity{
		{Name: "Chris Ballinger", Category: "PERSON"},
		{Name: "Ford", Category: "ORG"},
	}})

	w := do(t, r, http.MethodPost, "/entity-network/", `{"text": "Chris Ballinger of Ford"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[constructResponse](t, w)
	assert.Len(t, res.Result.Created, 2)
	assert.Len(t, res.Result.Relationships, 1)
}

func TestListCommunities(t *testing.T) {
	r := setupRouter(t, nil)
	seed(t, r)
	w := do(t, r, http.MethodPost, "/nodes/", `{"entities": [["Shell", "ORG"], ["BP", "ORG"]]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Communities [][]model.Node `json:"communities"`
	}
	w = do(t, r, http.MethodGet, "/communities/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Communities, 2)
	assert.Len(t, body.Communities[0], 3)
	assert.Len(t, body.Communities[1], 2)

	w = do(t, r, http.MethodGet, "/communities/?method=lpa&entityType=ORG", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body.Communities = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Communities, 1, "Ford shares no edge with the other ORGs")
	assert.Len(t, body.Communities[0], 2)

	w = do(t, r, http.MethodGet, "/communities/?method=louvain", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
