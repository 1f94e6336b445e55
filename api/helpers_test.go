package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"mandi/adapters/ledger"
	"mandi/adapters/ledger/ledgertest"
	"mandi/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type testEnv struct {
	server     *Server
	router     *gin.Engine
	store      *ledger.Store
	privateKey ed25519.PrivateKey
}

func newTestEnv(t *testing.T, client redis.UniversalClient) *testEnv {
	t.Helper()
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	store := ledgertest.New(t)
	server, err := NewServer(ServerConfig{
		ID:     "test",
		Auth:   AuthConfig{PublicKey: publicKey},
		Market: MarketConfig{SSEHeartbeat: time.Second},
	}, Dependencies{Store: store, Redis: client, Logger: discardLogger})
	require.NoError(t, err)
	return &testEnv{server: server, router: server.Router(), store: store, privateKey: privateKey}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	claims := Claims{
		Name: "tester",
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(e.privateKey)
	require.NoError(t, err)
	return signed
}

// do 送出請求，body 不是 nil 時以 JSON 編碼
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type user struct {
	id    uuid.UUID
	token string
}

func (e *testEnv) newUser(t *testing.T, role string) user {
	t.Helper()
	id := uuid.New()
	require.NoError(t, e.store.DB().Create(&models.User{ID: id, Name: role, Phone: "9876543210", Role: role}).Error)
	return user{id: id, token: e.token(t, id, role)}
}

// listCrop 以農民身分建立並直接刊登一個作物
func (e *testEnv) listCrop(t *testing.T, farmer user, minPrice string) models.Crop {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/crops", farmer.token, map[string]any{
		"name":          "Wheat",
		"quantity":      "1000",
		"quality_grade": "A",
		"min_price":     minPrice,
		"current_price": minPrice,
		"district":      "Indore",
		"state":         "Madhya Pradesh",
		"publish":       true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		Crop models.Crop `json:"crop"`
	}](t, w).Crop
}

type bidResponse struct {
	Message string     `json:"message"`
	Bid     models.Bid `json:"bid"`
}
