package main

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/payment-reconciler/internal/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "SB-Mid-server-test"

func do(t *testing.T, router *gin.Engine, method, path, body, key string) GatewayResponse {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(key+":")))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var res GatewayResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func TestSandbox_ChargeCancelStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	// long delay keeps the background resolver out of the way
	sb := NewSandbox(testKey, "", 1, time.Hour, time.Hour)
	router := SetupRouter(sb)

	charge := `{"payment_type":"bank_transfer","transaction_details":{"order_id":"inv-1","gross_amount":51000},"bank_transfer":{"bank":"bca"}}`

	res := do(t, router, http.MethodPost, "/v2/charge", charge, "wrong")
	assert.Equal(t, "401", res.StatusCode)

	res = do(t, router, http.MethodPost, "/v2/charge", charge, testKey)
	assert.Equal(t, "201", res.StatusCode)
	assert.Equal(t, "51000.00", res.GrossAmount)
	assert.Equal(t, "pending", res.TransactionStatus)

	res = do(t, router, http.MethodPost, "/v2/charge", charge, testKey)
	assert.Equal(t, "406", res.StatusCode)

	res = do(t, router, http.MethodGet, "/v2/inv-1/status", "", testKey)
	assert.Equal(t, "201", res.StatusCode)

	res = do(t, router, http.MethodPost, "/v2/inv-1/cancel", "", testKey)
	assert.Equal(t, "200", res.StatusCode)
	assert.Equal(t, "cancel", res.TransactionStatus)

	res = do(t, router, http.MethodPost, "/v2/inv-1/cancel", "", testKey)
	assert.Equal(t, "412", res.StatusCode)

	res = do(t, router, http.MethodGet, "/v2/missing/status", "", testKey)
	assert.Equal(t, "404", res.StatusCode)
}

func TestSandbox_ResolveSignsNotification(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sb := NewSandbox(testKey, "", 1, time.Hour, time.Hour)
	router := SetupRouter(sb)

	do(t, router, http.MethodPost, "/v2/charge", `{"payment_type":"qris","transaction_details":{"order_id":"inv-2","gross_amount":1500}}`, testKey)

	n, ok := sb.resolve("inv-2")
	require.True(t, ok)
	assert.Equal(t, "settlement", n.TransactionStatus)
	assert.Equal(t, "1500.00", n.GrossAmount)
	assert.True(t, signature.Verify(n.OrderID, n.StatusCode, n.GrossAmount, testKey, n.SignatureKey))

	_, ok = sb.resolve("inv-2")
	assert.False(t, ok, "a resolved charge is not resolved twice")
}
