package handler

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"walletpay/internal/config"
	"walletpay/internal/infrastructure/database"
	"walletpay/internal/model"
	"walletpay/internal/repository"
	"walletpay/internal/service"
	"walletpay/pkg/idgen"
	"walletpay/pkg/sign"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testAppID        = "app-http-0001"
	testAppServiceID = "svc-http-0001"
	testJWTSecret    = "test-secret"
)

type testServer struct {
	db        *gorm.DB
	router    *gin.Engine
	appSigner *sign.Signer
	verifier  *sign.Verifier
}

func newSignerPair(t *testing.T) (*sign.Signer, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	signer, err := sign.NewSignerFromPEM(privPEM)
	require.NoError(t, err)
	pubPEM, err := signer.PublicKeyPEM()
	require.NoError(t, err)
	return signer, pubPEM
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	idgen.Init(1)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	appSigner, appPublicKey := newSignerPair(t)
	serverSigner, serverPublicKey := newSignerPair(t)
	serverVerifier, err := sign.NewVerifierFromPEM([]byte(serverPublicKey))
	require.NoError(t, err)

	require.NoError(t, db.Create(&model.PayApp{
		ID:           testAppID,
		Name:         "云主机服务",
		RSAPublicKey: appPublicKey,
		Status:       model.AppStatusNormal,
	}).Error)
	require.NoError(t, db.Create(&model.PayAppService{
		ID:    testAppServiceID,
		AppID: testAppID,
		Name:  "云主机",
	}).Error)

	cfg := &config.Config{
		JWT:      config.JWTConfig{Secret: testJWTSecret},
		Business: config.BusinessConfig{MaxPayAmount: "100000", MaxRetryCount: 3},
	}

	h := NewHandler(
		cfg,
		serverSigner,
		service.NewPaymentService(db, nil, cfg),
		service.NewRefundService(db, nil, cfg),
		service.NewAccountService(db, nil, cfg),
		service.NewBillService(db),
	)
	router := SetupRouter(h, repository.NewAppRepository(db), serverSigner)

	return &testServer{
		db:        db,
		router:    router,
		appSigner: appSigner,
		verifier:  serverVerifier,
	}
}

func (s *testServer) seedAccount(t *testing.T, owner model.Owner, balance string) {
	t.Helper()
	require.NoError(t, s.db.Create(&model.PointAccount{
		OwnerType: owner.Type,
		OwnerID:   owner.ID,
		OwnerName: owner.Name,
		Balance:   decimal.RequireFromString(balance),
	}).Error)
}

// signedRequest 构造带应用签名的请求
func (s *testServer) signedRequest(t *testing.T, method, uri, body string) *http.Request {
	t.Helper()
	timestamp := time.Now().Unix()
	token, err := sign.BuildToken(testAppID, method, uri, body, timestamp, s.appSigner)
	require.NoError(t, err)

	req := httptest.NewRequest(method, uri, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", sign.SignType+" "+token)
	return req
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func chargeBody(t *testing.T, orderID, amounts, username string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"subject":        "云主机月度计费",
		"order_id":       orderID,
		"amounts":        amounts,
		"app_service_id": testAppServiceID,
		"username":       username,
	})
	require.NoError(t, err)
	return string(body)
}

func TestChargeTradeSigned(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, model.UserOwner("alice", "alice"), "100.00")

	w := s.do(s.signedRequest(t, "POST", "/api/v1/trade/charge",
		chargeBody(t, "order-001", "1.99", "alice")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got model.PaymentHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.TradeStatusSuccess, got.Status)
	assert.Equal(t, "order-001", got.OrderID)
	assert.True(t, got.Amounts.Equal(decimal.RequireFromString("-1.99")))

	// 应答签名可以用平台公钥验证
	timestamp, err := strconv.ParseInt(w.Header().Get("Pay-Timestamp"), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, sign.SignType, w.Header().Get("Pay-Sign-Type"))
	signString := sign.ResponseStringToSign(timestamp, w.Body.String())
	require.NoError(t, s.verifier.Verify([]byte(signString), w.Header().Get("Pay-Signature")))
}

func TestChargeTradeAuthFailures(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, model.UserOwner("alice", "alice"), "100.00")
	body := chargeBody(t, "order-002", "1.00", "alice")

	t.Run("缺少认证标头", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/trade/charge", bytes.NewBufferString(body))
		w := s.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "NotAuthenticated")
	})

	t.Run("报文被篡改", func(t *testing.T) {
		req := s.signedRequest(t, "POST", "/api/v1/trade/charge", body)
		req.Body = httptest.NewRequest("POST", "/", bytes.NewBufferString(
			chargeBody(t, "order-002", "9999.00", "alice"))).Body
		w := s.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "InvalidSignature")
	})

	t.Run("时间戳过期", func(t *testing.T) {
		stale := time.Now().Add(-5 * time.Minute).Unix()
		token, err := sign.BuildToken(testAppID, "POST", "/api/v1/trade/charge", body, stale, s.appSigner)
		require.NoError(t, err)
		req := httptest.NewRequest("POST", "/api/v1/trade/charge", bytes.NewBufferString(body))
		req.Header.Set("Authorization", sign.SignType+" "+token)
		w := s.do(req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestPayTradeWithJWT(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, model.UserOwner("alice", "Alice"), "50.00")

	claims := jwt.MapClaims{
		"sub":  "alice",
		"name": "Alice",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	payerJWT, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	body, err := json.Marshal(map[string]string{
		"subject":        "云主机月度计费",
		"order_id":       "order-jwt-001",
		"amounts":        "12.00",
		"app_service_id": testAppServiceID,
		"payer_jwt":      payerJWT,
	})
	require.NoError(t, err)

	w := s.do(s.signedRequest(t, "POST", "/api/v1/trade/pay", string(body)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got model.PaymentHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "alice", got.PayerID)
	assert.Equal(t, "Alice", got.PayerName)

	t.Run("无效的身份令牌", func(t *testing.T) {
		bad, err := json.Marshal(map[string]string{
			"subject":        "云主机月度计费",
			"order_id":       "order-jwt-002",
			"amounts":        "12.00",
			"app_service_id": testAppServiceID,
			"payer_jwt":      "not-a-jwt",
		})
		require.NoError(t, err)
		w := s.do(s.signedRequest(t, "POST", "/api/v1/trade/pay", string(bad)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "InvalidJWT")
	})
}

func TestQueryTradeAndRefundFlow(t *testing.T) {
	s := newTestServer(t)
	s.seedAccount(t, model.UserOwner("alice", "alice"), "100.00")

	w := s.do(s.signedRequest(t, "POST", "/api/v1/trade/charge",
		chargeBody(t, "order-flow", "10.00", "alice")))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var trade model.PaymentHistory
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trade))

	t.Run("按交易编号查询", func(t *testing.T) {
		uri := "/api/v1/trade/query/trade/" + trade.ID
		w := s.do(s.signedRequest(t, "GET", uri, ""))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), trade.ID)
	})

	t.Run("退款并附带已退款金额查询", func(t *testing.T) {
		refundBody, err := json.Marshal(map[string]string{
			"trade_id":      trade.ID,
			"out_refund_id": "refund-flow-001",
			"refund_amount": "4.00",
			"refund_reason": "用户取消订单",
		})
		require.NoError(t, err)
		w := s.do(s.signedRequest(t, "POST", "/api/v1/trade/refund", string(refundBody)))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var record model.RefundRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
		assert.Equal(t, model.RefundStatusSuccess, record.Status)

		uri := "/api/v1/trade/query/trade/" + trade.ID + "?query_refunded=true"
		w = s.do(s.signedRequest(t, "GET", uri, ""))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var detail struct {
			RefundedAmounts decimal.Decimal `json:"refunded_amounts"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
		assert.True(t, detail.RefundedAmounts.Equal(decimal.RequireFromString("4.00")))
	})

	t.Run("交易流水账单", func(t *testing.T) {
		timeStart := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
		timeEnd := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
		uri := "/api/v1/trade/bill/transaction?trade_time_start=" + timeStart + "&trade_time_end=" + timeEnd
		w := s.do(s.signedRequest(t, "GET", uri, ""))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var page service.BillPage
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
		assert.Len(t, page.Results, 2)
	})

	t.Run("交易流水账单参数校验", func(t *testing.T) {
		timeStart := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
		timeEnd := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
		window := "trade_time_start=" + timeStart + "&trade_time_end=" + timeEnd

		// 时间段参数名必须是 trade_time_start / trade_time_end
		uri := "/api/v1/trade/bill/transaction?time_start=" + timeStart + "&time_end=" + timeEnd
		w := s.do(s.signedRequest(t, "GET", uri, ""))
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

		// page_size 带非数字尾巴要拒绝
		uri = "/api/v1/trade/bill/transaction?" + window + "&page_size=10abc"
		w = s.do(s.signedRequest(t, "GET", uri, ""))
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.Contains(t, w.Body.String(), "page_size")
	})
}

func TestPublicKeyEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/trade/sign/public-key", nil)
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BEGIN PUBLIC KEY")
}

func TestAccountEndpoints(t *testing.T) {
	s := newTestServer(t)

	body, err := json.Marshal(map[string]string{
		"owner_type": "user",
		"owner_id":   "alice",
		"amounts":    "66.00",
		"operator":   "admin",
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/account/recharge", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(httptest.NewRequest("GET", "/api/v1/account/balance?owner_type=user&owner_id=alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var account model.PointAccount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("66.00")))

	w = s.do(httptest.NewRequest("GET", "/api/v1/account/balance?owner_type=user&owner_id=nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
