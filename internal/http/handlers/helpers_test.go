package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-broker/internal/domain/entity"
	"github.com/ignatzorin/escrow-broker/internal/dto"
	"github.com/ignatzorin/escrow-broker/internal/models"
	"github.com/ignatzorin/escrow-broker/internal/service"
)

const (
	sellerID int64 = 11
	buyerID  int64 = 22
	adminID  int64 = 99
)

var testTokens = service.NewTokenManager("handler-test-secret", time.Hour)

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func bearer(t *testing.T, userID int64, role string) string {
	t.Helper()
	token, _, err := testTokens.Generate(userID, role)
	require.NoError(t, err)
	return "Bearer " + token
}

func doJSON(t *testing.T, r http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

type mockDealRepo struct {
	mock.Mock
}

func (m *mockDealRepo) Create(ctx context.Context, deal *entity.Deal) error {
	return m.Called(ctx, deal).Error(0)
}

func (m *mockDealRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Deal, error) {
	args := m.Called(ctx, id)
	if d, ok := args.Get(0).(*entity.Deal); ok {
		c := *d
		return &c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDealRepo) Update(ctx context.Context, deal *entity.Deal) error {
	return m.Called(ctx, deal).Error(0)
}

func (m *mockDealRepo) List(ctx context.Context, filter models.DealFilter) ([]entity.Deal, error) {
	args := m.Called(ctx, filter)
	deals, _ := args.Get(0).([]entity.Deal)
	return deals, args.Error(1)
}

func (m *mockDealRepo) DeleteCancelled(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	args := m.Called(ctx, id, cutoff)
	return args.Bool(0), args.Error(1)
}

func (m *mockDealRepo) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	args := m.Called(ctx)
	counts, _ := args.Get(0).(models.StatusCounts)
	return counts, args.Error(1)
}

func (m *mockDealRepo) Statistics(ctx context.Context, since time.Time, topN int) (*models.DealStatistics, error) {
	args := m.Called(ctx, since, topN)
	stats, _ := args.Get(0).(*models.DealStatistics)
	return stats, args.Error(1)
}

type allowBans struct{}

func (allowBans) EnsureNotBanned(context.Context, int64, string, models.RequestMeta) error {
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, int64, string, any) {}

func newDealService(repo service.DealRepository) *service.DealService {
	return service.NewDealService(repo, allowBans{}, nopNotifier{}, decimal.RequireFromString("0.05"), nullLogger())
}

func pendingDeal(t *testing.T) *entity.Deal {
	t.Helper()
	d, err := entity.NewDeal(sellerID, "Игровой аккаунт", "", decimal.NewFromInt(100), decimal.RequireFromString("0.05"), nil)
	require.NoError(t, err)
	return d
}
