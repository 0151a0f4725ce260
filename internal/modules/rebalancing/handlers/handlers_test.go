package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/bridgebot/internal/cycle"
	"github.com/aristath/bridgebot/internal/domain"
	"github.com/aristath/bridgebot/internal/modules/rebalancing"
	testingpkg "github.com/aristath/bridgebot/internal/testing"
)

type mockCycles struct {
	mock.Mock
}

func (m *mockCycles) Run(ctx context.Context, strategy string) (cycle.Report, error) {
	args := m.Called(ctx, strategy)
	return args.Get(0).(cycle.Report), args.Error(1)
}

func (m *mockCycles) Preview(ctx context.Context, strategy string) (cycle.Preview, error) {
	args := m.Called(ctx, strategy)
	return args.Get(0).(cycle.Preview), args.Error(1)
}

func newRouter(cycles Cycles) chi.Router {
	h := NewHandler(cycles, time.Minute, zerolog.New(nil).Level(zerolog.Disabled))
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandleTrigger(t *testing.T) {
	tests := []struct {
		name       string
		report     cycle.Report
		err        error
		wantStatus int
		wantReport bool
	}{
		{
			name:       "success",
			report:     cycle.Report{CycleID: "c1", Strategy: "alpha", Rebalanced: true},
			wantStatus: http.StatusOK,
			wantReport: true,
		},
		{
			name:       "unknown strategy",
			err:        fmt.Errorf("%w: alpha", domain.ErrStrategyNotFound),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "cycle in flight",
			err:        fmt.Errorf("%w: alpha", domain.ErrCycleInFlight),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "persistence conflict keeps the report",
			report:     cycle.Report{CycleID: "c2", Strategy: "alpha"},
			err:        domain.ErrPersistenceConflict,
			wantStatus: http.StatusConflict,
			wantReport: true,
		},
		{
			name:       "failure before execution",
			report:     cycle.Report{},
			err:        errors.New("feed down"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycles := &mockCycles{}
			cycles.On("Run", mock.Anything, "alpha").Return(tt.report, tt.err)

			rec := do(newRouter(cycles), http.MethodPost, "/rebalancing/alpha")
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			_, hasReport := body["report"]
			assert.Equal(t, tt.wantReport, hasReport)
			if tt.err != nil {
				assert.NotEmpty(t, body["error"])
			}
			cycles.AssertExpectations(t)
		})
	}
}

func TestHandleTrigger_DetachesFromRequest(t *testing.T) {
	cycles := &mockCycles{}
	cycles.On("Run", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), "alpha").Return(cycle.Report{CycleID: "c1"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/rebalancing/alpha", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	newRouter(cycles).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	ran := cycles.Calls[0].Arguments.Get(0).(context.Context)
	assert.NoError(t, ran.Err(), "a cancelled request must not cancel the cycle")
}

func TestHandlePreview(t *testing.T) {
	cycles := &mockCycles{}
	orders := []domain.Allocation{testingpkg.Alloc("BTC", "0.025", "500")}
	cycles.On("Preview", mock.Anything, "alpha").Return(cycle.Preview{
		Strategy: "alpha",
		Capital:  testingpkg.Dec("1000"),
		Orders:   orders,
		Summary:  rebalancing.Summarize(orders),
	}, nil)
	cycles.On("Preview", mock.Anything, "ghost").Return(cycle.Preview{}, domain.ErrStrategyNotFound)
	cycles.On("Preview", mock.Anything, "broken").Return(cycle.Preview{}, errors.New("no prices"))
	r := newRouter(cycles)

	rec := do(r, http.MethodGet, "/rebalancing/alpha/preview")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Strategy string `json:"strategy"`
		Capital  string `json:"capital"`
		Orders   []struct {
			Asset struct {
				Ticker string `json:"ticker"`
			} `json:"asset"`
			Quantity string `json:"quantity"`
		} `json:"orders"`
		Summary rebalancing.Summary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "1000", body.Capital)
	require.Len(t, body.Orders, 1)
	assert.Equal(t, "BTC", body.Orders[0].Asset.Ticker)
	assert.Equal(t, "0.025", body.Orders[0].Quantity)
	assert.Equal(t, 1, body.Summary.Buys)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/rebalancing/ghost/preview").Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/rebalancing/broken/preview").Code)
}
