package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/middleware"
	"github.com/Ali-Mohammed/openRadius-sub010/internal/wallet"
)

// MockService implements ServiceInterface for handler tests.
type MockService struct {
	ActivateFunc      func(ctx context.Context, req *ActivateRequest) (*Activation, error)
	GetFunc           func(ctx context.Context, id string) (*StatusResponse, error)
	CancelFunc        func(ctx context.Context, id, reason, actedBy string) (*Activation, error)
	RollbackFunc      func(ctx context.Context, id, reason, actedBy string) (*Activation, error)
	ReverseFunc       func(ctx context.Context, id, reason, actedBy string) (*Activation, error)
	ReplayOutcomeFunc func(ctx context.Context, id string, req *OutcomeRequest) (*Activation, error)
}

func (m *MockService) Activate(ctx context.Context, req *ActivateRequest) (*Activation, error) {
	if m.ActivateFunc != nil {
		return m.ActivateFunc(ctx, req)
	}
	return nil, fmt.Errorf("ActivateFunc not set")
}

func (m *MockService) Get(ctx context.Context, id string) (*StatusResponse, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, fmt.Errorf("GetFunc not set")
}

func (m *MockService) Cancel(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id, reason, actedBy)
	}
	return nil, fmt.Errorf("CancelFunc not set")
}

func (m *MockService) Rollback(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
	if m.RollbackFunc != nil {
		return m.RollbackFunc(ctx, id, reason, actedBy)
	}
	return nil, fmt.Errorf("RollbackFunc not set")
}

func (m *MockService) Reverse(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
	if m.ReverseFunc != nil {
		return m.ReverseFunc(ctx, id, reason, actedBy)
	}
	return nil, fmt.Errorf("ReverseFunc not set")
}

func (m *MockService) ReplayOutcome(ctx context.Context, id string, req *OutcomeRequest) (*Activation, error) {
	if m.ReplayOutcomeFunc != nil {
		return m.ReplayOutcomeFunc(ctx, id, req)
	}
	return nil, fmt.Errorf("ReplayOutcomeFunc not set")
}

var _ ServiceInterface = (*MockService)(nil)

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}

func TestHandlerActivate(t *testing.T) {
	log := logger.New("test")

	tests := []struct {
		name           string
		body           interface{}
		mockResponse   *Activation
		mockError      error
		expectedStatus int
	}{
		{
			name:           "accepted",
			body:           ActivateRequest{SubscriberID: "sub-1", BillingProfileID: "bp-1"},
			mockResponse:   &Activation{ID: "act-1", Status: StatusAwaitingExternal},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "invalid request body",
			body:           "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "insufficient funds",
			body:           ActivateRequest{SubscriberID: "sub-1", BillingProfileID: "bp-1"},
			mockResponse:   &Activation{ID: "act-2", Status: StatusFailed},
			mockError:      fmt.Errorf("reserve: %w", wallet.ErrInsufficientFunds),
			expectedStatus: http.StatusPaymentRequired,
		},
		{
			name:           "busy",
			body:           ActivateRequest{SubscriberID: "sub-1", BillingProfileID: "bp-1"},
			mockError:      ErrBusy,
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *ActivateRequest
			mockService := &MockService{
				ActivateFunc: func(ctx context.Context, req *ActivateRequest) (*Activation, error) {
					got = req
					return tt.mockResponse, tt.mockError
				},
			}
			handler := NewHandler(mockService, log)

			var bodyBytes []byte
			if str, ok := tt.body.(string); ok {
				bodyBytes = []byte(str)
			} else {
				bodyBytes, _ = json.Marshal(tt.body)
			}
			req := httptest.NewRequest("POST", "/api/v1/activations", bytes.NewBuffer(bodyBytes))
			req.Header.Set("Idempotency-Key", "key-1")
			req = withUser(req, "agent-1")

			rr := httptest.NewRecorder()
			handler.Activate(rr, req)
			assert.Equal(t, tt.expectedStatus, rr.Code)

			if got != nil {
				assert.Equal(t, "agent-1", got.ActedBy)
				assert.Equal(t, "key-1", got.IdempotencyKey)
			}
			if tt.mockError != nil && tt.mockResponse != nil {
				var resp ErrorResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, tt.mockResponse.ID, resp.ActivationID)
				assert.Equal(t, tt.mockResponse.Status, resp.Status)
			}
		})
	}
}

func TestHandlerGet(t *testing.T) {
	log := logger.New("test")
	mockService := &MockService{
		GetFunc: func(ctx context.Context, id string) (*StatusResponse, error) {
			if id != "act-1" {
				return nil, fmt.Errorf("%w: %s", ErrActivationNotFound, id)
			}
			return &StatusResponse{Activation: &Activation{ID: id, Status: StatusCompleted}, Attempts: []Attempt{}}, nil
		},
	}
	mux := http.NewServeMux()
	NewHandler(mockService, log).RegisterInternalRoutes(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/internal/activations/act-1", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, StatusCompleted, resp.Activation.Status)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/internal/activations/act-9", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerCancelPassesReason(t *testing.T) {
	log := logger.New("test")
	var gotID, gotReason, gotActor string
	mockService := &MockService{
		CancelFunc: func(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
			gotID, gotReason, gotActor = id, reason, actedBy
			return &Activation{ID: id, Status: StatusRolledBack}, nil
		},
		RollbackFunc: func(ctx context.Context, id, reason, actedBy string) (*Activation, error) {
			return &Activation{ID: id, Status: StatusCompleted}, fmt.Errorf("%w: activation is completed", ErrInvalidTransition)
		},
	}
	handler := NewHandler(mockService, log)

	body, _ := json.Marshal(ReasonRequest{Reason: "customer request"})
	req := httptest.NewRequest("POST", "/api/v1/activations/act-1/cancel", bytes.NewBuffer(body))
	req.SetPathValue("id", "act-1")
	rr := httptest.NewRecorder()
	handler.Cancel(rr, withUser(req, "agent-1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "act-1", gotID)
	assert.Equal(t, "customer request", gotReason)
	assert.Equal(t, "agent-1", gotActor)

	req = httptest.NewRequest("POST", "/api/v1/activations/act-1/rollback", nil)
	req.SetPathValue("id", "act-1")
	rr = httptest.NewRecorder()
	handler.Rollback(rr, withUser(req, "admin"))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerRoutesRequireAuth(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(&MockService{}, logger.New("test")).RegisterRoutes(mux, "secret")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/v1/activations/act-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandlerReplayOutcome(t *testing.T) {
	log := logger.New("test")
	mockService := &MockService{
		ReplayOutcomeFunc: func(ctx context.Context, id string, req *OutcomeRequest) (*Activation, error) {
			if req.StatusCode == 0 {
				return nil, fmt.Errorf("%w: status_code must be a valid HTTP status", ErrValidation)
			}
			return &Activation{ID: id, Status: StatusCompleted}, nil
		},
	}
	mux := http.NewServeMux()
	NewHandler(mockService, log).RegisterInternalRoutes(mux)

	body, _ := json.Marshal(OutcomeRequest{StatusCode: http.StatusOK, Message: "ok"})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/internal/activations/act-1/outcome", bytes.NewBuffer(body)))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/internal/activations/act-1/outcome", bytes.NewBufferString("{}")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(ErrValidation))
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("%w: x", ErrActivationNotFound)))
	assert.Equal(t, http.StatusConflict, StatusFor(ErrAlreadyReversed))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(wallet.ErrLimitExceeded))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(wallet.ErrWalletInactive))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(fmt.Errorf("db down")))
}
