package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ali-Mohammed/openRadius-sub010/internal/common/logger"
)

// MockService implements ServiceInterface for handler tests.
type MockService struct {
	CreateWalletFunc       func(ctx context.Context, req *CreateWalletRequest) (*Wallet, error)
	GetWalletFunc          func(ctx context.Context, ref Ref) (*Wallet, error)
	GetBalanceFunc         func(ctx context.Context, ref Ref) (*BalanceResponse, error)
	ListWalletsByOwnerFunc func(ctx context.Context, ownerID string) ([]Wallet, error)
	UpdateStatusFunc       func(ctx context.Context, ref Ref, req *UpdateStatusRequest) (*Wallet, error)
	DeleteWalletFunc       func(ctx context.Context, ref Ref) error
}

func (m *MockService) CreateWallet(ctx context.Context, req *CreateWalletRequest) (*Wallet, error) {
	if m.CreateWalletFunc != nil {
		return m.CreateWalletFunc(ctx, req)
	}
	return nil, fmt.Errorf("CreateWalletFunc not set")
}

func (m *MockService) GetWallet(ctx context.Context, ref Ref) (*Wallet, error) {
	if m.GetWalletFunc != nil {
		return m.GetWalletFunc(ctx, ref)
	}
	return nil, fmt.Errorf("GetWalletFunc not set")
}

func (m *MockService) GetBalance(ctx context.Context, ref Ref) (*BalanceResponse, error) {
	if m.GetBalanceFunc != nil {
		return m.GetBalanceFunc(ctx, ref)
	}
	return nil, fmt.Errorf("GetBalanceFunc not set")
}

func (m *MockService) ListWalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	if m.ListWalletsByOwnerFunc != nil {
		return m.ListWalletsByOwnerFunc(ctx, ownerID)
	}
	return nil, fmt.Errorf("ListWalletsByOwnerFunc not set")
}

func (m *MockService) UpdateStatus(ctx context.Context, ref Ref, req *UpdateStatusRequest) (*Wallet, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, ref, req)
	}
	return nil, fmt.Errorf("UpdateStatusFunc not set")
}

func (m *MockService) DeleteWallet(ctx context.Context, ref Ref) error {
	if m.DeleteWalletFunc != nil {
		return m.DeleteWalletFunc(ctx, ref)
	}
	return fmt.Errorf("DeleteWalletFunc not set")
}

var _ ServiceInterface = (*MockService)(nil)

// serve routes the request through the internal mux so path values are set.
func serve(h *Handler, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterInternalRoutes(mux)
	mux.HandleFunc("PUT /api/v1/internal/wallets/{kind}/{id}/status", h.UpdateStatus)
	mux.HandleFunc("DELETE /api/v1/internal/wallets/{kind}/{id}", h.DeleteWallet)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestHandlerCreateWallet(t *testing.T) {
	log := logger.New("test")

	tests := []struct {
		name           string
		body           interface{}
		mockResponse   *Wallet
		mockError      error
		expectedStatus int
	}{
		{
			name:           "successful wallet creation",
			body:           CreateWalletRequest{Kind: KindUser, OwnerID: "agent-1"},
			mockResponse:   &Wallet{ID: "agent-1", Kind: KindUser, OwnerID: "agent-1", Status: StatusActive},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid request body",
			body:           "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "validation error",
			body:           CreateWalletRequest{Kind: "shared"},
			mockError:      fmt.Errorf("validation failed: kind must be custom or user"),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "duplicate wallet",
			body:           CreateWalletRequest{Kind: KindUser, OwnerID: "agent-1"},
			mockError:      fmt.Errorf("%w: user:agent-1", ErrWalletExists),
			expectedStatus: http.StatusConflict,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHandler(&MockService{
				CreateWalletFunc: func(ctx context.Context, req *CreateWalletRequest) (*Wallet, error) {
					return tt.mockResponse, tt.mockError
				},
			}, log)

			var bodyBytes []byte
			if str, ok := tt.body.(string); ok {
				bodyBytes = []byte(str)
			} else {
				bodyBytes, _ = json.Marshal(tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/wallets", bytes.NewBuffer(bodyBytes))
			rr := httptest.NewRecorder()
			handler.CreateWallet(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusCreated {
				var resp WalletResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.Equal(t, tt.mockResponse.ID, resp.Wallet.ID)
			}
		})
	}
}

func TestHandlerGetWallet(t *testing.T) {
	log := logger.New("test")

	var gotRef Ref
	handler := NewHandler(&MockService{
		GetWalletFunc: func(ctx context.Context, ref Ref) (*Wallet, error) {
			gotRef = ref
			if ref.ID == "missing" {
				return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, ref)
			}
			return &Wallet{ID: ref.ID, Kind: ref.Kind, Balance: decimal.RequireFromString("100.5"), Status: StatusActive}, nil
		},
	}, log)

	rr := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/internal/wallets/custom/C", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, CustomRef("C"), gotRef)

	var resp WalletResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.True(t, resp.Wallet.Balance.Equal(decimal.RequireFromString("100.5")))

	rr = serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/internal/wallets/user/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/internal/wallets/bank/1", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerGetBalance(t *testing.T) {
	handler := NewHandler(&MockService{
		GetBalanceFunc: func(ctx context.Context, ref Ref) (*BalanceResponse, error) {
			return &BalanceResponse{Wallet: ref.String(), Balance: decimal.NewFromInt(42), Cached: true}, nil
		},
	}, logger.New("test"))

	rr := serve(handler, httptest.NewRequest(http.MethodGet, "/api/v1/internal/wallets/user/agent-1/balance", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp BalanceResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "user:agent-1", resp.Wallet)
	assert.True(t, resp.Cached)
}

func TestHandlerUpdateStatusAndDelete(t *testing.T) {
	handler := NewHandler(&MockService{
		UpdateStatusFunc: func(ctx context.Context, ref Ref, req *UpdateStatusRequest) (*Wallet, error) {
			return &Wallet{ID: ref.ID, Kind: ref.Kind, Status: req.Status}, nil
		},
		DeleteWalletFunc: func(ctx context.Context, ref Ref) error {
			return nil
		},
	}, logger.New("test"))

	body, _ := json.Marshal(UpdateStatusRequest{Status: StatusDisabled})
	rr := serve(handler, httptest.NewRequest(http.MethodPut, "/api/v1/internal/wallets/custom/C/status", bytes.NewBuffer(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp WalletResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, StatusDisabled, resp.Wallet.Status)

	rr = serve(handler, httptest.NewRequest(http.MethodDelete, "/api/v1/internal/wallets/custom/C", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestHandlerRoutesRequireAuth(t *testing.T) {
	handler := NewHandler(&MockService{}, logger.New("test"))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, "secret")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/wallets/user/agent-1", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(ErrWalletNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(ErrWalletExists))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(fmt.Errorf("wrap: %w", ErrInsufficientFunds)))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(ErrLimitExceeded))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(ErrWalletInactive))
	assert.Equal(t, http.StatusBadRequest, StatusFor(fmt.Errorf("validation failed")))
}
