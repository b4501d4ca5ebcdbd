package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spei-ledger/internal/api_gateway/service"
	"github.com/spei-ledger/internal/authz"
	"github.com/spei-ledger/internal/domain/account"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Create(ctx context.Context, actor authz.Actor, in service.CreateAccountInput) (*account.ClabeAccount, error) {
	args := m.Called(ctx, actor, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.ClabeAccount), args.Error(1)
}

func (m *MockAccountService) List(ctx context.Context, actor authz.Actor, companyID *uuid.UUID) ([]*account.ClabeAccount, error) {
	args := m.Called(ctx, actor, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*account.ClabeAccount), args.Error(1)
}

func (m *MockAccountService) Balance(ctx context.Context, actor authz.Actor, id uuid.UUID) (*service.AccountBalance, error) {
	args := m.Called(ctx, actor, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AccountBalance), args.Error(1)
}

func (m *MockAccountService) Deactivate(ctx context.Context, actor authz.Actor, id uuid.UUID) error {
	args := m.Called(ctx, actor, id)
	return args.Error(0)
}

func sampleAccount() *account.ClabeAccount {
	return &account.ClabeAccount{
		ID:         uuid.New(),
		CompanyID:  testCompanyID,
		Clabe:      "646180000000000012",
		BankCode:   "90646",
		Alias:      "Operativa",
		HolderName: "ACME SA DE CV",
		Active:     true,
		CreatedAt:  testCreatedAt,
		UpdatedAt:  testCreatedAt,
	}
}

func TestAccountHandler_Create(t *testing.T) {
	testCases := []struct {
		name           string
		body           interface{}
		serviceErr     error
		expectedStatus int
		expectedCode   string
		callsService   bool
	}{
		{
			name:           "Success",
			body:           CreateAccountRequest{Clabe: "646180000000000012", BankCode: "90646", Alias: "Operativa", HolderName: "ACME SA DE CV"},
			expectedStatus: http.StatusCreated,
			callsService:   true,
		},
		{
			name:           "DuplicateClabe",
			body:           CreateAccountRequest{Clabe: "646180000000000012", BankCode: "90646", HolderName: "ACME"},
			serviceErr:     account.ErrDuplicateClabe{Clabe: "646180000000000012"},
			expectedStatus: http.StatusConflict,
			expectedCode:   "DUPLICATE_CLABE",
			callsService:   true,
		},
		{
			name:           "BadCheckDigit",
			body:           CreateAccountRequest{Clabe: "646180000000000026", BankCode: "90646", HolderName: "ACME"},
			serviceErr:     account.ErrInvalidClabe,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
			callsService:   true,
		},
		{
			name:           "Forbidden",
			body:           CreateAccountRequest{Clabe: "646180000000000012", BankCode: "90646", HolderName: "ACME"},
			serviceErr:     authz.Authorize(testActor, authz.Resource{CompanyID: &testCompanyID}, authz.ActionAccountManage).Err(),
			expectedStatus: http.StatusForbidden,
			expectedCode:   "FORBIDDEN",
			callsService:   true,
		},
		{
			name:           "MissingHolder",
			body:           `{"clabe":"646180000000000012","bank_code":"90646"}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
		{
			name:           "BadCompanyID",
			body:           `{"company_id":"acme","clabe":"646180000000000012","bank_code":"90646","holder_name":"ACME"}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "BAD_REQUEST",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockService := new(MockAccountService)
			router := setupTestRouter()
			router.POST("/accounts", NewAccountHandler(testLogger, mockService).Create)

			if tc.callsService {
				if tc.serviceErr != nil {
					mockService.On("Create", mock.Anything, testActor, mock.Anything).Return(nil, tc.serviceErr).Once()
				} else {
					mockService.On("Create", mock.Anything, testActor, mock.MatchedBy(func(in service.CreateAccountInput) bool {
						return in.CompanyID == nil && in.Clabe == "646180000000000012" && in.Alias == "Operativa"
					})).Return(sampleAccount(), nil).Once()
				}
			}

			rr := serve(router, http.MethodPost, "/accounts", tc.body)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedCode != "" {
				assert.Equal(t, tc.expectedCode, errorCode(t, rr))
			} else {
				var body AccountResponse
				decodeData(t, rr, &body)
				assert.Equal(t, testCompanyID.String(), body.CompanyID)
				assert.True(t, body.Active)
			}
			if !tc.callsService {
				mockService.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestAccountHandler_List(t *testing.T) {
	t.Run("OwnCompany", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := setupTestRouter()
		router.GET("/accounts", NewAccountHandler(testLogger, mockService).List)

		mockService.On("List", mock.Anything, testActor, (*uuid.UUID)(nil)).
			Return([]*account.ClabeAccount{sampleAccount()}, nil).Once()

		rr := serve(router, http.MethodGet, "/accounts", nil)

		assert.Equal(t, http.StatusOK, rr.Code)
		var body []AccountResponse
		decodeData(t, rr, &body)
		require.Len(t, body, 1)
		assert.Equal(t, "646180000000000012", body[0].Clabe)
	})

	t.Run("ExplicitCompany", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := setupTestRouter()
		router.GET("/accounts", NewAccountHandler(testLogger, mockService).List)

		other := uuid.New()
		mockService.On("List", mock.Anything, testActor, &other).
			Return(nil, authz.Authorize(testActor, authz.Resource{CompanyID: &other}, authz.ActionTransactionRead).Err()).Once()

		rr := serve(router, http.MethodGet, "/accounts?company_id="+other.String(), nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		mockService.AssertExpectations(t)
	})

	t.Run("BadCompanyID", func(t *testing.T) {
		mockService := new(MockAccountService)
		router := setupTestRouter()
		router.GET("/accounts", NewAccountHandler(testLogger, mockService).List)

		rr := serve(router, http.MethodGet, "/accounts?company_id=acme", nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		mockService.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestAccountHandler_Balance(t *testing.T) {
	mockService := new(MockAccountService)
	router := setupTestRouter()
	router.GET("/accounts/:id/balance", NewAccountHandler(testLogger, mockService).Balance)

	id := uuid.New()
	mockService.On("Balance", mock.Anything, testActor, id).Return(&service.AccountBalance{
		AccountID:         id,
		Clabe:             "646180000000000012",
		Net:               decimal.RequireFromString("1000"),
		Available:         decimal.RequireFromString("499.5"),
		OutgoingInTransit: decimal.RequireFromString("500.5"),
	}, nil).Once()

	rr := serve(router, http.MethodGet, "/accounts/"+id.String()+"/balance", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body BalanceResponse
	decodeData(t, rr, &body)
	assert.Equal(t, "1000.00", body.Net)
	assert.Equal(t, "499.50", body.Available)
	assert.Equal(t, "500.50", body.OutgoingInTransit)

	missing := uuid.New()
	mockService.On("Balance", mock.Anything, testActor, missing).Return(nil, account.ErrAccountNotFound{AccountID: missing}).Once()
	rr = serve(router, http.MethodGet, "/accounts/"+missing.String()+"/balance", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAccountHandler_Deactivate(t *testing.T) {
	mockService := new(MockAccountService)
	router := setupTestRouter()
	router.DELETE("/accounts/:id", NewAccountHandler(testLogger, mockService).Deactivate)

	id := uuid.New()
	mockService.On("Deactivate", mock.Anything, testActor, id).Return(nil).Once()

	rr := serve(router, http.MethodDelete, "/accounts/"+id.String(), nil)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
	mockService.AssertExpectations(t)
}
