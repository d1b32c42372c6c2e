package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Anya-org/dlcd/internal/core/application"
	"github.com/Anya-org/dlcd/internal/core/domain"
	"github.com/Anya-org/dlcd/internal/core/ports"
	"github.com/Anya-org/dlcd/internal/interface/http/handlers"
	"github.com/Anya-org/dlcd/pkg/dlc-lib/oracle"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockedService struct {
	mock.Mock
}

func (m *mockedService) Start() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockedService) Stop() {
	m.Called()
}

func (m *mockedService) CreateContract(
	ctx context.Context, req application.CreateContractRequest,
) (*application.OfferMessage, error) {
	args := m.Called(ctx, req)
	var res *application.OfferMessage
	if a := args.Get(0); a != nil {
		res = a.(*application.OfferMessage)
	}
	return res, args.Error(1)
}

func (m *mockedService) AcceptContract(
	ctx context.Context, offer application.OfferMessage,
) (*application.AcceptMessage, error) {
	args := m.Called(ctx, offer)
	var res *application.AcceptMessage
	if a := args.Get(0); a != nil {
		res = a.(*application.AcceptMessage)
	}
	return res, args.Error(1)
}

func (m *mockedService) SignContract(
	ctx context.Context, accept application.AcceptMessage,
) (*application.SignMessage, error) {
	args := m.Called(ctx, accept)
	var res *application.SignMessage
	if a := args.Get(0); a != nil {
		res = a.(*application.SignMessage)
	}
	return res, args.Error(1)
}

func (m *mockedService) FinalizeContract(
	ctx context.Context, sign application.SignMessage,
) (*application.ContractStatus, error) {
	args := m.Called(ctx, sign)
	return statusResult(args)
}

func (m *mockedService) GetContractStatus(
	ctx context.Context, contractId string,
) (*application.ContractStatus, error) {
	args := m.Called(ctx, contractId)
	return statusResult(args)
}

func (m *mockedService) ListContracts(
	ctx context.Context, states ...domain.ContractState,
) ([]application.ContractStatus, error) {
	args := m.Called(ctx, states)
	var res []application.ContractStatus
	if a := args.Get(0); a != nil {
		res = a.([]application.ContractStatus)
	}
	return res, args.Error(1)
}

func (m *mockedService) Settle(
	ctx context.Context, contractId string,
) (*application.ContractStatus, error) {
	args := m.Called(ctx, contractId)
	return statusResult(args)
}

func (m *mockedService) Refund(
	ctx context.Context, contractId string,
) (*application.ContractStatus, error) {
	args := m.Called(ctx, contractId)
	return statusResult(args)
}

func (m *mockedService) GetInfo(ctx context.Context) (*application.ServiceInfo, error) {
	args := m.Called(ctx)
	var res *application.ServiceInfo
	if a := args.Get(0); a != nil {
		res = a.(*application.ServiceInfo)
	}
	return res, args.Error(1)
}

func (m *mockedService) ListAnnouncements(
	ctx context.Context, oracleId string,
) ([]oracle.Announcement, error) {
	args := m.Called(ctx, oracleId)
	var res []oracle.Announcement
	if a := args.Get(0); a != nil {
		res = a.([]oracle.Announcement)
	}
	return res, args.Error(1)
}

func statusResult(args mock.Arguments) (*application.ContractStatus, error) {
	var res *application.ContractStatus
	if a := args.Get(0); a != nil {
		res = a.(*application.ContractStatus)
	}
	return res, args.Error(1)
}

func newTestServer(t *testing.T, svc application.Service) *httptest.Server {
	registry := prometheus.NewRegistry()
	router, err := handlers.NewRouter(svc, registry, registry)
	require.NoError(t, err)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doRequest(
	t *testing.T, method, url string, body interface{},
) (int, []byte) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, respBody
}

func TestContractRoutes(t *testing.T) {
	contractId := uuid.New().String()
	anyCtx := mock.Anything

	t.Run("valid", func(t *testing.T) {
		svc := &mockedService{}
		server := newTestServer(t, svc)

		expectedReq := application.CreateContractRequest{
			EventId: "btc-height",
			Outcomes: []domain.Payout{
				{Outcome: "HEIGHT>=800000", OfferPayout: 60_000_000, AcceptPayout: 40_000_000},
				{Outcome: "HEIGHT<800000", OfferPayout: 30_000_000, AcceptPayout: 70_000_000},
			},
			OfferCollateral:  50_000_000,
			AcceptCollateral: 50_000_000,
			FeeRate:          2,
		}
		offer := &application.OfferMessage{ContractId: contractId}
		svc.On("CreateContract", anyCtx, expectedReq).Return(offer, nil)

		code, body := doRequest(t, http.MethodPost, server.URL+"/v1/contracts", map[string]interface{}{
			"eventId": "btc-height",
			"outcomes": []map[string]interface{}{
				{"outcome": "HEIGHT>=800000", "offerPayout": 60_000_000, "acceptPayout": 40_000_000},
				{"outcome": "HEIGHT<800000", "offerPayout": 30_000_000, "acceptPayout": 70_000_000},
			},
			"offerCollateral":  50_000_000,
			"acceptCollateral": 50_000_000,
			"feeRate":          2,
		})
		require.Equal(t, http.StatusCreated, code)
		var gotOffer application.OfferMessage
		require.NoError(t, json.Unmarshal(body, &gotOffer))
		require.Equal(t, contractId, gotOffer.ContractId)

		accept := &application.AcceptMessage{ContractId: contractId, TermsHash: "hash"}
		svc.On("AcceptContract", anyCtx, *offer).Return(accept, nil)
		code, body = doRequest(t, http.MethodPost, server.URL+"/v1/contracts/accept", offer)
		require.Equal(t, http.StatusCreated, code)
		var gotAccept application.AcceptMessage
		require.NoError(t, json.Unmarshal(body, &gotAccept))
		require.Equal(t, *accept, gotAccept)

		sign := &application.SignMessage{ContractId: contractId, FundingPsbt: "psbt"}
		svc.On("SignContract", anyCtx, *accept).Return(sign, nil)
		code, body = doRequest(
			t, http.MethodPost, fmt.Sprintf("%s/v1/contracts/%s/sign", server.URL, contractId),
			accept,
		)
		require.Equal(t, http.StatusOK, code)
		var gotSign application.SignMessage
		require.NoError(t, json.Unmarshal(body, &gotSign))
		require.Equal(t, *sign, gotSign)

		status := &application.ContractStatus{Id: contractId, State: "broadcast"}
		svc.On("FinalizeContract", anyCtx, *sign).Return(status, nil)
		svc.On("GetContractStatus", anyCtx, contractId).Return(status, nil)
		svc.On("Settle", anyCtx, contractId).Return(status, nil)
		svc.On("Refund", anyCtx, contractId).Return(status, nil)

		for _, route := range []struct {
			method string
			path   string
			body   interface{}
		}{
			{http.MethodPost, "finalize", sign},
			{http.MethodGet, "", nil},
			{http.MethodPost, "settle", nil},
			{http.MethodPost, "refund", nil},
		} {
			url := fmt.Sprintf("%s/v1/contracts/%s", server.URL, contractId)
			if len(route.path) > 0 {
				url = fmt.Sprintf("%s/%s", url, route.path)
			}
			code, body := doRequest(t, route.method, url, route.body)
			require.Equal(t, http.StatusOK, code, string(body))
			var gotStatus application.ContractStatus
			require.NoError(t, json.Unmarshal(body, &gotStatus))
			require.Equal(t, *status, gotStatus)
		}

		svc.On(
			"ListContracts", anyCtx,
			[]domain.ContractState{domain.ContractStateSigned, domain.ContractStateBroadcast},
		).Return([]application.ContractStatus{*status}, nil)
		code, body = doRequest(
			t, http.MethodGet, server.URL+"/v1/contracts?state=signed,broadcast", nil,
		)
		require.Equal(t, http.StatusOK, code)
		var list struct {
			Contracts []application.ContractStatus `json:"contracts"`
		}
		require.NoError(t, json.Unmarshal(body, &list))
		require.Len(t, list.Contracts, 1)

		info := &application.ServiceInfo{Network: "regtest", Oracles: []string{"olivia"}}
		svc.On("GetInfo", anyCtx).Return(info, nil)
		code, body = doRequest(t, http.MethodGet, server.URL+"/v1/info", nil)
		require.Equal(t, http.StatusOK, code)
		var gotInfo application.ServiceInfo
		require.NoError(t, json.Unmarshal(body, &gotInfo))
		require.Equal(t, *info, gotInfo)

		announcements := []oracle.Announcement{{
			EventId:  "btc-height",
			Outcomes: []string{"HEIGHT>=800000", "HEIGHT<800000"},
			Metadata: map[string]string{"source": "mempool"},
		}}
		svc.On("ListAnnouncements", anyCtx, "olivia").Return(announcements, nil)
		code, body = doRequest(t, http.MethodGet, server.URL+"/v1/oracles/olivia/announcements", nil)
		require.Equal(t, http.StatusOK, code)
		var gotAnnouncements struct {
			Announcements []oracle.Announcement `json:"announcements"`
		}
		require.NoError(t, json.Unmarshal(body, &gotAnnouncements))
		require.Equal(t, announcements, gotAnnouncements.Announcements)

		code, _ = doRequest(t, http.MethodGet, server.URL+"/health", nil)
		require.Equal(t, http.StatusOK, code)

		svc.On("ListContracts", anyCtx, []domain.ContractState(nil)).
			Return([]application.ContractStatus{*status}, nil)
		code, body = doRequest(t, http.MethodGet, server.URL+"/metrics", nil)
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, string(body), `dlcd_contracts{state="broadcast"} 1`)
		require.Contains(t, string(body), `dlcd_http_requests_total{code="200",method="GET",route="/v1/info"} 1`)

		svc.AssertExpectations(t)
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			name         string
			method       string
			path         string
			body         interface{}
			setup        func(svc *mockedService)
			expectedCode int
			expectedErr  string
		}{
			{
				name:         "malformed body",
				method:       http.MethodPost,
				path:         "/v1/contracts",
				body:         "{",
				expectedCode: http.StatusBadRequest,
				expectedErr:  "invalid request body",
			},
			{
				name:         "missing event id",
				method:       http.MethodPost,
				path:         "/v1/contracts",
				body:         map[string]interface{}{"feeRate": 1},
				expectedCode: http.StatusBadRequest,
				expectedErr:  "missing event id",
			},
			{
				name:         "invalid contract id",
				method:       http.MethodGet,
				path:         "/v1/contracts/not-an-id",
				expectedCode: http.StatusBadRequest,
				expectedErr:  "invalid contract id",
			},
			{
				name:         "unknown state",
				method:       http.MethodGet,
				path:         "/v1/contracts?state=pending",
				expectedCode: http.StatusBadRequest,
				expectedErr:  "unknown contract state",
			},
			{
				name:   "contract id mismatch",
				method: http.MethodPost,
				path:   fmt.Sprintf("/v1/contracts/%s/sign", contractId),
				body: application.AcceptMessage{
					ContractId: uuid.New().String(),
				},
				expectedCode: http.StatusBadRequest,
				expectedErr:  "contract id mismatch",
			},
			{
				name:   "contract not found",
				method: http.MethodGet,
				path:   "/v1/contracts/" + contractId,
				setup: func(svc *mockedService) {
					svc.On("GetContractStatus", mock.Anything, contractId).
						Return(nil, domain.ErrContractNotFound)
				},
				expectedCode: http.StatusNotFound,
				expectedErr:  "contract not found",
			},
			{
				name:   "attestation pending",
				method: http.MethodPost,
				path:   fmt.Sprintf("/v1/contracts/%s/settle", contractId),
				setup: func(svc *mockedService) {
					svc.On("Settle", mock.Anything, contractId).Return(
						nil, domain.NewContractError(
							nil, domain.OracleError, "", ports.ErrAttestationPending,
						),
					)
				},
				expectedCode: http.StatusServiceUnavailable,
				expectedErr:  "attestation pending",
			},
			{
				name:   "unknown oracle",
				method: http.MethodGet,
				path:   "/v1/oracles/unknown/announcements",
				setup: func(svc *mockedService) {
					svc.On("ListAnnouncements", mock.Anything, "unknown").Return(
						nil, fmt.Errorf("%w: unknown", ports.ErrUnknownOracle),
					)
				},
				expectedCode: http.StatusNotFound,
				expectedErr:  "unknown",
			},
			{
				name:   "timeout reached",
				method: http.MethodPost,
				path:   fmt.Sprintf("/v1/contracts/%s/settle", contractId),
				setup: func(svc *mockedService) {
					svc.On("Settle", mock.Anything, contractId).Return(
						nil, domain.NewContractError(
							nil, domain.ProtocolViolation, domain.InvariantTimeout,
							fmt.Errorf("refund timeout reached"),
						),
					)
				},
				expectedCode: http.StatusUnprocessableEntity,
				expectedErr:  "refund timeout reached",
			},
			{
				name:   "wrong state",
				method: http.MethodPost,
				path:   fmt.Sprintf("/v1/contracts/%s/refund", contractId),
				setup: func(svc *mockedService) {
					svc.On("Refund", mock.Anything, contractId).Return(
						nil, domain.NewContractError(
							nil, domain.ProtocolViolation, "",
							fmt.Errorf("contract can't be refunded"),
						),
					)
				},
				expectedCode: http.StatusConflict,
				expectedErr:  "contract can't be refunded",
			},
		}

		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				svc := &mockedService{}
				if f.setup != nil {
					f.setup(svc)
				}
				server := newTestServer(t, svc)

				code, body := doRequest(t, f.method, server.URL+f.path, f.body)
				require.Equal(t, f.expectedCode, code, string(body))
				var resp struct {
					Error string `json:"error"`
				}
				require.NoError(t, json.Unmarshal(body, &resp))
				require.Contains(t, resp.Error, f.expectedErr)
				svc.AssertExpectations(t)
			})
		}
	})
}
