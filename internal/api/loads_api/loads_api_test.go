package loads_api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/StubbleTrack/internal/cache/mocks"
	"github.com/BearBump/StubbleTrack/internal/services/carbon"
	"github.com/BearBump/StubbleTrack/internal/services/loads"
	"github.com/BearBump/StubbleTrack/internal/storage/memload"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, svc *loads.Service) *client {
	t.Helper()
	r := chi.NewRouter()
	New(svc).Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv}
}

func newService() *loads.Service {
	store := memload.New()
	return loads.New(store, carbon.NewLedger(store, nil, 0), nil, 0)
}

func (c *client) do(method, path, userID, role string, body any, out any) int {
	c.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, c.srv.URL+path, rd)
	require.NoError(c.t, err)
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	require.Equal(c.t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestLoadsAPI_Lifecycle(t *testing.T) {
	c := newTestServer(t, newService())

	var created loadDTO
	code := c.do(http.MethodPost, "/v1/loads", "farmer-1", "farmer", map[string]any{
		"wasteType":   "Rice Husk",
		"quantity":    5.0,
		"coordinates": map[string]float64{"lat": 28.6, "lon": 77.2},
	}, &created)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "PENDING", created.Status)
	require.Equal(t, "farmer-1", created.OwnerID)

	var got loadDTO
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/loads/"+created.ID, "agent-a", "AGENT", nil, &got))
	require.Equal(t, []string{"claim"}, triggers(got))

	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/loads/"+created.ID, "farmer-1", "FARMER", nil, &got))
	require.Equal(t, []string{"cancel"}, triggers(got))

	var nearby struct {
		Loads []nearbyDTO `json:"loads"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/loads/nearby?lat=28.65&lon=77.25&radius_km=10", "agent-a", "AGENT", nil, &nearby))
	require.Len(t, nearby.Loads, 1)
	require.Equal(t, created.ID, nearby.Loads[0].Load.ID)
	require.InDelta(t, 7.4, nearby.Loads[0].DistanceKm, 0.1)

	for _, st := range []struct{ trigger, user, role, want string }{
		{"claim", "agent-a", "AGENT", "ASSIGNED"},
		{"start", "agent-a", "AGENT", "IN_TRANSIT"},
		{"deliver", "agent-a", "AGENT", "DELIVERED"},
	} {
		var res transitionResponse
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/"+st.trigger, st.user, st.role, nil, &res), st.trigger)
		require.Equal(t, st.want, res.Load.Status)
		require.Nil(t, res.Credit)
	}

	var res transitionResponse
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/recycle", "plant-1", "RECYCLER", nil, &res))
	require.Equal(t, "RECYCLED", res.Load.Status)
	require.NotNil(t, res.Load.TerminalAt)
	require.NotNil(t, res.Credit)
	require.Equal(t, 7.00, res.Credit.OffsetKg)
	require.Equal(t, int64(7), res.Credit.RewardPoints)

	var credit creditDTO
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/loads/"+created.ID+"/credit", "", "", nil, &credit))
	require.Equal(t, "farmer-1", credit.UserID)

	var events struct {
		Events []eventDTO `json:"events"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/loads/"+created.ID+"/events", "", "", nil, &events))
	require.Len(t, events.Events, 4)
	require.Equal(t, "claim", events.Events[0].Trigger)
	require.Equal(t, "RECYCLED", events.Events[3].ToStatus)

	var rewards rewardsDTO
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/users/farmer-1/rewards", "", "", nil, &rewards))
	require.Equal(t, 1, rewards.Credits)
	require.Equal(t, int64(7), rewards.TotalPoints)

	var credits struct {
		Credits []creditDTO `json:"credits"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/users/farmer-1/credits", "", "", nil, &credits))
	require.Len(t, credits.Credits, 1)

	var owned struct {
		Loads []loadDTO `json:"loads"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/users/farmer-1/loads", "", "", nil, &owned))
	require.Len(t, owned.Loads, 1)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/users/agent-a/loads?as=agent", "", "", nil, &owned))
	require.Len(t, owned.Loads, 1)
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/users/farmer-1/loads?as=agent", "", "", nil, &owned))
	require.Empty(t, owned.Loads)
}

func TestLoadsAPI_ErrorMapping(t *testing.T) {
	c := newTestServer(t, newService())

	var created loadDTO
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/v1/loads", "farmer-1", "FARMER",
		map[string]any{"wasteType": "Rice Straw", "quantity": 1.5}, &created))

	var e errorBody

	// не тот агент
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/claim", "agent-a", "AGENT", nil, nil))
	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/start", "agent-a", "AGENT", nil, nil))
	require.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/deliver", "agent-b", "AGENT", nil, &e))
	require.Equal(t, "FORBIDDEN", e.Error.Code)

	// отмена в пути
	require.Equal(t, http.StatusConflict, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/cancel", "farmer-1", "FARMER", nil, &e))
	require.Equal(t, "INVALID_STATE", e.Error.Code)

	require.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/v1/loads/"+created.ID+"/teleport", "agent-a", "AGENT", nil, &e))
	require.Equal(t, "NOT_FOUND", e.Error.Code)

	require.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/v1/loads/5f0c5c1e-1111-4a4a-9a9a-000000000000", "", "", nil, &e))
	require.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/v1/loads/"+created.ID+"/credit", "", "", nil, &e))

	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/v1/loads/not-a-uuid", "", "", nil, &e))
	require.Equal(t, "VALIDATION", e.Error.Code)

	require.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/v1/loads", "farmer-1", "FARMER",
		map[string]any{"wasteType": "Rice Straw", "quantity": -1}, &e))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/v1/loads", "farmer-1", "FARMER",
		map[string]any{"wasteType": "Rice Straw", "quantity": 1, "color": "red"}, &e))
	require.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/v1/loads", "agent-a", "AGENT",
		map[string]any{"wasteType": "Rice Straw", "quantity": 1}, &e))

	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/v1/loads/nearby?lat=x&lon=1", "", "", nil, &e))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/v1/loads/nearby?lat=91&lon=1", "", "", nil, &e))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/v1/loads/nearby?lat=1&lon=1&radius_km=100000", "", "", nil, &e))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/v1/users/u/loads?as=boss", "", "", nil, &e))
	require.Equal(t, http.StatusBadRequest, c.do(http.MethodGet, "/v1/loads/"+created.ID+"/events?limit=-3", "", "", nil, &e))
}

func TestLoadsAPI_NearbyZeroRadiusIsEmpty(t *testing.T) {
	c := newTestServer(t, newService())
	require.Equal(t, http.StatusCreated, c.do(http.MethodPost, "/v1/loads", "farmer-1", "FARMER", map[string]any{
		"wasteType":   "Corn Stover",
		"quantity":    2,
		"coordinates": map[string]float64{"lat": 28.6, "lon": 77.2},
	}, nil))

	var nearby struct {
		Loads []nearbyDTO `json:"loads"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/v1/loads/nearby?lat=28.6&lon=77.2&radius_km=0", "", "", nil, &nearby))
	require.Empty(t, nearby.Loads)
}

func TestLoadsAPI_RateLimited(t *testing.T) {
	rl := &mocks.MockLimiter{}
	rl.On("Allow", mock.Anything, "rl:nearby:agent-a", int64(1), time.Minute).Return(false, int64(2), nil)

	store := memload.New()
	svc := loads.New(store, carbon.NewLedger(store, nil, 0), nil, 0).WithRateLimiter(rl, 1)
	c := newTestServer(t, svc)

	var e errorBody
	require.Equal(t, http.StatusTooManyRequests, c.do(http.MethodGet, "/v1/loads/nearby?lat=1&lon=1", "agent-a", "AGENT", nil, &e))
	require.Equal(t, "RATE_LIMITED", e.Error.Code)
	rl.AssertExpectations(t)
}

func triggers(l loadDTO) []string {
	out := []string{}
	for _, t := range l.AvailableActions {
		out = append(out, string(t))
	}
	return out
}
