package echoServer

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loyalty/app/echoServer/controller/account"
	"loyalty/app/echoServer/controller/admin"
	"loyalty/app/echoServer/controller/points"
	"loyalty/app/echoServer/controller/redemption"
	"loyalty/model"
	expirysvc "loyalty/service/expiry"
	"loyalty/util/errs"
	jwtutil "loyalty/util/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type mockAccounts struct {
	InitializeFn  func(ctx context.Context, userID int64) (*model.Status, error)
	RetireFn      func(ctx context.Context, userID int64) (*model.Status, error)
	StatusFn      func(ctx context.Context, userID int64) (*model.Status, error)
	AnalyticsFn   func(ctx context.Context, userID int64, bucket model.Bucket, from, to *time.Time) ([]model.AnalyticsRow, error)
	LeaderboardFn func(ctx context.Context, limit int) ([]model.LeaderboardRow, error)
}

func (m *mockAccounts) Initialize(ctx context.Context, userID int64) (*model.Status, error) {
	return m.InitializeFn(ctx, userID)
}
func (m *mockAccounts) Retire(ctx context.Context, userID int64) (*model.Status, error) {
	return m.RetireFn(ctx, userID)
}
func (m *mockAccounts) Status(ctx context.Context, userID int64) (*model.Status, error) {
	return m.StatusFn(ctx, userID)
}
func (m *mockAccounts) Analytics(ctx context.Context, userID int64, bucket model.Bucket, from, to *time.Time) ([]model.AnalyticsRow, error) {
	return m.AnalyticsFn(ctx, userID, bucket, from, to)
}
func (m *mockAccounts) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardRow, error) {
	return m.LeaderboardFn(ctx, limit)
}

type mockLedger struct {
	PostEntryFn func(ctx context.Context, p model.Posting) (*model.LedgerEntry, error)
	EarnFn      func(ctx context.Context, userID int64, orderRef string, points int64, orderTotal float64) (*model.LedgerEntry, error)
	HistoryFn   func(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error)
}

func (m *mockLedger) PostEntry(ctx context.Context, p model.Posting) (*model.LedgerEntry, error) {
	return m.PostEntryFn(ctx, p)
}
func (m *mockLedger) Earn(ctx context.Context, userID int64, orderRef string, points int64, orderTotal float64) (*model.LedgerEntry, error) {
	return m.EarnFn(ctx, userID, orderRef, points, orderTotal)
}
func (m *mockLedger) Post(ctx context.Context, tx *sql.Tx, pol *model.Policy, p model.Posting) (*model.LedgerEntry, error) {
	panic("not used over HTTP")
}
func (m *mockLedger) History(ctx context.Context, userID int64, limit int) ([]model.LedgerEntry, error) {
	return m.HistoryFn(ctx, userID, limit)
}

type mockRedemptions struct {
	ReserveFn func(ctx context.Context, userID, points int64) (*model.Redemption, error)
	ConfirmFn func(ctx context.Context, id string) (*model.Redemption, error)
	UseFn     func(ctx context.Context, id string) (*model.Redemption, error)
	CancelFn  func(ctx context.Context, id, reason string) (*model.Redemption, error)
	GetFn     func(ctx context.Context, id string) (*model.Redemption, error)
}

func (m *mockRedemptions) Reserve(ctx context.Context, userID, points int64) (*model.Redemption, error) {
	return m.ReserveFn(ctx, userID, points)
}
func (m *mockRedemptions) Confirm(ctx context.Context, id string) (*model.Redemption, error) {
	return m.ConfirmFn(ctx, id)
}
func (m *mockRedemptions) Use(ctx context.Context, id string) (*model.Redemption, error) {
	return m.UseFn(ctx, id)
}
func (m *mockRedemptions) Cancel(ctx context.Context, id, reason string) (*model.Redemption, error) {
	return m.CancelFn(ctx, id, reason)
}
func (m *mockRedemptions) Get(ctx context.Context, id string) (*model.Redemption, error) {
	return m.GetFn(ctx, id)
}
func (m *mockRedemptions) CancelExpired(ctx context.Context) (int, error) { return 0, nil }

type mockPolicy struct {
	CurrentFn func(ctx context.Context) (*model.Policy, error)
	SetFn     func(ctx context.Context, in model.PolicyInput, actor string) (*model.Policy, error)
}

func (m *mockPolicy) Current(ctx context.Context) (*model.Policy, error) { return m.CurrentFn(ctx) }
func (m *mockPolicy) Set(ctx context.Context, in model.PolicyInput, actor string) (*model.Policy, error) {
	return m.SetFn(ctx, in, actor)
}

type mockSweeper struct {
	SweepFn func(ctx context.Context) (expirysvc.Result, error)
}

func (m *mockSweeper) Sweep(ctx context.Context) (expirysvc.Result, error) { return m.SweepFn(ctx) }

type fixture struct {
	e           *echo.Echo
	accounts    *mockAccounts
	ledger      *mockLedger
	redemptions *mockRedemptions
	policy      *mockPolicy
	sweeper     *mockSweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f := &fixture{
		e:           echo.New(),
		accounts:    &mockAccounts{},
		ledger:      &mockLedger{},
		redemptions: &mockRedemptions{},
		policy:      &mockPolicy{},
		sweeper:     &mockSweeper{},
	}
	v := validator.New()
	RegisterMiddlewares(f.e, log, 0)
	Register(f.e, C{
		Account:    &account.Controller{Svc: f.accounts, Ledger: f.ledger, Log: log},
		Points:     &points.Controller{Ledger: f.ledger, V: v, Log: log},
		Redemption: &redemption.Controller{Svc: f.redemptions, V: v, Log: log},
		Admin:      &admin.Controller{Policy: f.policy, Sweeper: f.sweeper, V: v, Log: log},
		JWTSecret:  testSecret,
	})
	return f
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func token(t *testing.T, userID int64, role string) string {
	t.Helper()
	tok, err := jwtutil.Issue(testSecret, userID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, tok, body string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestRoutes_RequireToken(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, http.MethodGet, "/v1/status/1", "", "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.False(t, env.Success)
	require.Equal(t, "Unauthorized", env.Error.Kind)

	code, _ = f.do(t, http.MethodGet, "/v1/status/1", "garbage", "")
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestRoutes_UnknownRoute(t *testing.T) {
	f := newFixture(t)

	code, env := f.do(t, http.MethodGet, "/nope", "", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "RouteNotFound", env.Error.Kind)
}

func TestStatus_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.accounts.StatusFn = func(ctx context.Context, userID int64) (*model.Status, error) {
		return &model.Status{UserID: userID, Balance: 60, Tier: "bronze"}, nil
	}

	code, env := f.do(t, http.MethodGet, "/v1/status/1", token(t, 1, jwtutil.RoleUser), "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var st model.Status
	require.NoError(t, json.Unmarshal(env.Data, &st))
	require.Equal(t, int64(60), st.Balance)

	code, env = f.do(t, http.MethodGet, "/v1/status/1", token(t, 2, jwtutil.RoleUser), "")
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "Forbidden", env.Error.Kind)

	code, _ = f.do(t, http.MethodGet, "/v1/status/1", token(t, 99, jwtutil.RoleMerchant), "")
	require.Equal(t, http.StatusOK, code)
}

func TestStatus_ServiceErrorKinds(t *testing.T) {
	f := newFixture(t)
	f.accounts.StatusFn = func(ctx context.Context, userID int64) (*model.Status, error) {
		return nil, errs.New(errs.NotFound, "account not found", errs.Details{"user_id": userID})
	}

	code, env := f.do(t, http.MethodGet, "/v1/status/5", token(t, 5, jwtutil.RoleUser), "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NotFound", env.Error.Kind)
	require.EqualValues(t, 5, env.Error.Details["user_id"])

	code, _ = f.do(t, http.MethodGet, "/v1/status/abc", token(t, 5, jwtutil.RoleUser), "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestPointsAdd_StaffOnly(t *testing.T) {
	f := newFixture(t)
	var gotRef string
	f.ledger.EarnFn = func(ctx context.Context, userID int64, orderRef string, pts int64, total float64) (*model.LedgerEntry, error) {
		gotRef = orderRef
		return &model.LedgerEntry{ID: 1, UserID: userID, Amount: pts, Reason: model.ReasonOrderPoints, BalanceAfter: pts}, nil
	}
	body := `{"user_id":1,"order_ref":"A-1","points":100}`

	code, env := f.do(t, http.MethodPost, "/v1/points/add", token(t, 1, jwtutil.RoleUser), body)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, "Forbidden", env.Error.Kind)
	require.Empty(t, gotRef)

	code, env = f.do(t, http.MethodPost, "/v1/points/add", token(t, 9, jwtutil.RoleMerchant), body)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "A-1", gotRef)
	var e model.LedgerEntry
	require.NoError(t, json.Unmarshal(env.Data, &e))
	require.Equal(t, int64(100), e.BalanceAfter)
}

func TestPointsAdd_ManualAdjustment(t *testing.T) {
	f := newFixture(t)
	var got model.Posting
	f.ledger.PostEntryFn = func(ctx context.Context, p model.Posting) (*model.LedgerEntry, error) {
		got = p
		return &model.LedgerEntry{ID: 2, UserID: p.UserID, Amount: p.Amount, Reason: p.Reason}, nil
	}

	code, _ := f.do(t, http.MethodPost, "/v1/points/add", token(t, 1, jwtutil.RoleAdmin),
		`{"user_id":3,"order_ref":"fix-7","points":-20,"reason":"manual-adjustment"}`)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, int64(-20), got.Amount)
	require.Equal(t, model.ReasonManualAdjustment, got.Reason)
	require.Equal(t, "adjustment:fix-7", *got.IdempotencyKey)
}

func TestPointsAdd_Validation(t *testing.T) {
	f := newFixture(t)

	for _, body := range []string{
		`{"user_id":0}`,
		`{"user_id":1,"order_ref":"A-1","points":9223372036854775807}`,
		`{"user_id":1,"order_ref":"A-1","points":-9223372036854775808,"reason":"manual-adjustment"}`,
		`{"user_id":1,"order_ref":"A-1","order_total":1e300}`,
	} {
		code, env := f.do(t, http.MethodPost, "/v1/points/add", token(t, 1, jwtutil.RoleAdmin), body)
		require.Equal(t, http.StatusBadRequest, code, body)
		require.Equal(t, "InvalidRequest", env.Error.Kind)
	}
}

func TestRedemptionFlow(t *testing.T) {
	f := newFixture(t)
	const id = "6f1c2a4e-8d1b-4c55-9a0e-2b7d3c1e9f00"
	red := &model.Redemption{ID: id, UserID: 1, Points: 40, Status: model.RedemptionPending}
	f.redemptions.ReserveFn = func(ctx context.Context, userID, pts int64) (*model.Redemption, error) {
		if pts > 100 {
			return nil, errs.New(errs.InsufficientBalance, "insufficient balance", errs.Details{"balance": 100, "requested": pts})
		}
		return red, nil
	}
	f.redemptions.GetFn = func(ctx context.Context, rid string) (*model.Redemption, error) {
		if rid != id {
			return nil, errs.New(errs.NotFound, "redemption not found", nil)
		}
		return red, nil
	}
	f.redemptions.ConfirmFn = func(ctx context.Context, rid string) (*model.Redemption, error) {
		code := "LOYAL-AAAA-BBBB"
		red.Status, red.RewardCode = model.RedemptionConfirmed, &code
		return red, nil
	}
	f.redemptions.UseFn = func(ctx context.Context, rid string) (*model.Redemption, error) {
		if red.Status != model.RedemptionConfirmed {
			return nil, errs.New(errs.InvalidState, "redemption is not confirmed", nil)
		}
		red.Status = model.RedemptionUsed
		return red, nil
	}
	owner := token(t, 1, jwtutil.RoleUser)

	code, env := f.do(t, http.MethodPost, "/v1/redeem", owner, `{"user_id":1,"points":1000}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, "InsufficientBalance", env.Error.Kind)

	code, env = f.do(t, http.MethodPost, "/v1/redeem", owner, `{"user_id":2,"points":40}`)
	require.Equal(t, http.StatusForbidden, code)

	code, env = f.do(t, http.MethodPost, "/v1/redeem", owner, `{"user_id":1,"points":40}`)
	require.Equal(t, http.StatusCreated, code)
	require.True(t, env.Success)

	code, _ = f.do(t, http.MethodPost, "/v1/redemption/use", owner, `{"redemption_id":"`+id+`"}`)
	require.Equal(t, http.StatusConflict, code)

	code, _ = f.do(t, http.MethodPost, "/v1/redemption/"+id+"/confirm", token(t, 2, jwtutil.RoleUser), "")
	require.Equal(t, http.StatusForbidden, code)

	code, env = f.do(t, http.MethodPost, "/v1/redemption/"+id+"/confirm", owner, "")
	require.Equal(t, http.StatusOK, code)
	var got model.Redemption
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, model.RedemptionConfirmed, got.Status)
	require.Equal(t, "LOYAL-AAAA-BBBB", *got.RewardCode)

	code, env = f.do(t, http.MethodPost, "/v1/redemption/use", owner, `{"redemption_id":"`+id+`"}`)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.Equal(t, model.RedemptionUsed, got.Status)

	code, env = f.do(t, http.MethodGet, "/v1/redemption/not-a-uuid", owner, "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "NotFound", env.Error.Kind)
}

func TestRedemptionCancel_PassesReason(t *testing.T) {
	f := newFixture(t)
	const id = "0b5e8f0a-3c2d-4e1f-8a9b-7c6d5e4f3a21"
	red := &model.Redemption{ID: id, UserID: 4, Points: 10, Status: model.RedemptionPending}
	f.redemptions.GetFn = func(ctx context.Context, rid string) (*model.Redemption, error) { return red, nil }
	var reason string
	f.redemptions.CancelFn = func(ctx context.Context, rid, r string) (*model.Redemption, error) {
		reason = r
		red.Status = model.RedemptionCancelled
		return red, nil
	}

	code, _ := f.do(t, http.MethodPost, "/v1/redemption/"+id+"/cancel", token(t, 4, jwtutil.RoleUser), `{"reason":"changed mind"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "changed mind", reason)
}

func TestAdmin_Config(t *testing.T) {
	f := newFixture(t)
	f.policy.CurrentFn = func(ctx context.Context) (*model.Policy, error) {
		return &model.Policy{Version: 3, EarnRate: 1, PointsValidity: 365 * 24 * time.Hour}, nil
	}
	var actor string
	f.policy.SetFn = func(ctx context.Context, in model.PolicyInput, a string) (*model.Policy, error) {
		actor = a
		return &model.Policy{Version: 4, CreatedBy: a}, nil
	}

	code, _ := f.do(t, http.MethodGet, "/v1/config", token(t, 9, jwtutil.RoleMerchant), "")
	require.Equal(t, http.StatusForbidden, code)

	code, env := f.do(t, http.MethodGet, "/v1/config", token(t, 1, jwtutil.RoleAdmin), "")
	require.Equal(t, http.StatusOK, code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.EqualValues(t, 3, got["version"])
	require.EqualValues(t, 365, got["points_validity_days"])

	code, _ = f.do(t, http.MethodPost, "/v1/config", token(t, 1, jwtutil.RoleAdmin),
		`{"points_validity_days":30,"earn_rate":2,"redemption_timeout_seconds":600,"tiers":[{"name":"bronze","min_lifetime_points":0}]}`)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "admin:1", actor)
}

func TestAdmin_ExpirePoints(t *testing.T) {
	f := newFixture(t)
	f.sweeper.SweepFn = func(ctx context.Context) (expirysvc.Result, error) {
		return expirysvc.Result{Accounts: 2, Entries: 3, Points: 150}, nil
	}

	code, env := f.do(t, http.MethodPost, "/v1/expire-points", token(t, 1, jwtutil.RoleAdmin), "")
	require.Equal(t, http.StatusOK, code)
	var res expirysvc.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Equal(t, int64(150), res.Points)
}

func TestLeaderboard_AnyCaller(t *testing.T) {
	f := newFixture(t)
	var gotLimit int
	f.accounts.LeaderboardFn = func(ctx context.Context, limit int) ([]model.LeaderboardRow, error) {
		gotLimit = limit
		return []model.LeaderboardRow{{Rank: 1, UserID: 7, Balance: 500}}, nil
	}

	code, env := f.do(t, http.MethodGet, "/v1/leaderboard?limit=5", token(t, 3, jwtutil.RoleUser), "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 5, gotLimit)
	var rows []model.LeaderboardRow
	require.NoError(t, json.Unmarshal(env.Data, &rows))
	require.Len(t, rows, 1)
}
