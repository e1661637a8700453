package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"casino-settlement/internal/app/deposit"
	"casino-settlement/internal/app/settlement"
	"casino-settlement/internal/app/withdrawal"
	"casino-settlement/internal/config"
	"casino-settlement/internal/events"
	"casino-settlement/internal/idempotency"
	"casino-settlement/internal/ledger"
	"casino-settlement/internal/robots"
	"casino-settlement/internal/rounds"
	"casino-settlement/internal/store/memstore"

	"github.com/go-chi/chi/v5"
)

const (
	adminKey    = "admin-secret"
	providerKey = "provider-secret"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	st := memstore.New()
	led := ledger.New(st)
	guard := idempotency.NewGuard(idempotency.NewStoreBackend(st, 30*time.Second), time.Hour)
	pub := &events.Recorder{}
	registry := robots.NewRegistry(st)
	cfg := config.ServerConfig{
		AdminAPIKey:   adminKey,
		CallerAPIKeys: map[string]string{"provider-a": providerKey},
	}
	return NewRouter(cfg, Services{
		DB:          st,
		Settlement:  settlement.NewService(led, guard, registry, st, pub),
		Withdrawals: withdrawal.NewService(led, guard, st, pub),
		Deposits:    deposit.NewService(led, guard, st, pub),
		Rounds:      rounds.NewAggregator(st),
		Robots:      registry,
	})
}

type call struct {
	method string
	path   string
	body   any
	key    string
	admin  bool
	noAuth bool
	tenant string
}

func do(t *testing.T, router http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.tenant != "-" {
		tenant := c.tenant
		if tenant == "" {
			tenant = "t1"
		}
		req.Header.Set("X-Tenant-ID", tenant)
	}
	switch {
	case c.admin:
		req.Header.Set("X-Admin-Key", adminKey)
	case !c.noAuth:
		req.Header.Set("Authorization", "Bearer "+providerKey)
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decode(t, w, &body)
	return body.Error
}

func seed(t *testing.T, router http.Handler, player, amount string) {
	t.Helper()
	w := do(t, router, call{method: http.MethodPost, path: "/api/v1/admin/adjustments", admin: true, key: "seed-" + player,
		body: map[string]string{"player_id": player, "currency": "EUR", "amount": amount}})
	if w.Code != http.StatusOK {
		t.Fatalf("seed status=%d body=%s", w.Code, w.Body.String())
	}
}

func settle(t *testing.T, router http.Handler, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body["player_id"] = "p1"
	body["currency"] = "EUR"
	body["game_id"] = "slots"
	return do(t, router, call{method: http.MethodPost, path: "/api/v1/settlements", body: body})
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	seed(t, router, "p1", "1000.00")

	for _, step := range []struct {
		body map[string]string
		want string
	}{
		{map[string]string{"action": "bet", "round_id": "R1", "tx_id": "bet-1", "amount": "100.00"}, "900.00"},
		{map[string]string{"action": "win", "round_id": "R1", "tx_id": "win-1", "amount": "200"}, "1100.00"},
		{map[string]string{"action": "rollback", "round_id": "R1", "tx_id": "rb-1", "ref_tx_id": "bet-1"}, "1200.00"},
	} {
		w := settle(t, router, step.body)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", step.body["tx_id"], w.Code, w.Body.String())
		}
		var res struct {
			Balance struct {
				AvailableReal string `json:"available_real"`
			} `json:"balance"`
			Audit struct {
				RoundID string `json:"round_id"`
			} `json:"audit"`
		}
		decode(t, w, &res)
		if res.Balance.AvailableReal != step.want || res.Audit.RoundID != "R1" {
			t.Fatalf("%s = %+v, want balance %s", step.body["tx_id"], res, step.want)
		}
	}

	w := do(t, router, call{method: http.MethodGet, path: "/api/v1/players/p1/balances/eur"})
	var bal struct {
		AvailableReal string `json:"available_real"`
		Held          string `json:"held"`
	}
	decode(t, w, &bal)
	if bal.AvailableReal != "1200.00" || bal.Held != "0.00" {
		t.Fatalf("balance = %+v", bal)
	}
}

func TestSettlementErrorsOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	seed(t, router, "p1", "10.00")

	tests := []struct {
		name   string
		c      call
		status int
		code   string
	}{
		{"missing tenant", call{method: http.MethodGet, path: "/api/v1/players/p1/history", tenant: "-"}, http.StatusBadRequest, "missing_tenant"},
		{"no bearer", call{method: http.MethodGet, path: "/api/v1/players/p1/history", noAuth: true}, http.StatusUnauthorized, "unauthorized"},
		{"insufficient", call{method: http.MethodPost, path: "/api/v1/settlements", body: map[string]string{
			"action": "bet", "player_id": "p1", "currency": "EUR", "game_id": "slots", "round_id": "R1", "tx_id": "bet-big", "amount": "10.01",
		}}, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"unknown ref", call{method: http.MethodPost, path: "/api/v1/settlements", body: map[string]string{
			"action": "rollback", "player_id": "p1", "currency": "EUR", "tx_id": "rb-x", "ref_tx_id": "nope",
		}}, http.StatusNotFound, "not_found"},
		{"three decimals", call{method: http.MethodPost, path: "/api/v1/settlements", body: map[string]string{
			"action": "bet", "player_id": "p1", "currency": "EUR", "game_id": "slots", "round_id": "R1", "tx_id": "bet-p", "amount": "1.001",
		}}, http.StatusBadRequest, "invalid_json"},
		{"admin without key", call{method: http.MethodPost, path: "/api/v1/admin/adjustments", body: map[string]string{}}, http.StatusUnauthorized, "unauthorized"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.c)
			if w.Code != tt.status {
				t.Fatalf("status=%d body=%s, want %d", w.Code, w.Body.String(), tt.status)
			}
			if got := errorCode(t, w); got != tt.code {
				t.Fatalf("code = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestReplayAndConflictOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	seed(t, router, "p1", "100.00")
	body := map[string]string{"action": "bet", "round_id": "R1", "tx_id": "bet-1", "amount": "10.00"}

	first := settle(t, router, body)
	second := settle(t, router, body)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses %d/%d", first.Code, second.Code)
	}
	var res struct {
		Replayed bool `json:"replayed"`
	}
	decode(t, second, &res)
	if !res.Replayed {
		t.Fatalf("second call not replayed: %s", second.Body.String())
	}

	body["amount"] = "20.00"
	w := settle(t, router, body)
	if w.Code != http.StatusConflict || errorCode(t, w) != "idempotency_conflict" {
		t.Fatalf("conflict status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestRetryUnderNewIdempotencyKeyReplaysOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	seed(t, router, "p1", "100.00")
	body := map[string]string{
		"action": "bet", "player_id": "p1", "currency": "EUR", "game_id": "slots",
		"round_id": "R1", "tx_id": "bet-1", "amount": "10.00",
	}

	var results [2]struct {
		Replayed bool `json:"replayed"`
		Balance  struct {
			AvailableReal string `json:"available_real"`
		} `json:"balance"`
	}
	for i, key := range []string{"attempt-1", "attempt-2"} {
		w := do(t, router, call{method: http.MethodPost, path: "/api/v1/settlements", body: body, key: key})
		if w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", key, w.Code, w.Body.String())
		}
		decode(t, w, &results[i])
	}
	if results[0].Replayed || !results[1].Replayed {
		t.Fatalf("replayed flags = %v/%v", results[0].Replayed, results[1].Replayed)
	}
	if results[0].Balance.AvailableReal != "90.00" || results[1].Balance.AvailableReal != "90.00" {
		t.Fatalf("balances = %+v", results)
	}

	w := do(t, router, call{method: http.MethodGet, path: "/api/v1/players/p1/journal?kind=bet"})
	var journal struct {
		Items []json.RawMessage `json:"items"`
	}
	decode(t, w, &journal)
	if len(journal.Items) != 1 {
		t.Fatalf("bet entries = %d, want 1: %s", len(journal.Items), w.Body.String())
	}
	w = do(t, router, call{method: http.MethodGet, path: "/api/v1/players/p1/balances/EUR"})
	var bal struct {
		AvailableReal string `json:"available_real"`
	}
	decode(t, w, &bal)
	if bal.AvailableReal != "90.00" {
		t.Fatalf("balance = %+v", bal)
	}
}

func TestHistoryOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	seed(t, router, "p1", "1000.00")
	settle(t, router, map[string]string{"action": "bet", "round_id": "R1", "tx_id": "b1", "amount": "50"})
	settle(t, router, map[string]string{"action": "bet", "round_id": "R2", "tx_id": "b2", "amount": "10"})
	settle(t, router, map[string]string{"action": "win", "round_id": "R2", "tx_id": "w2", "amount": "200"})

	w := do(t, router, call{method: http.MethodGet, path: "/api/v1/players/p1/history?limit=1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var page struct {
		Items []struct {
			RoundID  string `json:"round_id"`
			TotalBet string `json:"total_bet"`
			TotalWin string `json:"total_win"`
			Net      string `json:"net"`
		} `json:"items"`
		NextCursor string `json:"next_cursor"`
	}
	decode(t, w, &page)
	if len(page.Items) != 1 || page.Items[0].RoundID != "R2" || page.Items[0].Net != "190.00" || page.NextCursor == "" {
		t.Fatalf("first page = %+v", page)
	}

	w = do(t, router, call{method: http.MethodGet, path: "/api/v1/players/p1/history?limit=1&cursor=" + page.NextCursor})
	page.Items, page.NextCursor = nil, ""
	decode(t, w, &page)
	if len(page.Items) != 1 || page.Items[0].RoundID != "R1" || page.Items[0].TotalBet != "50.00" || page.Items[0].Net != "-50.00" {
		t.Fatalf("second page = %+v", page)
	}
	if page.NextCursor != "" {
		t.Fatalf("unexpected cursor on last page")
	}
}

func TestWithdrawalLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	seed(t, router, "p1", "500.00")

	w := do(t, router, call{method: http.MethodPost, path: "/api/v1/withdrawals", key: "wd-1",
		body: map[string]string{"player_id": "p1", "currency": "EUR", "amount": "100", "address": "acct-1"}})
	if w.Code != http.StatusOK {
		t.Fatalf("request status=%d body=%s", w.Code, w.Body.String())
	}
	var res struct {
		Withdrawal struct {
			ID     string `json:"withdrawal_id"`
			Status string `json:"status"`
		} `json:"withdrawal"`
		Balance struct {
			AvailableReal string `json:"available_real"`
			Held          string `json:"held"`
		} `json:"balance"`
	}
	decode(t, w, &res)
	if res.Balance.AvailableReal != "400.00" || res.Balance.Held != "100.00" {
		t.Fatalf("after request = %+v", res)
	}
	id := res.Withdrawal.ID

	w = do(t, router, call{method: http.MethodPost, path: "/api/v1/withdrawals/" + id + "/approve"})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "missing_idempotency_key" {
		t.Fatalf("approve without key status=%d body=%s", w.Code, w.Body.String())
	}
	for _, step := range []struct{ path, key string }{
		{"/approve", "ap-1"},
		{"/payout", "po-1"},
	} {
		if w := do(t, router, call{method: http.MethodPost, path: "/api/v1/withdrawals/" + id + step.path, key: step.key}); w.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", step.path, w.Code, w.Body.String())
		}
	}
	w = do(t, router, call{method: http.MethodPost, path: "/api/v1/withdrawals/" + id + "/paid", key: "paid-1", body: map[string]string{"provider_ref": "bank-9"}})
	decode(t, w, &res)
	if res.Withdrawal.Status != "paid" || res.Balance.AvailableReal != "400.00" || res.Balance.Held != "0.00" {
		t.Fatalf("after paid = %+v", res)
	}

	w = do(t, router, call{method: http.MethodPost, path: "/api/v1/withdrawals/" + id + "/reject", key: "rej-1"})
	if w.Code != http.StatusConflict || errorCode(t, w) != "invalid_state_transition" {
		t.Fatalf("reject after paid status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestDepositWebhookOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, call{method: http.MethodPost, path: "/api/v1/deposits/sessions",
		body: map[string]string{"provider": "stripe", "provider_tx_id": "pi_1", "player_id": "p1", "currency": "EUR", "expected_amount": "50"}})
	if w.Code != http.StatusOK {
		t.Fatalf("session status=%d body=%s", w.Code, w.Body.String())
	}

	hook := map[string]string{"provider_tx_id": "pi_1", "amount": "50.00", "currency": "EUR", "status": "succeeded"}
	for i, want := range []string{"credited", "duplicate"} {
		w := do(t, router, call{method: http.MethodPost, path: "/api/v1/deposits/webhook", body: hook})
		var res struct {
			Status string `json:"status"`
		}
		decode(t, w, &res)
		if w.Code != http.StatusOK || res.Status != want {
			t.Fatalf("delivery %d status=%d body=%s", i, w.Code, w.Body.String())
		}
	}

	w = do(t, router, call{method: http.MethodPost, path: "/api/v1/deposits/webhook",
		body: map[string]string{"provider_tx_id": "pi_404", "amount": "50.00", "currency": "EUR", "status": "succeeded"}})
	var res struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	decode(t, w, &res)
	if res.Status != "rejected" || res.Reason != "unknown_session" {
		t.Fatalf("unknown session = %+v", res)
	}

	w = do(t, router, call{method: http.MethodGet, path: "/api/v1/players/p1/balances/EUR"})
	var bal struct {
		AvailableReal string `json:"available_real"`
	}
	decode(t, w, &bal)
	if bal.AvailableReal != "50.00" {
		t.Fatalf("balance = %s, want 50.00", bal.AvailableReal)
	}
}

func TestRobotBindingOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	w := do(t, router, call{method: http.MethodPost, path: "/api/v1/robots",
		body: map[string]any{"name": "steady", "kind": "fixed_rtp", "rtp_bps": 9600, "max_multiplier": 100, "active": true}})
	if w.Code != http.StatusOK {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var robot struct {
		ID string `json:"robot_id"`
	}
	decode(t, w, &robot)

	w = do(t, router, call{method: http.MethodPut, path: "/api/v1/games/slots/robot", body: map[string]string{"robot_id": robot.ID}})
	if w.Code != http.StatusOK {
		t.Fatalf("bind status=%d body=%s", w.Code, w.Body.String())
	}
	w = do(t, router, call{method: http.MethodGet, path: "/api/v1/games/slots/robot"})
	var res struct {
		RobotID string `json:"robot_id"`
		Version int64  `json:"version"`
	}
	decode(t, w, &res)
	if res.RobotID != robot.ID || res.Version != 1 {
		t.Fatalf("resolve = %+v", res)
	}

	w = do(t, router, call{method: http.MethodPost, path: "/api/v1/robots/" + robot.ID + "/active", body: map[string]bool{"active": false}})
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate status=%d body=%s", w.Code, w.Body.String())
	}
	seed(t, router, "p1", "10.00")
	w = settle(t, router, map[string]string{"action": "bet", "round_id": "R1", "tx_id": "bet-1", "amount": "1"})
	if w.Code != http.StatusUnprocessableEntity || errorCode(t, w) != "robot_inactive" {
		t.Fatalf("bet on inactive robot status=%d body=%s", w.Code, w.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	router := newTestRouter(t)
	for _, c := range []call{
		{method: http.MethodGet, path: "/healthz", tenant: "-", noAuth: true},
		{method: http.MethodGet, path: "/metrics", tenant: "-", noAuth: true},
		{method: http.MethodGet, path: "/debug/vars", tenant: "-", admin: true},
	} {
		if w := do(t, router, c); w.Code != http.StatusOK {
			t.Fatalf("%s status=%d", c.path, w.Code)
		}
	}
}
