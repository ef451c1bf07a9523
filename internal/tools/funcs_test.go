package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexusgw/gateway/pkg/models"
)

func newTestClient(t *testing.T, financeHandler, userHandler, ragHandler http.HandlerFunc) *backendClient {
	t.Helper()
	cfg := BackendConfig{}
	if financeHandler != nil {
		srv := httptest.NewServer(financeHandler)
		t.Cleanup(srv.Close)
		cfg.FinanceServiceURL = srv.URL
	}
	if userHandler != nil {
		srv := httptest.NewServer(userHandler)
		t.Cleanup(srv.Close)
		cfg.UserServiceURL = srv.URL
	}
	if ragHandler != nil {
		srv := httptest.NewServer(ragHandler)
		t.Cleanup(srv.Close)
		cfg.RAGServiceURL = srv.URL
	}
	return newBackendClient(cfg)
}

func TestGetAccountBalanceSumsMatchingType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]account{
			{ID: "a1", Type: "checking", Balance: 100},
			{ID: "a2", Type: "checking", Balance: 50},
			{ID: "a3", Type: "savings", Balance: 9999},
		})
	}, nil, nil)

	out, err := c.getAccountBalance(t.Context(), &models.Principal{UserID: "u1"}, json.RawMessage(`{"account_type":"checking"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m := out.(map[string]any)
	if m["balance"].(float64) != 150 {
		t.Fatalf("unexpected balance: %+v", m)
	}
}

func TestGetAccountBalanceRequiresAccountType(t *testing.T) {
	c := newTestClient(t, nil, nil, nil)
	_, err := c.getAccountBalance(t.Context(), &models.Principal{UserID: "u1"}, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing account_type")
	}
}

func TestListRecipientsRejectsShortName(t *testing.T) {
	c := newTestClient(t, nil, nil, nil)
	_, err := c.listRecipients(t.Context(), &models.Principal{UserID: "u1"}, json.RawMessage(`{"name":"ab"}`))
	if err == nil {
		t.Fatal("expected error for name shorter than 3 chars")
	}
}

func TestListRecipientsFiltersByAccountType(t *testing.T) {
	c := newTestClient(t,
		func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]account{{ID: "acc-savings", Type: "savings", Balance: 10}})
		},
		func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(usersResponse{Users: []user{{ID: "u2", Name: "Jordan Lee"}}})
		},
		nil,
	)

	out, err := c.listRecipients(t.Context(), nil, json.RawMessage(`{"name":"Jordan","account_type":"checking"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recipients := out.(map[string]any)["recipients"].([]map[string]any)
	if len(recipients) != 0 {
		t.Fatalf("expected no recipients with missing account_type, got %+v", recipients)
	}
}

func TestTransferFundsResolvesAccountType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			json.NewEncoder(w).Encode([]account{{ID: "acc-checking-1", Type: "checking", Balance: 500}})
		case "/transfers":
			json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		}
	}, nil, nil)

	principal := &models.Principal{UserID: "u1"}
	out, err := c.transferFunds(t.Context(), principal, json.RawMessage(`{"from_account":"checking","to_account_id":"123e4567-e89b-12d3-a456-426614174000","amount":25}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["status"] != "ok" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestTransferFundsRequiresFields(t *testing.T) {
	c := newTestClient(t, nil, nil, nil)
	_, err := c.transferFunds(t.Context(), &models.Principal{UserID: "u1"}, json.RawMessage(`{"amount":25}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestGetRAGContextTruncatesToCap(t *testing.T) {
	c := newTestClient(t, nil, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"context": "0123456789"})
	})

	out, err := c.getRAGContext(t.Context(), nil, json.RawMessage(`{"query":"hello","max_chars":4}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["context"] != "0123" {
		t.Fatalf("unexpected truncated context: %+v", out)
	}
}

func TestGetRAGContextFallsBackToLastUserText(t *testing.T) {
	c := newTestClient(t, nil, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"context": "ctx"})
	})
	out, err := c.getRAGContext(t.Context(), nil, json.RawMessage(`{"_last_user_text":"what's my balance"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["context"] != "ctx" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestGetRAGContextRequiresQuery(t *testing.T) {
	c := newTestClient(t, nil, nil, nil)
	_, err := c.getRAGContext(t.Context(), nil, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestWithinCutoffDropsOldTransactions(t *testing.T) {
	old := time.Now().AddDate(0, 0, -60).Format(time.RFC3339)
	recent := time.Now().AddDate(0, 0, -1).Format(time.RFC3339)
	txns := []transaction{
		{CreatedAt: old, Amount: 1},
		{CreatedAt: recent, Amount: 2},
		{CreatedAt: "", Amount: 3},
	}
	out := withinCutoff(txns, 30)
	if len(out) != 2 {
		t.Fatalf("expected old transaction dropped, got %+v", out)
	}
}

func TestTriggerEndSession(t *testing.T) {
	out, err := triggerEndSession(t.Context(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.(map[string]any)["ended"] != true {
		t.Fatalf("unexpected result: %+v", out)
	}
}
