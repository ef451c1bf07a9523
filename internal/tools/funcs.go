package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/nexusgw/gateway/pkg/models"
)

// Func is a single registered banking tool's implementation. It returns a
// JSON-serializable result value, or an error — either a *toolArgError (bad
// caller input, never retried) or a *backendError (mapped to the
// {timeout}/{backend_error} taxonomy by the executor).
type Func func(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error)

// financeUserID prefers a finance_user_id attribute over the principal's
// own id, matching the original service's user-context extraction rule.
func financeUserID(principal *models.Principal) string {
	if principal == nil {
		return ""
	}
	if v, ok := principal.Attributes["finance_user_id"]; ok {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return principal.UserID
}

func decodeArgs(args json.RawMessage, out any) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, out)
}

func (c *backendClient) getAccountBalance(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		AccountType string `json:"account_type"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	if strings.TrimSpace(in.AccountType) == "" {
		return nil, &toolArgError{msg: "account_type parameter required"}
	}

	var accounts []account
	if err := c.doJSON(ctx, c.finance, "GET", "/accounts", url.Values{"userId": {financeUserID(principal)}}, nil, &accounts); err != nil {
		return nil, err
	}
	wanted := strings.ToLower(in.AccountType)
	var balance float64
	for _, a := range accounts {
		if strings.ToLower(a.Type) == wanted {
			balance += a.Balance
		}
	}
	return map[string]any{"account_type": in.AccountType, "balance": balance}, nil
}

type transaction struct {
	CreatedAt string  `json:"createdAt"`
	Amount    float64 `json:"amount"`
	Type      string  `json:"type"`
}

func (c *backendClient) getTransactionHistory(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		Days  int `json:"days"`
		Limit int `json:"limit"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	days := in.Days
	if days <= 0 {
		days = 30
	}

	var txns []transaction
	if err := c.doJSON(ctx, c.finance, "GET", "/transactions", url.Values{"userId": {financeUserID(principal)}}, nil, &txns); err != nil {
		return nil, err
	}
	txns = withinCutoff(txns, days)

	limit := in.Limit
	if limit <= 0 {
		limit = 5
	}
	if limit < len(txns) {
		txns = txns[:limit]
	}
	return map[string]any{"days": days, "transactions": txns}, nil
}

// withinCutoff keeps transactions newer than days ago, matching the
// original's cutoff filter. A transaction with a missing or unparsable
// timestamp is kept, not dropped.
func withinCutoff(txns []transaction, days int) []transaction {
	cutoff := time.Now().AddDate(0, 0, -days)
	filtered := make([]transaction, 0, len(txns))
	for _, t := range txns {
		if t.CreatedAt == "" {
			filtered = append(filtered, t)
			continue
		}
		ts, err := time.Parse(time.RFC3339, t.CreatedAt)
		if err != nil || !ts.Before(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (c *backendClient) transferFunds(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		FromAccount string  `json:"from_account"`
		ToAccountID string  `json:"to_account_id"`
		Amount      float64 `json:"amount"`
		Description string  `json:"description"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	if in.FromAccount == "" || in.ToAccountID == "" || in.Amount == 0 {
		return nil, &toolArgError{msg: "transfer_funds requires from_account, to_account_id, amount"}
	}
	if principal == nil || principal.UserID == "" {
		return nil, &toolArgError{msg: "user context not available for transfer_funds"}
	}

	fromAccountID, err := c.resolveAccountID(ctx, in.FromAccount, financeUserID(principal))
	if err != nil {
		return nil, err
	}

	description := in.Description
	if description == "" {
		description = "LLM initiated transfer"
	}
	payload := map[string]any{
		"fromAccountId": fromAccountID,
		"toAccountId":   in.ToAccountID,
		"amount":        in.Amount,
		"description":   description,
	}
	var result map[string]any
	if err := c.doJSON(ctx, c.finance, "POST", "/transfers", nil, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *backendClient) listRecipients(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		Name        string `json:"name"`
		AccountType string `json:"account_type"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	search := strings.TrimSpace(in.Name)
	if len(search) < 3 {
		return nil, &toolArgError{msg: "name parameter (min 3 chars) is required"}
	}
	requestedType := strings.ToLower(strings.TrimSpace(in.AccountType))

	var usersResp usersResponse
	if err := c.doJSON(ctx, c.user, "GET", "/users", url.Values{"name": {search}}, nil, &usersResp); err != nil {
		return nil, err
	}

	recipients := make([]map[string]any, 0, len(usersResp.Users))
	for _, u := range usersResp.Users {
		var accounts []account
		if err := c.doJSON(ctx, c.finance, "GET", "/accounts", url.Values{"userId": {u.ID}}, nil, &accounts); err != nil {
			return nil, err
		}
		if len(accounts) == 0 {
			continue
		}

		chosen := accounts[0]
		if requestedType != "" {
			found := false
			for _, a := range accounts {
				if strings.ToLower(a.Type) == requestedType {
					chosen, found = a, true
					break
				}
			}
			if !found {
				continue
			}
		}

		recipients = append(recipients, map[string]any{
			"user_id":      u.ID,
			"name":         u.Name,
			"account_id":   chosen.ID,
			"account_type": chosen.Type,
		})
	}
	return map[string]any{"recipients": recipients}, nil
}

func (c *backendClient) getUserProfile(ctx context.Context, principal *models.Principal, _ json.RawMessage) (any, error) {
	if principal == nil || principal.UserID == "" {
		return nil, &toolArgError{msg: "user context required"}
	}
	userID := financeUserID(principal)

	var accounts []account
	if err := c.doJSON(ctx, c.finance, "GET", "/accounts", url.Values{"userId": {userID}}, nil, &accounts); err != nil {
		return nil, err
	}
	return map[string]any{
		"user_id":         userID,
		"name":            principal.Attributes["user_name"],
		"membership_tier": principal.Tier,
		"region":          principal.Region,
		"accounts":        accounts,
	}, nil
}

func (c *backendClient) getPortfolioBalance(ctx context.Context, principal *models.Principal, _ json.RawMessage) (any, error) {
	var holdings []map[string]any
	if err := c.doJSON(ctx, c.finance, "GET", "/portfolio", url.Values{"userId": {financeUserID(principal)}}, nil, &holdings); err != nil {
		return nil, err
	}
	var total float64
	for _, h := range holdings {
		if v, ok := h["value"].(float64); ok {
			total += v
		}
	}
	return map[string]any{"balance": total, "holdings": holdings}, nil
}

func (c *backendClient) placeTradeOrder(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		Symbol string  `json:"symbol"`
		Side   string  `json:"order_type"`
		Amount float64 `json:"quantity"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	if in.Symbol == "" || in.Side == "" || in.Amount <= 0 {
		return nil, &toolArgError{msg: "place_trade_order requires symbol, order_type, quantity"}
	}
	payload := map[string]any{
		"userId": financeUserID(principal),
		"symbol": in.Symbol,
		"side":   in.Side,
		"amount": in.Amount,
	}
	var result map[string]any
	if err := c.doJSON(ctx, c.finance, "POST", "/trades", nil, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *backendClient) checkCreditScore(ctx context.Context, principal *models.Principal, _ json.RawMessage) (any, error) {
	var result map[string]any
	if err := c.doJSON(ctx, c.finance, "GET", "/credit-score", url.Values{"userId": {financeUserID(principal)}}, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *backendClient) applyForLoan(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		Amount      float64 `json:"amount"`
		TermMonths  int     `json:"term_months"`
		LoanPurpose string  `json:"purpose"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	if in.Amount <= 0 || in.TermMonths <= 0 {
		return nil, &toolArgError{msg: "apply_for_loan requires amount, term_months"}
	}
	payload := map[string]any{
		"userId":     financeUserID(principal),
		"amount":     in.Amount,
		"termMonths": in.TermMonths,
		"purpose":    in.LoanPurpose,
	}
	var result map[string]any
	if err := c.doJSON(ctx, c.finance, "POST", "/loans", nil, payload, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *backendClient) getAllCustomerAccounts(ctx context.Context, _ *models.Principal, _ json.RawMessage) (any, error) {
	var accounts []account
	if err := c.doJSON(ctx, c.finance, "GET", "/accounts", nil, nil, &accounts); err != nil {
		return nil, err
	}
	return map[string]any{"accounts": accounts}, nil
}

// triggerEndSession has no backend call: it is a pure signal the
// Orchestrator inspects to close the session after this turn.
func triggerEndSession(_ context.Context, _ *models.Principal, _ json.RawMessage) (any, error) {
	return map[string]any{"ended": true}, nil
}

// ragContextCap is the character cap applied when the caller doesn't
// supply one explicitly (the Orchestrator fills this from the C1 registry's
// per-model RAGMaxContextChars default before dispatch).
const ragContextCap = 4000

func (c *backendClient) getRAGContext(ctx context.Context, principal *models.Principal, args json.RawMessage) (any, error) {
	var in struct {
		Query        string `json:"query"`
		MaxChars     int    `json:"max_chars"`
		K            int    `json:"k"`
		LastUserText string `json:"_last_user_text"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, &toolArgError{msg: "invalid arguments"}
	}
	query := strings.TrimSpace(in.Query)
	if query == "" {
		query = strings.TrimSpace(in.LastUserText)
	}
	if query == "" {
		return nil, &toolArgError{msg: "get_rag_context requires 'query' string"}
	}

	payload := map[string]any{"query": query}
	if in.K > 0 {
		payload["k"] = in.K
	}

	ragCtx, cancel := withRAGTimeout(ctx)
	defer cancel()

	var result struct {
		Context string `json:"context"`
	}
	if err := c.doJSON(ragCtx, c.rag, "POST", "/query", nil, payload, &result); err != nil {
		return nil, err
	}

	cap := in.MaxChars
	if cap <= 0 {
		cap = ragContextCap
	}
	text := result.Context
	if len(text) > cap {
		text = text[:cap]
	}
	return map[string]any{"context": text}, nil
}
