package tools

import "encoding/json"

// Registry is the static tool-name -> implementation map, ported from the
// original service's FUNCTION_MAP.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry builds the registry of the twelve concrete banking tools
// against the given backend configuration.
func NewRegistry(cfg BackendConfig) *Registry {
	c := newBackendClient(cfg)
	return &Registry{
		funcs: map[string]Func{
			"get_account_balance":       c.getAccountBalance,
			"get_transaction_history":   c.getTransactionHistory,
			"transfer_funds":            c.transferFunds,
			"list_recipients":           c.listRecipients,
			"get_user_profile":          c.getUserProfile,
			"get_portfolio_balance":     c.getPortfolioBalance,
			"place_trade_order":         c.placeTradeOrder,
			"check_credit_score":        c.checkCreditScore,
			"apply_for_loan":            c.applyForLoan,
			"get_all_customer_accounts": c.getAllCustomerAccounts,
			"trigger_end_session":       triggerEndSession,
			"get_rag_context":           c.getRAGContext,
		},
	}
}

// Get returns the tool's implementation and whether it exists.
func (r *Registry) Get(name string) (Func, bool) {
	f, ok := r.funcs[name]
	return f, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for n := range r.funcs {
		names = append(names, n)
	}
	return names
}

// marshalResult serializes a successful Func result into the string a
// models.ToolResult carries as Content.
func marshalResult(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
