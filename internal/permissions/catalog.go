// Package permissions implements the ABAC resolver that turns a principal's
// claims into its set of permitted tool names, plus the static banking tool
// catalog it is resolved against.
package permissions

import "github.com/nexusgw/gateway/pkg/models"

// RAGContextTool is unconditionally whitelisted by the Orchestrator
// regardless of resolver output (SPEC_FULL.md §4.3, §4.7).
const RAGContextTool = "get_rag_context"

// props is shorthand for a JSON Schema "properties" map.
type props map[string]any

// schema builds a JSON Schema object for a tool's parameters, matching the
// wire format spec.md §6 requires (an object with properties and required).
func schema(p props, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": p,
		"required":   required,
	}
}

func str(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

func enumString(description string, values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values, "description": description}
}

func intMin(description string, min int) map[string]any {
	return map[string]any{"type": "integer", "minimum": min, "description": description}
}

func intRange(description string, min, max int) map[string]any {
	return map[string]any{"type": "integer", "minimum": min, "maximum": max, "description": description}
}

func numberMin(description string, min float64) map[string]any {
	return map[string]any{"type": "number", "minimum": min, "description": description}
}

// DefaultCatalog is the concrete banking tool catalog, ported from the
// original service's function_definitions defaults (including the
// per-function JSON-schema parameters the model needs to populate a call).
func DefaultCatalog() []models.ToolPermission {
	return []models.ToolPermission{
		{
			Name:           "get_account_balance",
			Description:    "Check the current balance of a user's account",
			RequiredScopes: []string{"banking:read"},
			ParameterSchema: schema(
				props{
					"account_type": enumString("The type of account to check", "checking", "savings", "credit"),
				},
				"account_type",
			),
		},
		{
			Name:           "get_transaction_history",
			Description:    "Get recent transaction history for an account",
			RequiredScopes: []string{"banking:read"},
			ParameterSchema: schema(
				props{
					"account_type": enumString("The type of account", "checking", "savings", "credit"),
					"days":         intRange("Number of days of history to retrieve", 1, 90),
					"limit":        intRange("Maximum number of transactions to return (default 5)", 1, 100),
				},
				"account_type",
			),
		},
		{
			Name:           "transfer_funds",
			Description:    "Transfer funds between your accounts or to another user's account ID (obtain via list_recipients). Use the recipient's account_type if specified to select the correct destination.",
			RequiredScopes: []string{"banking:write", "transfers:create"},
			RequiredRoles:  []string{"customer"},
			Conditions:     map[string]any{"verified": true},
			ParameterSchema: schema(
				props{
					"from_account":  enumString("Source account type (checking or savings)", "checking", "savings"),
					"to_account_id": str("Destination ACCOUNT ID (UUID) - call list_recipients first to obtain it"),
					"amount":        numberMin("Amount to transfer", 0.01),
				},
				"from_account", "to_account_id", "amount",
			),
		},
		{
			Name:           "get_portfolio_balance",
			Description:    "Get investment portfolio balance and allocation",
			RequiredScopes: []string{"investments:read"},
			Conditions:     map[string]any{"tier": []string{"premium", "private"}},
			ParameterSchema: schema(
				props{
					"portfolio_type": enumString("Type of portfolio to check", "stocks", "bonds", "etfs", "all"),
				},
				"portfolio_type",
			),
		},
		{
			Name:           "place_trade_order",
			Description:    "Place buy/sell orders for securities",
			RequiredScopes: []string{"investments:write"},
			RequiredRoles:  []string{"customer"},
			Conditions:     map[string]any{"verified": true, "tier": []string{"premium", "private"}},
			ParameterSchema: schema(
				props{
					"symbol":       str("Stock symbol (e.g., AAPL, GOOGL)"),
					"order_type":   enumString("Order type", "buy", "sell"),
					"quantity":     intMin("Number of shares", 1),
					"order_method": enumString("Market or limit order", "market", "limit"),
					"limit_price":  numberMin("Limit price (required for limit orders)", 0.01),
				},
				"symbol", "order_type", "quantity", "order_method",
			),
		},
		{
			Name:           "check_credit_score",
			Description:    "Check current credit score and credit report summary",
			RequiredScopes: []string{"credit:read"},
			Conditions:     map[string]any{"verified": true},
			ParameterSchema: schema(props{}),
		},
		{
			Name:           "apply_for_loan",
			Description:    "Submit loan application",
			RequiredScopes: []string{"credit:write"},
			RequiredRoles:  []string{"customer"},
			Conditions:     map[string]any{"verified": true, "region": "domestic"},
			ParameterSchema: schema(
				props{
					"loan_type":   enumString("Type of loan to apply for", "personal", "auto", "home", "business"),
					"amount":      numberMin("Loan amount requested", 1000),
					"term_months": intRange("Loan term in months", 12, 360),
				},
				"loan_type", "amount", "term_months",
			),
		},
		{
			Name:           "get_all_customer_accounts",
			Description:    "Get customer account information (admin only)",
			RequiredScopes: []string{"admin:read"},
			RequiredRoles:  []string{"admin", "support"},
			ParameterSchema: schema(
				props{
					"customer_id":  str("Customer ID to lookup"),
					"account_type": enumString("Filter by account type", "all", "checking", "savings", "credit", "investment"),
				},
				"customer_id",
			),
		},
		{
			Name:        "trigger_end_session",
			Description: "Signal that the user wants to end the banking session (shows end session option to user)",
			ParameterSchema: schema(
				props{
					"reason": str("Optional reason for ending the session"),
				},
			),
		},
		{
			Name:           "get_user_profile",
			Description:    "Fetch basic profile information for the current authenticated user (admin only). Returns name, email, tier, region, and list of accounts.",
			RequiredScopes: []string{"profile:read"},
			ParameterSchema: schema(props{}),
		},
		{
			Name:           "list_recipients",
			Description:    "Search recipient users by name. If account_type is provided, returns recipients with an account ID of that type; otherwise returns the first account ID.",
			RequiredScopes: []string{"banking:read", "transfers:create"},
			ParameterSchema: schema(
				props{
					"name":         str("Partial or full name of the recipient (min 3 characters)"),
					"account_type": enumString("Optional desired recipient account type (e.g., savings). If omitted, the first account will be selected.", "checking", "savings"),
				},
				"name",
			),
		},
		{
			Name:        RAGContextTool,
			Description: "Retrieve concise knowledge-base context for the user's question.",
			ParameterSchema: schema(
				props{
					"query": str("The user's latest question to retrieve KB context for"),
				},
				"query",
			),
		},
	}
}
