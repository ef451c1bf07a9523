package tools

import (
	"context"
	"net/url"
	"strings"
)

// account mirrors the finance-service's account record shape.
type account struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Balance float64 `json:"balance"`
}

// user mirrors the user-service's record shape.
type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type usersResponse struct {
	Users []user `json:"users"`
}

// isAccountID reports whether identifier already looks like a backend
// account UUID (36 chars, 4 hyphens) rather than an account-type name like
// "checking" or "savings".
func isAccountID(identifier string) bool {
	return len(identifier) == 36 && strings.Count(identifier, "-") == 4
}

// resolveAccountID turns a caller-supplied account designator into a
// concrete account id: verbatim if it already looks like one, otherwise
// resolved by matching it against the user's own accounts by type.
func (c *backendClient) resolveAccountID(ctx context.Context, identifier, userID string) (string, error) {
	if isAccountID(identifier) {
		return identifier, nil
	}

	var accounts []account
	if err := c.doJSON(ctx, c.finance, "GET", "/accounts", url.Values{"userId": {userID}}, nil, &accounts); err != nil {
		return "", err
	}
	wanted := strings.ToLower(identifier)
	for _, a := range accounts {
		if strings.ToLower(a.Type) == wanted {
			return a.ID, nil
		}
	}
	return "", &toolArgError{msg: "no " + identifier + " account found for user"}
}

// toolArgError marks a caller-input validation failure; distinct from a
// backendError so the executor never retries it and reports it verbatim.
type toolArgError struct{ msg string }

func (e *toolArgError) Error() string { return e.msg }
