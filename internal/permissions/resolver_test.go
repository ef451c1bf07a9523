package permissions

import (
	"reflect"
	"sort"
	"testing"

	"github.com/nexusgw/gateway/pkg/models"
)

func principal(scopes, roles []string, attrs map[string]any, tier, region string, verified bool) *models.Principal {
	return &models.Principal{
		Scopes:     scopes,
		Roles:      roles,
		Attributes: attrs,
		Tier:       tier,
		Region:     region,
		Verified:   verified,
	}
}

func TestResolveDeterministic(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	p := principal([]string{"banking:read"}, nil, nil, "", "", false)
	first := r.Resolve(p)
	second := r.Resolve(p)
	sort.Strings(first)
	sort.Strings(second)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolve is not deterministic: %v vs %v", first, second)
	}
}

func TestScopeGateDenies(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	p := principal([]string{"profile:read"}, nil, nil, "", "", false)
	permitted := r.Resolve(p)
	for _, name := range permitted {
		if name == "get_account_balance" {
			t.Fatalf("get_account_balance should be denied without banking:read scope")
		}
	}
}

func TestS2RecipientAndTransferPermitted(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	p := principal(
		[]string{"banking:read", "banking:write", "transfers:create"},
		[]string{"customer"},
		nil, "premium", "domestic", true,
	)
	permitted := toSet(r.Resolve(p))
	for _, want := range []string{"list_recipients", "transfer_funds"} {
		if _, ok := permitted[want]; !ok {
			t.Errorf("expected %s permitted, got %v", want, permitted)
		}
	}
}

func TestS3UnauthorizedToolDenied(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	p := principal([]string{"banking:read"}, []string{"customer"}, nil, "", "", false)
	permitted := toSet(r.Resolve(p))
	if _, ok := permitted["place_trade_order"]; ok {
		t.Errorf("place_trade_order should not be permitted: %v", permitted)
	}
}

func TestConditionGateTierList(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	basic := principal([]string{"investments:read"}, nil, nil, "basic", "", false)
	premium := principal([]string{"investments:read"}, nil, nil, "premium", "", false)

	basicSet := toSet(r.Resolve(basic))
	premiumSet := toSet(r.Resolve(premium))

	if _, ok := basicSet["get_portfolio_balance"]; ok {
		t.Errorf("basic tier should not see get_portfolio_balance")
	}
	if _, ok := premiumSet["get_portfolio_balance"]; !ok {
		t.Errorf("premium tier should see get_portfolio_balance")
	}
}

func TestConditionGateVerified(t *testing.T) {
	r := NewResolver(DefaultCatalog())
	unverified := principal([]string{"credit:read"}, nil, nil, "", "", false)
	verified := principal([]string{"credit:read"}, nil, nil, "", "", true)

	if _, ok := toSet(r.Resolve(unverified))["check_credit_score"]; ok {
		t.Errorf("unverified principal should not see check_credit_score")
	}
	if _, ok := toSet(r.Resolve(verified))["check_credit_score"]; !ok {
		t.Errorf("verified principal should see check_credit_score")
	}
}

func TestUnconditionalRAGToolInResolverOutputForEmptyPrincipal(t *testing.T) {
	// get_rag_context carries no scope/role/condition gates, so it is
	// always present in resolver output regardless of principal --
	// the Orchestrator's unconditional whitelist (SPEC_FULL.md §4.7)
	// is a belt-and-suspenders guarantee on top of this, not a
	// substitute for it.
	r := NewResolver(DefaultCatalog())
	p := principal(nil, nil, nil, "", "", false)
	permitted := toSet(r.Resolve(p))
	if _, ok := permitted[RAGContextTool]; !ok {
		t.Errorf("expected %s always resolvable", RAGContextTool)
	}
}
