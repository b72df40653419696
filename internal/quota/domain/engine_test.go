package domain

import (
	"testing"

	orgdomain "github.com/smallbiznis/callsight/internal/organization/domain"
)

var allowances = map[orgdomain.Tier]Allowance{
	orgdomain.TierFree:       {CallsPerMonth: 10, StorageMB: 100, Seats: 1},
	orgdomain.TierIndividual: {CallsPerMonth: 100, StorageMB: 1024, Seats: 1},
	orgdomain.TierTeam:       {CallsPerMonth: 500, StorageMB: 10240, Seats: 10},
	orgdomain.TierEnterprise: {CallsPerMonth: 5000, StorageMB: 102400, Seats: 100},
	orgdomain.TierPayAsYouGo: {CallsPerMonth: 0, StorageMB: 5120, Seats: 5},
}

func TestCanConsumeBoundaryEveryTier(t *testing.T) {
	for tier, allowance := range allowances {
		if tier == orgdomain.TierPayAsYouGo {
			continue
		}
		limit := allowance.CallsPerMonth

		atEdge := CanConsume(UsageState{Tier: tier, CallsUsed: limit - 1}, allowance, ResourceCalls, 1)
		if !atEdge.Allowed {
			t.Fatalf("%s: expected used=%d +1 to be allowed", tier, limit-1)
		}
		over := CanConsume(UsageState{Tier: tier, CallsUsed: limit}, allowance, ResourceCalls, 1)
		if over.Allowed {
			t.Fatalf("%s: expected used=%d +1 to be refused", tier, limit)
		}
		if over.Remaining != 0 || over.Limit != limit {
			t.Fatalf("%s: unexpected decision %+v", tier, over)
		}
	}
}

func TestCanConsumeFreeTierNinthCall(t *testing.T) {
	d := CanConsume(UsageState{Tier: orgdomain.TierFree, CallsUsed: 9}, allowances[orgdomain.TierFree], ResourceCalls, 1)
	if !d.Allowed || d.CurrentUsed != 9 || d.Limit != 10 || d.Remaining != 1 {
		t.Fatalf("unexpected decision %+v", d)
	}
	d = CanConsume(UsageState{Tier: orgdomain.TierFree, CallsUsed: 10}, allowances[orgdomain.TierFree], ResourceCalls, 1)
	if d.Allowed {
		t.Fatalf("expected 11th call to be refused")
	}
}

func TestCanConsumePayAsYouGoUsesCredits(t *testing.T) {
	allowance := allowances[orgdomain.TierPayAsYouGo]
	d := CanConsume(UsageState{Tier: orgdomain.TierPayAsYouGo, CallsUsed: 999, CreditsBalance: 3}, allowance, ResourceCalls, 3)
	if !d.Allowed || d.CurrentUsed != 0 || d.Limit != 3 {
		t.Fatalf("unexpected decision %+v", d)
	}
	d = CanConsume(UsageState{Tier: orgdomain.TierPayAsYouGo, CreditsBalance: 0}, allowance, ResourceCalls, 1)
	if d.Allowed {
		t.Fatalf("expected empty balance to refuse")
	}
}

func TestCanConsumePrefersPositiveRowLimit(t *testing.T) {
	d := CanConsume(UsageState{Tier: orgdomain.TierFree, CallsUsed: 10, CallsLimit: 25}, allowances[orgdomain.TierFree], ResourceCalls, 5)
	if !d.Allowed || d.Limit != 25 {
		t.Fatalf("expected row limit to win, got %+v", d)
	}
}

func TestCanConsumeSeatsAndStorage(t *testing.T) {
	team := allowances[orgdomain.TierTeam]
	if d := CanConsume(UsageState{Tier: orgdomain.TierTeam, Seats: 10}, team, ResourceSeats, 1); d.Allowed {
		t.Fatalf("expected 11th seat to be refused")
	}
	if d := CanConsume(UsageState{Tier: orgdomain.TierTeam, StorageUsedMB: 10000}, team, ResourceStorageMB, 240); !d.Allowed {
		t.Fatalf("expected storage at limit to be allowed")
	}
}

func TestCanConsumeRejectsUnknownResource(t *testing.T) {
	if d := CanConsume(UsageState{}, Allowance{CallsPerMonth: 10}, Resource("minutes"), 1); d.Allowed {
		t.Fatalf("expected unknown resource to be refused")
	}
	if _, err := ParseResource("minutes"); err != ErrInvalidResource {
		t.Fatalf("expected invalid resource, got %v", err)
	}
}
