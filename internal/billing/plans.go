// Package billing holds the checkout plan catalog.
package billing

import (
	"fmt"
	"sort"

	"stride/internal/config"
	"stride/internal/types"
)

// Plan names accepted by the checkout endpoint.
const (
	PlanMonthly      = "monthly"
	PlanYearly       = "yearly"
	PlanStreakFreeze = "streak_freeze"
	PlanExtraGoal    = "extra_goal"
)

// Catalog maps plan names to what they sell. It is built once from config
// and is read-only afterwards.
type Catalog struct {
	plans map[string]types.CheckoutPlan
}

// NewCatalog builds the catalog from the configured Stripe price ids.
// Plans whose price id is empty stay in the catalog so Lookup can tell an
// unknown plan apart from an unconfigured one.
func NewCatalog(cfg config.BillingConfig) *Catalog {
	plans := []types.CheckoutPlan{
		{
			Name:      PlanMonthly,
			PriceID:   cfg.PriceIDMonthly,
			Mode:      types.CheckoutModeSubscription,
			TrialDays: cfg.TrialDays,
		},
		{
			Name:      PlanYearly,
			PriceID:   cfg.PriceIDYearly,
			Mode:      types.CheckoutModeSubscription,
			TrialDays: cfg.TrialDays,
		},
		{
			Name:         PlanStreakFreeze,
			PriceID:      cfg.PriceIDStreakFreeze,
			Mode:         types.CheckoutModePayment,
			PurchaseType: types.PurchaseStreakFreeze,
		},
		{
			Name:         PlanExtraGoal,
			PriceID:      cfg.PriceIDExtraGoal,
			Mode:         types.CheckoutModePayment,
			PurchaseType: types.PurchaseExtraGoal,
		},
	}

	m := make(map[string]types.CheckoutPlan, len(plans))
	for _, p := range plans {
		m[p.Name] = p
	}
	return &Catalog{plans: m}
}

// Lookup returns the plan registered under name. Unknown plans and plans
// without a configured price both fail with validation_invalid_plan.
func (c *Catalog) Lookup(name string) (types.CheckoutPlan, error) {
	p, ok := c.plans[name]
	if !ok {
		return types.CheckoutPlan{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("unknown plan %q", name),
			nil,
			map[string]any{"allowed": c.Names()},
		)
	}
	if p.PriceID == "" {
		return types.CheckoutPlan{}, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("plan %q is not configured", name),
			nil,
		)
	}
	return p, nil
}

// Names returns every plan name in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.plans))
	for name := range c.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Missing returns the sorted names of plans with no price id configured.
// The health endpoint reports these.
func (c *Catalog) Missing() []string {
	var missing []string
	for name, p := range c.plans {
		if p.PriceID == "" {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}
