package billing

import (
	"math"
	"strings"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/apperror"
)

const DefaultCurrency = "USD"

var ErrUnknownPlan = apperror.Validation("unknown_plan", "unknown plan")

// Plan is a purchasable subscription tier. DurationDays == 0 means the plan
// never expires (the free tier).
type Plan struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	DurationDays int     `json:"duration_days"`
}

func (p Plan) Permanent() bool {
	return p.DurationDays == 0
}

func (p Plan) Purchasable() bool {
	return !p.Permanent() && p.Amount > 0
}

// AmountMinor is the amount in cents.
func (p Plan) AmountMinor() int64 {
	return int64(math.Round(p.Amount * 100))
}

// Catalog is the fixed set of plans the service sells.
type Catalog struct {
	plans map[string]Plan
	order []string
}

func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if p.Currency == "" {
			p.Currency = DefaultCurrency
		}
		if _, exists := c.plans[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		c.plans[p.ID] = p
	}
	return c
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{ID: models.FreePlanID, Name: "Free", Amount: 0, DurationDays: 0},
		Plan{ID: "monthly", Name: "Monthly", Amount: 29.00, DurationDays: 30},
		Plan{ID: "quarterly", Name: "Quarterly", Amount: 79.00, DurationDays: 90},
		Plan{ID: "yearly", Name: "Yearly", Amount: 290.00, DurationDays: 365},
	)
}

func (c *Catalog) Get(id string) (Plan, error) {
	p, ok := c.plans[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return Plan{}, ErrUnknownPlan.Withf("unknown plan %q", id)
	}
	return p, nil
}

// List returns plans in catalog order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.plans[id])
	}
	return out
}

func roundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
