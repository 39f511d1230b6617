package pricing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
// Every mutation holds one lock, so bulk updates are all-or-nothing.
type MemoryRepo struct {
	mu      sync.Mutex
	plans   map[int64]DataPlan
	offers  map[int64]Offer
	nextID  int64
	granted map[[2]int64]int64
}

func NewMemoryRepo(plans ...DataPlan) *MemoryRepo {
	r := &MemoryRepo{
		plans:   make(map[int64]DataPlan),
		offers:  make(map[int64]Offer),
		granted: make(map[[2]int64]int64),
	}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

// PutPlan seeds or replaces a catalog entry.
func (r *MemoryRepo) PutPlan(p DataPlan) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = p
}

func (r *MemoryRepo) GetPlan(_ context.Context, id int64) (DataPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return DataPlan{}, ErrPlanNotFound
	}
	return p, nil
}

func (r *MemoryRepo) ListPlans(_ context.Context) ([]DataPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DataPlan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) GetOffer(_ context.Context, id int64) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[id]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	return r.decorate(o), nil
}

func (r *MemoryRepo) CreateOffer(_ context.Context, o Offer) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plans[o.PlanID]; !ok {
		return Offer{}, ErrPlanNotFound
	}
	key := [2]int64{o.SubvendorID, o.PlanID}
	if _, ok := r.granted[key]; ok {
		return Offer{}, ErrOfferExists
	}
	r.nextID++
	o.ID = r.nextID
	r.offers[o.ID] = o
	r.granted[key] = o.ID
	return r.decorate(o), nil
}

func (r *MemoryRepo) ListOffers(_ context.Context, subvendorID int64) ([]Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(o Offer) bool { return o.SubvendorID == subvendorID }), nil
}

func (r *MemoryRepo) ListOffersForPlan(_ context.Context, planID int64) ([]Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filter(func(o Offer) bool { return o.PlanID == planID }), nil
}

func (r *MemoryRepo) MutateSubvendorOffers(_ context.Context, subvendorID int64, fn func([]Offer) ([]Offer, error)) ([]Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated, err := fn(r.filter(func(o Offer) bool { return o.SubvendorID == subvendorID }))
	if err != nil {
		return nil, err
	}
	for _, o := range updated {
		r.offers[o.ID] = o
	}
	return r.filter(func(o Offer) bool { return o.SubvendorID == subvendorID }), nil
}

func (r *MemoryRepo) MutateOffer(_ context.Context, id int64, fn func(Offer) (Offer, error)) (Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.offers[id]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	updated, err := fn(r.decorate(o))
	if err != nil {
		return Offer{}, err
	}
	r.offers[id] = updated
	return r.decorate(updated), nil
}

func (r *MemoryRepo) SetBasePrice(_ context.Context, planID int64, price decimal.Decimal, at time.Time, fn func(Offer) Offer) (DataPlan, []Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[planID]
	if !ok {
		return DataPlan{}, nil, ErrPlanNotFound
	}
	p.BasePrice = price
	p.UpdatedAt = at
	r.plans[planID] = p

	offers := r.filter(func(o Offer) bool { return o.PlanID == planID })
	for i, o := range offers {
		offers[i] = fn(o)
		r.offers[o.ID] = offers[i]
	}
	return p, offers, nil
}

// filter returns matching offers ordered by id. Caller holds mu.
func (r *MemoryRepo) filter(keep func(Offer) bool) []Offer {
	var out []Offer
	for _, o := range r.offers {
		if keep(o) {
			out = append(out, r.decorate(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// decorate joins plan name and network the way the SQL repository does.
func (r *MemoryRepo) decorate(o Offer) Offer {
	if p, ok := r.plans[o.PlanID]; ok {
		o.PlanName, o.Network = p.Name, p.Network
	}
	return o
}
