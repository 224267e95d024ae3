package entitlements

import "github.com/greenofig/greenofig/pkg/models"

// Resolver answers feature queries for one user. It is immutable after construction.
type Resolver struct {
	tier       Tier
	status     string
	plan       PlanKey
	downgraded bool
	features   FeatureSet
}

// NewResolver builds the effective feature set for a subscription (nil means no
// subscription) and an optional override.
//
// A subscription that is not active on a paid plan resolves to the free table,
// and its overrides are discarded.
func NewResolver(sub *models.Subscription, override Override) *Resolver {
	r := &Resolver{plan: PlanFree}
	if sub != nil {
		r.tier = Tier(sub.Tier)
		r.status = sub.Status
		r.plan = PlanKeyForTier(r.tier)
	}

	if sub != nil && !sub.IsActive() && r.plan != PlanFree {
		r.plan = PlanFree
		r.downgraded = true
		r.features = PlanFeatures(PlanFree)
		return r
	}

	r.features = PlanFeatures(r.plan)
	for f, v := range override {
		r.features[f] = v
	}
	return r
}

// PlanKey returns the feature table in effect.
func (r *Resolver) PlanKey() PlanKey {
	return r.plan
}

// Tier returns the stored subscription tier, empty when there is none.
func (r *Resolver) Tier() Tier {
	return r.tier
}

// Status returns the stored subscription status, empty when there is none.
func (r *Resolver) Status() string {
	return r.status
}

// Downgraded reports whether an inactive paid subscription was forced to free.
func (r *Resolver) Downgraded() bool {
	return r.downgraded
}

// Value returns the effective value of f. Unknown features are Bool(false).
func (r *Resolver) Value(f Feature) Value {
	return r.features[f]
}

// Features returns a copy of the effective feature set.
func (r *Resolver) Features() FeatureSet {
	return r.features.Clone()
}

// HasAccess is true only for features set to true or unlimited.
// Quota features are checked with CanUse.
func (r *Resolver) HasAccess(f Feature) bool {
	v := r.features[f]
	return v.Enabled() || v.IsUnlimited()
}

// CanUse reports whether one more use of f is allowed after currentUsage uses.
func (r *Resolver) CanUse(f Feature, currentUsage int) bool {
	v := r.features[f]
	if v.Enabled() || v.IsUnlimited() {
		return true
	}
	if n, ok := v.QuotaLimit(); ok {
		return int64(currentUsage) < int64(n)
	}
	return false
}

// RemainingUsage returns how many uses of f are left, or UnlimitedUsage.
func (r *Resolver) RemainingUsage(f Feature, currentUsage int) int {
	v := r.features[f]
	if v.Enabled() || v.IsUnlimited() {
		return UnlimitedUsage
	}
	n, ok := v.QuotaLimit()
	if !ok {
		return 0
	}
	remaining := int64(n) - int64(currentUsage)
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// HasAds reports whether ads are shown to the user.
func (r *Resolver) HasAds() bool {
	return r.HasAccess(FeatureHasAds)
}
