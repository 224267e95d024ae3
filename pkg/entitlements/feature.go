package entitlements

import (
	"encoding/json"
	"fmt"
	"math"
)

// Feature identifies a gated capability.
type Feature string

const (
	FeatureAIChatMessages             Feature = "aiChatMessages"
	FeatureMaxMealPlansPerMonth       Feature = "maxMealPlansPerMonth"
	FeatureMaxWorkoutPlansPerMonth    Feature = "maxWorkoutPlansPerMonth"
	FeatureProgressPhotos             Feature = "progressPhotos"
	FeatureVideoConsultationsPerMonth Feature = "videoConsultationsPerMonth"
	FeatureFoodLogging                Feature = "foodLogging"
	FeatureBarcodeScanner             Feature = "barcodeScanner"
	FeatureCustomMacros               Feature = "customMacros"
	FeatureAIMealPlanner              Feature = "aiMealPlanner"
	FeatureAIWorkoutGenerator         Feature = "aiWorkoutGenerator"
	FeatureAdvancedAnalytics          Feature = "advancedAnalytics"
	FeatureWearableSync               Feature = "wearableSync"
	FeatureExportData                 Feature = "exportData"
	FeatureCustomChallenges           Feature = "customChallenges"
	FeaturePersonalCoach              Feature = "personalCoach"
	FeaturePrioritySupport            Feature = "prioritySupport"
	FeatureHasAds                     Feature = "hasAds"
)

var allFeatures = []Feature{
	FeatureAIChatMessages,
	FeatureMaxMealPlansPerMonth,
	FeatureMaxWorkoutPlansPerMonth,
	FeatureProgressPhotos,
	FeatureVideoConsultationsPerMonth,
	FeatureFoodLogging,
	FeatureBarcodeScanner,
	FeatureCustomMacros,
	FeatureAIMealPlanner,
	FeatureAIWorkoutGenerator,
	FeatureAdvancedAnalytics,
	FeatureWearableSync,
	FeatureExportData,
	FeatureCustomChallenges,
	FeaturePersonalCoach,
	FeaturePrioritySupport,
	FeatureHasAds,
}

// AllFeatures returns every known feature.
func AllFeatures() []Feature {
	out := make([]Feature, len(allFeatures))
	copy(out, allFeatures)
	return out
}

// ParseFeature returns the feature named s.
func ParseFeature(s string) (Feature, bool) {
	for _, f := range allFeatures {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Kind discriminates Value.
type Kind uint8

const (
	KindBool Kind = iota
	KindQuota
	KindUnlimited
)

// UnlimitedUsage is returned by RemainingUsage for features without a cap.
const UnlimitedUsage = -1

const unlimitedJSON = "unlimited"

// Value is the setting of one feature: a boolean, a quota, or unlimited.
// The zero Value is Bool(false).
type Value struct {
	kind    Kind
	enabled bool
	quota   uint32
}

// Bool returns an on/off value.
func Bool(enabled bool) Value {
	return Value{kind: KindBool, enabled: enabled}
}

// Quota returns a numeric cap.
func Quota(n uint32) Value {
	return Value{kind: KindQuota, quota: n}
}

// Unlimited returns the uncapped value.
func Unlimited() Value {
	return Value{kind: KindUnlimited}
}

// Kind returns the value's variant.
func (v Value) Kind() Kind {
	return v.kind
}

// IsUnlimited reports whether v is the unlimited sentinel.
func (v Value) IsUnlimited() bool {
	return v.kind == KindUnlimited
}

// Enabled reports the boolean for KindBool values.
func (v Value) Enabled() bool {
	return v.kind == KindBool && v.enabled
}

// QuotaLimit returns the cap for KindQuota values.
func (v Value) QuotaLimit() (uint32, bool) {
	if v.kind != KindQuota {
		return 0, false
	}
	return v.quota, true
}

// Interface returns v as a plain JSON-friendly value.
func (v Value) Interface() any {
	switch v.kind {
	case KindQuota:
		return v.quota
	case KindUnlimited:
		return unlimitedJSON
	default:
		return v.enabled
	}
}

func (v Value) String() string {
	return fmt.Sprint(v.Interface())
}

// MarshalJSON encodes booleans and quotas natively and unlimited as "unlimited".
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts true/false, a non-negative integer or "unlimited".
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case bool:
		*v = Bool(t)
	case float64:
		if t < 0 || t != math.Trunc(t) || t > math.MaxUint32 {
			return fmt.Errorf("invalid quota %v", t)
		}
		*v = Quota(uint32(t))
	case string:
		if t != unlimitedJSON {
			return fmt.Errorf("invalid feature value %q", t)
		}
		*v = Unlimited()
	default:
		return fmt.Errorf("unsupported feature value %s", string(data))
	}
	return nil
}

// FeatureSet maps features to their values.
type FeatureSet map[Feature]Value

// Clone returns a shallow copy of fs.
func (fs FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}

// Override is a per-user partial feature set applied over the plan defaults.
type Override map[Feature]Value

// ParseOverride decodes a stored override document. Unknown feature keys are dropped.
func ParseOverride(data []byte) (Override, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var raw map[string]Value
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode feature override: %w", err)
	}

	out := make(Override, len(raw))
	for name, v := range raw {
		if f, ok := ParseFeature(name); ok {
			out[f] = v
		}
	}
	return out, nil
}
