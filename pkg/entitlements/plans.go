package entitlements

// Tier is the subscription level sold to users.
type Tier string

const (
	TierBase     Tier = "Base"
	TierPremium  Tier = "Premium"
	TierUltimate Tier = "Ultimate"
	TierElite    Tier = "Elite"
)

// PlanKey selects a row of the feature table.
type PlanKey string

const (
	PlanFree    PlanKey = "free"
	PlanPremium PlanKey = "premium"
	PlanPro     PlanKey = "pro"
	PlanElite   PlanKey = "elite"
)

// PlanKeyForTier maps a sold tier onto its feature table. Unknown tiers get the free table.
func PlanKeyForTier(t Tier) PlanKey {
	switch t {
	case TierPremium:
		return PlanPremium
	case TierUltimate:
		return PlanPro
	case TierElite:
		return PlanElite
	default:
		return PlanFree
	}
}

var planFeatures = map[PlanKey]FeatureSet{
	PlanFree: {
		FeatureAIChatMessages:             Quota(10),
		FeatureMaxMealPlansPerMonth:       Quota(3),
		FeatureMaxWorkoutPlansPerMonth:    Quota(2),
		FeatureProgressPhotos:             Quota(5),
		FeatureVideoConsultationsPerMonth: Quota(0),
		FeatureFoodLogging:                Bool(true),
		FeatureBarcodeScanner:             Bool(false),
		FeatureCustomMacros:               Bool(false),
		FeatureAIMealPlanner:              Bool(false),
		FeatureAIWorkoutGenerator:         Bool(false),
		FeatureAdvancedAnalytics:          Bool(false),
		FeatureWearableSync:               Bool(false),
		FeatureExportData:                 Bool(false),
		FeatureCustomChallenges:           Bool(false),
		FeaturePersonalCoach:              Bool(false),
		FeaturePrioritySupport:            Bool(false),
		FeatureHasAds:                     Bool(true),
	},
	PlanPremium: {
		FeatureAIChatMessages:             Quota(100),
		FeatureMaxMealPlansPerMonth:       Unlimited(),
		FeatureMaxWorkoutPlansPerMonth:    Quota(20),
		FeatureProgressPhotos:             Quota(50),
		FeatureVideoConsultationsPerMonth: Quota(0),
		FeatureFoodLogging:                Bool(true),
		FeatureBarcodeScanner:             Bool(true),
		FeatureCustomMacros:               Bool(true),
		FeatureAIMealPlanner:              Bool(true),
		FeatureAIWorkoutGenerator:         Bool(false),
		FeatureAdvancedAnalytics:          Bool(false),
		FeatureWearableSync:               Bool(true),
		FeatureExportData:                 Bool(true),
		FeatureCustomChallenges:           Bool(false),
		FeaturePersonalCoach:              Bool(false),
		FeaturePrioritySupport:            Bool(false),
		FeatureHasAds:                     Bool(false),
	},
	PlanPro: {
		FeatureAIChatMessages:             Unlimited(),
		FeatureMaxMealPlansPerMonth:       Unlimited(),
		FeatureMaxWorkoutPlansPerMonth:    Unlimited(),
		FeatureProgressPhotos:             Unlimited(),
		FeatureVideoConsultationsPerMonth: Quota(1),
		FeatureFoodLogging:                Bool(true),
		FeatureBarcodeScanner:             Bool(true),
		FeatureCustomMacros:               Bool(true),
		FeatureAIMealPlanner:              Bool(true),
		FeatureAIWorkoutGenerator:         Bool(true),
		FeatureAdvancedAnalytics:          Bool(true),
		FeatureWearableSync:               Bool(true),
		FeatureExportData:                 Bool(true),
		FeatureCustomChallenges:           Bool(true),
		FeaturePersonalCoach:              Bool(false),
		FeaturePrioritySupport:            Bool(true),
		FeatureHasAds:                     Bool(false),
	},
	PlanElite: {
		FeatureAIChatMessages:             Unlimited(),
		FeatureMaxMealPlansPerMonth:       Unlimited(),
		FeatureMaxWorkoutPlansPerMonth:    Unlimited(),
		FeatureProgressPhotos:             Unlimited(),
		FeatureVideoConsultationsPerMonth: Quota(4),
		FeatureFoodLogging:                Bool(true),
		FeatureBarcodeScanner:             Bool(true),
		FeatureCustomMacros:               Bool(true),
		FeatureAIMealPlanner:              Bool(true),
		FeatureAIWorkoutGenerator:         Bool(true),
		FeatureAdvancedAnalytics:          Bool(true),
		FeatureWearableSync:               Bool(true),
		FeatureExportData:                 Bool(true),
		FeatureCustomChallenges:           Bool(true),
		FeaturePersonalCoach:              Bool(true),
		FeaturePrioritySupport:            Bool(true),
		FeatureHasAds:                     Bool(false),
	},
}

// PlanFeatures returns a copy of the feature table for key.
func PlanFeatures(key PlanKey) FeatureSet {
	fs, ok := planFeatures[key]
	if !ok {
		fs = planFeatures[PlanFree]
	}
	return fs.Clone()
}

// PlanKeys lists the feature table rows.
func PlanKeys() []PlanKey {
	return []PlanKey{PlanFree, PlanPremium, PlanPro, PlanElite}
}
