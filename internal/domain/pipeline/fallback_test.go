package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectProfile(t *testing.T) {
	cases := []struct {
		subject  string
		material string
	}{
		{"Plastic Bottle", "plastic:PET"},
		{"old milk jug", "plastic:HDPE"},
		{"grocery bag", "plastic:LDPE"},
		{"glass jar", "glass"},
		{"soda can", "aluminum"},
		{"steel pan", "steel"},
		{"cardboard box", "paper"},
		{"cotton t-shirt", "textile"},
		{"broken smartphone", "electronic"},
		{"wooden spoon", "wood"},
		// plain substring match: "cutting" contains "tin"
		{"oak cutting board", "steel"},
		// first match wins: "bottle" is listed before "glass bottle"
		{"glass bottle", "plastic:PET"},
		{"chipped mug", "ceramic"},
		{"umbrella", "generic"},
		{"", "generic"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.material, DetectProfile(tc.subject).Material, tc.subject)
	}
}

func TestDetectProfileGenericMass(t *testing.T) {
	require.InDelta(t, 0.2, DetectProfile("").MassKg, 1e-9)
	require.InDelta(t, 0.16, DetectProfile("umbrella").MassKg, 1e-9)
	require.InDelta(t, 5.0, DetectProfile(strings.Repeat("x", 1000)).MassKg, 1e-9)
}

func TestHeuristicScore(t *testing.T) {
	cases := []struct {
		subject string
		score   int
	}{
		{"plastic bottle", 72},
		{"single-use plastic bag", 41},
		{"disposable mug", 46},
		{"vintage oak furniture", 100},
		{"handmade mug", 78},
	}
	for _, tc := range cases {
		require.Equal(t, tc.score, HeuristicScore(tc.subject, DetectProfile(tc.subject)), tc.subject)
	}
}

func TestFallbackReusePlasticBottle(t *testing.T) {
	result := Fallback(Request{Kind: FeatureReuse, Subject: "plastic bottle"})

	require.Equal(t, 72, result["reuseScore"])
	ideas, ok := result["ideas"].([]string)
	require.True(t, ok)
	require.Len(t, ideas, 3)
	require.Equal(t, "Repurpose plastic bottle as a planter or small storage", ideas[0])
	require.Equal(t, map[string]any{"CO2": 0.05, "water": float64(1), "waste": 0.02}, result["impact"])
	require.Equal(t, map[string]any{"wasteKg": 0.02}, result["perItem"])
	require.Equal(t, map[string]any{"maxRecycled": 500000}, result["slider"])
}

func TestFallbackEmptySubject(t *testing.T) {
	result := Fallback(Request{Kind: FeatureReuse})
	require.Equal(t, 55, result["reuseScore"])
	require.Equal(t, "Share item locally through community reuse groups", result["ideas"].([]string)[2])
}

func TestFallbackCommunityInterpolatesLocation(t *testing.T) {
	result := Fallback(Request{Kind: FeatureCommunity, Subject: "Lisbon"})
	opps := result["opportunities"].([]map[string]any)
	require.Len(t, opps, 5)
	require.Equal(t, "Parks and recreational areas in Lisbon", opps[0]["location"])
	require.Equal(t, "Tree Planting Initiative", opps[4]["name"])
}

func TestFallbackIsDeterministic(t *testing.T) {
	for _, kind := range []FeatureKind{FeatureReuse, FeatureReuseDetail, FeatureRepair, FeatureCommunity, FeatureReuseScore} {
		req := Request{Kind: kind, Subject: "vintage glass jar", Idea: "candle holder"}
		require.Equal(t, Fallback(req), Fallback(req), kind)
	}
}

func TestFallbackConformsToSchema(t *testing.T) {
	subjects := []string{
		"",
		"plastic bottle",
		"single-use disposable throwaway plastic bag",
		"antique handmade ceramic plate",
		"laptop",
		"   ",
		"🍾 champagne bottle",
		strings.Repeat("very long description ", 40),
	}
	for _, kind := range []FeatureKind{FeatureReuse, FeatureReuseDetail, FeatureRepair, FeatureCommunity, FeatureReuseScore} {
		schema := mustSchema(t, kind)
		for _, subject := range subjects {
			result := Fallback(Request{Kind: kind, Subject: subject})
			require.NoError(t, schema.Validate(result), "%s %q", kind, subject)

			if kind == FeatureReuse {
				score := result["reuseScore"].(int)
				require.GreaterOrEqual(t, score, 0)
				require.LessOrEqual(t, score, 100)
			}
		}
	}
}
