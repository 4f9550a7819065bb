package pipeline

import (
	"fmt"
	"math"
	"strings"
)

// Profile is a keyword-selected material heuristic. The numbers are rough
// declared estimates, not measurements.
type Profile struct {
	Material   string
	Keys       []string
	MassKg     float64
	BaseScore  int
	CO2PerKg   float64
	WaterPerKg float64
	Reach      int
	Recyclable float64
	Durability int
}

// profiles are scanned in order; the first keyword hit wins. The bare
// "bottle" key sits ahead of the glass entry, so "glass bottle" resolves
// to PET while "glass jar" resolves to glass.
var profiles = []Profile{
	{Material: "plastic:PET", Keys: []string{"plastic bottle", "bottle", "pet bottle"}, MassKg: 0.02, BaseScore: 72, CO2PerKg: 2.5, WaterPerKg: 50, Reach: 500000, Recyclable: 0.8, Durability: 5},
	{Material: "plastic:HDPE", Keys: []string{"hdpe", "milk jug", "detergent bottle"}, MassKg: 0.03, BaseScore: 70, CO2PerKg: 2.2, WaterPerKg: 40, Reach: 300000, Recyclable: 0.85, Durability: 6},
	{Material: "plastic:LDPE", Keys: []string{"plastic bag", "bag", "polybag"}, MassKg: 0.005, BaseScore: 45, CO2PerKg: 2.5, WaterPerKg: 20, Reach: 400000, Recyclable: 0.4, Durability: 2},
	{Material: "glass", Keys: []string{"glass bottle", "glass jar"}, MassKg: 0.25, BaseScore: 78, CO2PerKg: 0.9, WaterPerKg: 10, Reach: 100000, Recyclable: 0.95, Durability: 8},
	{Material: "aluminum", Keys: []string{"aluminum can", "can"}, MassKg: 0.015, BaseScore: 80, CO2PerKg: 9.0, WaterPerKg: 5, Reach: 600000, Recyclable: 0.98, Durability: 7},
	{Material: "steel", Keys: []string{"steel", "tin"}, MassKg: 0.2, BaseScore: 75, CO2PerKg: 2.0, WaterPerKg: 20, Reach: 200000, Recyclable: 0.95, Durability: 9},
	{Material: "paper", Keys: []string{"cardboard", "box"}, MassKg: 0.3, BaseScore: 70, CO2PerKg: 1.0, WaterPerKg: 20, Reach: 200000, Recyclable: 0.9, Durability: 4},
	{Material: "textile", Keys: []string{"t-shirt", "shirt", "clothing", "fabric"}, MassKg: 0.2, BaseScore: 82, CO2PerKg: 2.0, WaterPerKg: 2700, Reach: 120000, Recyclable: 0.6, Durability: 6},
	{Material: "electronic", Keys: []string{"phone", "smartphone", "electronics", "laptop", "tablet"}, MassKg: 0.18, BaseScore: 50, CO2PerKg: 70, WaterPerKg: 1000, Reach: 50000, Recyclable: 0.2, Durability: 5},
	{Material: "wood", Keys: []string{"wood", "cutting board", "furniture"}, MassKg: 2.0, BaseScore: 88, CO2PerKg: 0.4, WaterPerKg: 500, Reach: 40000, Recyclable: 0.9, Durability: 9},
	{Material: "ceramic", Keys: []string{"ceramic", "mug", "plate"}, MassKg: 0.5, BaseScore: 66, CO2PerKg: 1.5, WaterPerKg: 100, Reach: 30000, Recyclable: 0.1, Durability: 8},
}

var (
	disposableWords = []string{"single-use", "disposable", "throwaway"}
	qualityWords    = []string{"vintage", "antique", "handmade"}
)

// DetectProfile picks the first profile whose keyword occurs in subject,
// or a generic profile whose mass grows with the subject length.
func DetectProfile(subject string) Profile {
	text := strings.ToLower(subject)
	for _, p := range profiles {
		for _, key := range p.Keys {
			if strings.Contains(text, key) {
				return p
			}
		}
	}
	length := len([]rune(text))
	if length == 0 {
		length = 10
	}
	mass := math.Max(0.01, math.Min(5, float64(length)*0.02))
	return Profile{Material: "generic", MassKg: mass, BaseScore: 55, CO2PerKg: 2.5, WaterPerKg: 50, Reach: 100000, Recyclable: 0.6, Durability: 5}
}

// HeuristicScore adjusts the profile base score with keyword boosts and
// penalties and clamps it to [0,100].
func HeuristicScore(subject string, p Profile) int {
	text := strings.ToLower(subject)
	score := p.BaseScore
	if containsAny(text, disposableWords) {
		penalty := 20
		if strings.HasPrefix(p.Material, "plastic") {
			penalty /= 2
		}
		score -= penalty
	}
	if containsAny(text, qualityWords) {
		score += 12
	}
	if len([]rune(subject)) > 20 {
		score += 6
	}
	return min(100, max(0, score))
}

// Fallback builds a schema-valid result for kind without any network
// access. The same input always yields the same output.
func Fallback(req Request) Result {
	subject := strings.TrimSpace(req.Subject)
	switch req.Kind {
	case FeatureReuseDetail:
		return reuseDetailFallback(subject, strings.TrimSpace(req.Idea))
	case FeatureRepair:
		return repairFallback(subject)
	case FeatureCommunity:
		return communityFallback(subject)
	case FeatureReuseScore:
		return Result{"reuseScore": HeuristicScore(subject, DetectProfile(subject))}
	default:
		return reuseFallback(subject)
	}
}

func reuseFallback(item string) Result {
	p := DetectProfile(item)
	waste := roundTo(p.MassKg, 3)
	co2 := roundTo(waste*p.CO2PerKg, 2)
	water := math.Round(waste * p.WaterPerKg)

	label := item
	if label == "" {
		label = "item"
	}
	return Result{
		"identifiedItem": label,
		"reuseScore":     HeuristicScore(item, p),
		"ideas": []string{
			fmt.Sprintf("Repurpose %s as a planter or small storage", label),
			fmt.Sprintf("Upcycle %s into a home craft or donation item", label),
			fmt.Sprintf("Share %s locally through community reuse groups", label),
		},
		"impact":  map[string]any{"CO2": co2, "water": water, "waste": waste},
		"perItem": map[string]any{"wasteKg": waste},
		"slider":  map[string]any{"maxRecycled": max(100, p.Reach)},
	}
}

func reuseDetailFallback(item, idea string) Result {
	if item == "" {
		item = "the item"
	}
	if idea == "" {
		idea = "a reuse project"
	}
	return Result{
		"summary": fmt.Sprintf("Turn %s into %s with basic household tools.", item, idea),
		"steps": []string{
			fmt.Sprintf("Clean %s thoroughly and let it dry", item),
			"Remove labels, adhesive and any loose parts",
			"Measure and mark where to cut or join",
			"Cut or shape the pieces slowly, checking the fit as you go",
			"Assemble the parts and secure them",
			"Finish the edges and test the result before regular use",
		},
		"materials": []string{item},
		"tools":     []string{"scissors or utility knife", "ruler", "marker"},
		"cautions":  []string{"Cut away from your body and keep blades out of reach of children"},
	}
}

func repairFallback(description string) Result {
	item := description
	if item == "" {
		item = "item"
	}
	return Result{
		"identifiedItem": item,
		"likelyIssue":    "Unable to diagnose automatically; inspect the item for wear, loose parts or damage.",
		"repairScore":    50,
		"steps": []string{
			"Disconnect power or remove batteries if the item has any",
			"Inspect the item for loose, worn or broken parts",
			"Clean contact points and moving parts",
			"Tighten or replace the obviously faulty part",
		},
		"requiredTools":        []string{"screwdriver set", "cleaning cloth"},
		"replacementParts":     []string{},
		"safetyNotes":          []string{"Stop and consult a professional if the repair involves mains electricity or gas"},
		"estimatedTimeMinutes": 30,
		"difficulty":           2,
	}
}

func communityFallback(location string) Result {
	if location == "" {
		location = "your area"
	}
	return Result{
		"opportunities": []map[string]any{
			{
				"name":        "Local Park Cleanup",
				"type":        "Environmental",
				"description": "Join community volunteers to clean up litter and maintain green spaces in local parks.",
				"location":    "Parks and recreational areas in " + location,
				"commitment":  "2-3 hours, weekly or monthly events",
				"impact":      "Removes waste from ecosystems, improves community spaces, and prevents pollution.",
			},
			{
				"name":        "Community Garden Project",
				"type":        "Community Garden",
				"description": "Help grow fresh produce for local food banks while learning sustainable gardening practices.",
				"location":    "Community gardens or urban farms near " + location,
				"commitment":  "2-4 hours per week",
				"impact":      "Provides fresh food to those in need and reduces carbon footprint from food transport.",
			},
			{
				"name":        "Repair Café",
				"type":        "Repair Cafe",
				"description": "Bring broken items or help others fix electronics, clothing, and household items to reduce waste.",
				"location":    "Libraries, community centers, or makerspaces in " + location,
				"commitment":  "One-time or monthly, 2-3 hours",
				"impact":      "Diverts items from landfills and teaches valuable repair skills to the community.",
			},
			{
				"name":        "Food Bank Volunteer",
				"type":        "Food Bank",
				"description": "Sort donations, pack food boxes, or help distribute meals to families in need.",
				"location":    "Food banks and pantries serving " + location,
				"commitment":  "Flexible, 2-4 hours per shift",
				"impact":      "Helps feed families while reducing food waste from surplus donations.",
			},
			{
				"name":        "Tree Planting Initiative",
				"type":        "Environmental",
				"description": "Participate in urban forestry projects to plant trees and restore natural habitats.",
				"location":    "Urban areas and restoration sites around " + location,
				"commitment":  "Seasonal events, 3-4 hours",
				"impact":      "Each tree absorbs ~22kg of CO₂ per year and provides habitat for wildlife.",
			},
		},
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
