package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
)

const jsonOnly = "Respond with JSON only: no markdown, no code fences, no surrounding prose."

var reuseTemplate = dedent.Dedent(`
	You are an expert sustainability assistant. Given the item after "Item:", analyze its likely materials, estimate per-material recyclability and durability, and then compute a single overall reuseScore that reflects the realistic potential for reuse.

	Return ONLY valid JSON with these fields:
	%s

	Base numeric estimates on real-world data for everyday consumer items. Common reference values:
	- Plastic bottle (500ml): ~0.025kg waste, ~0.08kg CO2, ~3L water
	- Cotton t-shirt: ~0.2kg waste, ~8kg CO2, ~2700L water
	- Smartphone: ~0.2kg waste, ~70kg CO2, ~13000L water
	- Glass jar: ~0.3kg waste, ~0.3kg CO2, ~4L water
	- Aluminum can: ~0.015kg waste, ~0.2kg CO2, ~5L water

	Item: %q
	%s`)

const imageNote = "An image of the item is attached. Identify the object from the image, set identifiedItem to a short label and use it as the primary input for the analysis."

var reuseDetailTemplate = dedent.Dedent(`
	You are an expert maker. Provide a concise, actionable tutorial for this reuse idea.

	Return ONLY valid JSON with these fields:
	%s

	Item: %q
	Idea: %q
	%s`)

var repairTemplate = dedent.Dedent(`
	You are a seasoned repair technician. Using judgement only (no formulas, no calculations shown), return STRICT valid JSON and nothing else.

	Fields:
	%s

	ProblemOrItem: %q
	%s`)

var communityTemplate = dedent.Dedent(`
	You are helping someone find ways to help their community and environment in %s.

	Provide 5 specific, actionable community opportunities. Even if you do not know %s specifically, generate plausible volunteer opportunities that typically exist in most communities.

	Return ONLY valid JSON with these fields:
	%s

	Location: %q
	%s`)

var reuseScoreTemplate = dedent.Dedent(`
	You are an expert sustainability assistant. Compute a single numeric reuseScore for the given item, using the Context JSON if present. If a materials array is present, weight each material's suggestedReuseScore by its confidence to form the overall score.

	Return ONLY valid JSON with these fields:
	%s

	Item: %q
	Context JSON: %s
	%s`)

// BuildPrompt derives the instruction and generation settings for a request.
// It performs no I/O.
func BuildPrompt(req Request, fc FeatureConfig) (PromptSpec, error) {
	schema, ok := SchemaFor(req.Kind)
	if !ok {
		return PromptSpec{}, fmt.Errorf("unknown feature %q", req.Kind)
	}
	subject := strings.TrimSpace(req.Subject)
	fields := schema.Describe()

	var instruction string
	switch req.Kind {
	case FeatureReuse:
		item := subject
		if item == "" && req.Image != nil {
			item = "image provided"
		}
		instruction = fmt.Sprintf(reuseTemplate, fields, item, jsonOnly)
		if req.Image != nil {
			instruction = imageNote + "\n" + instruction
		}
	case FeatureReuseDetail:
		instruction = fmt.Sprintf(reuseDetailTemplate, fields, subject, strings.TrimSpace(req.Idea), jsonOnly)
	case FeatureRepair:
		instruction = fmt.Sprintf(repairTemplate, fields, subject, jsonOnly)
	case FeatureCommunity:
		instruction = fmt.Sprintf(communityTemplate, subject, subject, fields, subject, jsonOnly)
	case FeatureReuseScore:
		ctxJSON := "{}"
		if len(req.Context) > 0 {
			if data, err := json.Marshal(req.Context); err == nil {
				ctxJSON = string(data)
			}
		}
		instruction = fmt.Sprintf(reuseScoreTemplate, fields, subject, ctxJSON, jsonOnly)
	}

	return PromptSpec{
		Kind:            req.Kind,
		Instruction:     strings.TrimSpace(instruction),
		Schema:          schema,
		Temperature:     fc.Temperature,
		MaxOutputTokens: fc.MaxOutputTokens,
		Image:           req.Image,
	}, nil
}
