package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// FieldType is the JSON type a field is coerced into.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Field declares one expected output field.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Min         *float64
	Max         *float64
	// Optional fields are left out when the model omits them; required
	// fields are filled with a clamped zero value instead.
	Optional bool
	// Essential item fields must be non-empty strings or the array
	// element is dropped.
	Essential bool

	// Items is the element type of an array; ItemFields describe
	// object elements.
	Items      FieldType
	ItemFields []Field
	// MinItems is a prompt hint only. MaxItems truncates. RequireItems
	// is the number of valid elements that must survive normalization.
	MinItems     int
	MaxItems     int
	RequireItems int

	// Fields describe a nested object.
	Fields []Field
}

// Schema is the per-feature description of the expected JSON reply.
type Schema struct {
	Kind   FeatureKind
	Fields []Field
}

func bound(v float64) *float64 { return &v }

func intField(name string, min, max float64, desc string) Field {
	return Field{Name: name, Type: TypeInteger, Min: bound(min), Max: bound(max), Description: desc}
}

func stringList(name string, minItems, maxItems int, desc string) Field {
	return Field{Name: name, Type: TypeArray, Items: TypeString, MinItems: minItems, MaxItems: maxItems, Description: desc}
}

func nonNegative(name, desc string) Field {
	return Field{Name: name, Type: TypeNumber, Min: bound(0), Description: desc}
}

var schemas = map[FeatureKind]Schema{
	FeatureReuse: {
		Kind: FeatureReuse,
		Fields: []Field{
			{Name: "identifiedItem", Type: TypeString, Optional: true, Description: "short label for the item"},
			{
				Name: "materials", Type: TypeArray, Items: TypeObject, Optional: true,
				Description: `primary materials, be specific (e.g. "plastic:PET", "aluminum", "glass")`,
				ItemFields: []Field{
					{Name: "material", Type: TypeString, Essential: true},
					{Name: "confidence", Type: TypeNumber, Min: bound(0), Max: bound(100), Optional: true},
					{Name: "recyclability", Type: TypeNumber, Min: bound(0), Max: bound(1), Optional: true},
					{Name: "suggestedReuseScore", Type: TypeNumber, Min: bound(0), Max: bound(100), Optional: true},
				},
			},
			intField("reuseScore", 0, 100, "holistic judgement of the realistic potential for reuse (higher = better)"),
			stringList("ideas", 3, 6, "concise, actionable reuse or upcycle ideas"),
			{
				Name: "impact", Type: TypeObject, Description: "realistic savings from reusing instead of disposing",
				Fields: []Field{
					nonNegative("CO2", "kg of CO2 emissions saved"),
					nonNegative("water", "liters of water saved"),
					nonNegative("waste", "kg of waste diverted from landfill"),
				},
			},
			{Name: "perItem", Type: TypeObject, Fields: []Field{nonNegative("wasteKg", "per-item mass in kg")}},
			{Name: "slider", Type: TypeObject, Fields: []Field{
				{Name: "maxRecycled", Type: TypeInteger, Min: bound(1), Max: bound(1_000_000), Description: "upper bound for the quantity slider"},
			}},
		},
	},
	FeatureReuseDetail: {
		Kind: FeatureReuseDetail,
		Fields: []Field{
			{Name: "summary", Type: TypeString, Description: "short sentence"},
			stringList("steps", 5, 8, "clear steps in plain text, no markdown"),
			stringList("materials", 0, 0, "materials needed"),
			stringList("tools", 0, 0, "tools needed"),
			stringList("cautions", 1, 3, "short safety notes"),
		},
	},
	FeatureRepair: {
		Kind: FeatureRepair,
		Fields: []Field{
			{Name: "identifiedItem", Type: TypeString, Description: "concise item name"},
			{Name: "likelyIssue", Type: TypeString, Description: "concise diagnosis"},
			{Name: "repairScore", Type: TypeInteger, Min: bound(0), Max: bound(100), Optional: true,
				Description: "overall confidence the item can be fixed safely and effectively"},
			stringList("steps", 3, 6, "short, imperative repair steps that are safe to try first"),
			stringList("requiredTools", 0, 0, "tools needed"),
			stringList("replacementParts", 0, 0, "parts to buy, empty if none"),
			stringList("safetyNotes", 1, 3, "short warnings"),
			{Name: "estimatedTimeMinutes", Type: TypeInteger, Min: bound(1), Max: bound(240), Optional: true,
				Description: "expected duration"},
			{Name: "difficulty", Type: TypeInteger, Min: bound(1), Max: bound(5), Optional: true,
				Description: "1 is easiest"},
		},
	},
	FeatureCommunity: {
		Kind: FeatureCommunity,
		Fields: []Field{
			{
				Name: "opportunities", Type: TypeArray, Items: TypeObject, MinItems: 5, MaxItems: 8, RequireItems: 1,
				Description: "specific, actionable community opportunities",
				ItemFields: []Field{
					{Name: "name", Type: TypeString, Essential: true, Description: `clear name (e.g. "City Park Cleanup")`},
					{Name: "type", Type: TypeString, Description: `category (e.g. "Environmental", "Community Garden", "Food Bank", "Recycling Center", "Repair Cafe")`},
					{Name: "description", Type: TypeString, Essential: true, Description: "what they would do, 1-2 sentences"},
					{Name: "location", Type: TypeString, Description: "specific location or type of venue"},
					{Name: "commitment", Type: TypeString, Description: `time commitment (e.g. "2 hours/week", "One-time event")`},
					{Name: "impact", Type: TypeString, Description: "environmental or community impact, 1 sentence"},
				},
			},
		},
	},
	FeatureReuseScore: {
		Kind:   FeatureReuseScore,
		Fields: []Field{intField("reuseScore", 0, 100, "overall reuse score")},
	},
}

// SchemaFor returns the declared schema of a feature.
func SchemaFor(kind FeatureKind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}

// Describe renders the schema as prompt lines.
func (s Schema) Describe() string {
	var b strings.Builder
	for _, f := range s.Fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(describeField(f))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func describeField(f Field) string {
	var out string
	switch f.Type {
	case TypeArray:
		out = "array of " + itemCount(f)
		if f.Items == TypeObject {
			out += "objects {" + describeFields(f.ItemFields) + "}"
		} else {
			out += "strings"
		}
	case TypeObject:
		out = "object {" + describeFields(f.Fields) + "}"
	default:
		out = string(f.Type)
		if r := describeRange(f); r != "" {
			out += " " + r
		}
	}
	if f.Optional {
		out += ", optional"
	}
	if f.Description != "" {
		out += ", " + f.Description
	}
	return out
}

func describeFields(fields []Field) string {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		desc := string(f.Type)
		if r := describeRange(f); r != "" {
			desc += " " + r
		}
		if f.Description != "" {
			desc += ", " + f.Description
		}
		parts = append(parts, f.Name+": "+desc)
	}
	return strings.Join(parts, "; ")
}

func itemCount(f Field) string {
	switch {
	case f.MinItems > 0 && f.MaxItems > 0 && f.MinItems == f.MaxItems:
		return fmt.Sprintf("exactly %d ", f.MinItems)
	case f.MinItems > 0 && f.MaxItems > 0:
		return fmt.Sprintf("%d-%d ", f.MinItems, f.MaxItems)
	case f.MinItems > 0:
		return fmt.Sprintf("at least %d ", f.MinItems)
	case f.MaxItems > 0:
		return fmt.Sprintf("up to %d ", f.MaxItems)
	}
	return ""
}

func describeRange(f Field) string {
	switch {
	case f.Min != nil && f.Max != nil:
		return formatBound(*f.Min) + "-" + formatBound(*f.Max)
	case f.Min != nil:
		return ">= " + formatBound(*f.Min)
	case f.Max != nil:
		return "<= " + formatBound(*f.Max)
	}
	return ""
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// JSONSchema renders a JSON Schema document for the normalized result.
func (s Schema) JSONSchema() map[string]any {
	doc := objectSchema(s.Fields)
	doc["$schema"] = "http://json-schema.org/draft-07/schema#"
	doc["title"] = string(s.Kind)
	return doc
}

func objectSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.Name] = fieldSchema(f)
		if !f.Optional {
			required = append(required, f.Name)
		}
	}
	doc := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func fieldSchema(f Field) map[string]any {
	switch f.Type {
	case TypeObject:
		return objectSchema(f.Fields)
	case TypeArray:
		doc := map[string]any{"type": "array"}
		if f.Items == TypeObject {
			doc["items"] = objectSchema(f.ItemFields)
		} else {
			doc["items"] = map[string]any{"type": "string"}
		}
		if f.MaxItems > 0 {
			doc["maxItems"] = f.MaxItems
		}
		if f.RequireItems > 0 {
			doc["minItems"] = f.RequireItems
		}
		return doc
	default:
		doc := map[string]any{"type": string(f.Type)}
		if f.Min != nil {
			doc["minimum"] = *f.Min
		}
		if f.Max != nil {
			doc["maximum"] = *f.Max
		}
		return doc
	}
}

// Validate checks a result against the rendered JSON Schema.
func (s Schema) Validate(result Result) error {
	schemaLoader := gojsonschema.NewGoLoader(s.JSONSchema())
	documentLoader := gojsonschema.NewGoLoader(map[string]any(result))

	res, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !res.Valid() {
		errs := make([]string, len(res.Errors()))
		for i, desc := range res.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("%s result violates schema: %s", s.Kind, strings.Join(errs, "; "))
	}
	return nil
}
