package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPromptReuse(t *testing.T) {
	spec, err := BuildPrompt(Request{Kind: FeatureReuse, Subject: "  plastic bottle "}, DefaultFeatures()[FeatureReuse])
	require.NoError(t, err)

	require.Equal(t, FeatureReuse, spec.Kind)
	require.Contains(t, spec.Instruction, `Item: "plastic bottle"`)
	require.Contains(t, spec.Instruction, "- reuseScore: integer 0-100")
	require.Contains(t, spec.Instruction, "- ideas: array of 3-6 strings")
	require.Contains(t, spec.Instruction, jsonOnly)
	require.NotContains(t, spec.Instruction, imageNote)
	require.InDelta(t, 0.2, spec.Temperature, 1e-6)
	require.EqualValues(t, 1200, spec.MaxOutputTokens)
	require.Nil(t, spec.Image)
}

func TestBuildPromptReuseImageOnly(t *testing.T) {
	img := &Image{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	spec, err := BuildPrompt(Request{Kind: FeatureReuse, Image: img}, FeatureConfig{})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(spec.Instruction, imageNote))
	require.Contains(t, spec.Instruction, `Item: "image provided"`)
	require.Same(t, img, spec.Image)
}

func TestBuildPromptFeatures(t *testing.T) {
	cases := []struct {
		req      Request
		contains []string
	}{
		{
			req:      Request{Kind: FeatureReuseDetail, Subject: "glass jar", Idea: "herb planter"},
			contains: []string{`Item: "glass jar"`, `Idea: "herb planter"`, "- steps: array of 5-8 strings", "- cautions: array of 1-3 strings"},
		},
		{
			req:      Request{Kind: FeatureRepair, Subject: "squeaky door hinge"},
			contains: []string{`ProblemOrItem: "squeaky door hinge"`, "- difficulty: integer 1-5, optional", "- estimatedTimeMinutes: integer 1-240"},
		},
		{
			req:      Request{Kind: FeatureCommunity, Subject: "Austin, TX"},
			contains: []string{"environment in Austin, TX.", `Location: "Austin, TX"`, "- opportunities: array of 5-8 objects {name: string"},
		},
		{
			req:      Request{Kind: FeatureReuseScore, Subject: "mug", Context: map[string]any{"ideas": []string{"pen holder"}}},
			contains: []string{`Item: "mug"`, `Context JSON: {"ideas":["pen holder"]}`},
		},
	}
	for _, tc := range cases {
		spec, err := BuildPrompt(tc.req, DefaultFeatures()[tc.req.Kind])
		require.NoError(t, err)
		for _, want := range tc.contains {
			require.Contains(t, spec.Instruction, want, tc.req.Kind)
		}
		require.Contains(t, spec.Instruction, jsonOnly)
	}
}

func TestBuildPromptUnknownFeature(t *testing.T) {
	_, err := BuildPrompt(Request{Kind: "poetry", Subject: "x"}, FeatureConfig{})
	require.Error(t, err)
}

func TestBuildPromptIsPure(t *testing.T) {
	req := Request{Kind: FeatureRepair, Subject: "wobbly chair"}
	a, err := BuildPrompt(req, DefaultFeatures()[FeatureRepair])
	require.NoError(t, err)
	b, err := BuildPrompt(req, DefaultFeatures()[FeatureRepair])
	require.NoError(t, err)
	require.Equal(t, a, b)
}
