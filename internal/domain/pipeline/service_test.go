package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/yanqian/ecoloop/pkg/errors"
)

func TestGenerateWithoutCredential(t *testing.T) {
	client := &stubClient{}
	svc := newTestService(client, nil)

	_, err := svc.Generate(context.Background(), Request{Kind: FeatureRepair, Subject: "squeaky door hinge"})
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeModelUnavailable))
	require.ErrorIs(t, err, ErrMissingCredential)

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureReuse, Subject: "plastic bottle"})
	require.NoError(t, err)
	require.Equal(t, ProvenanceHeuristic, resp.Provenance)
	require.Len(t, resp.Result["ideas"], 3)
	require.Empty(t, client.specs())
}

func TestGenerateRepairFromModel(t *testing.T) {
	client := &stubClient{
		configured: true,
		replies: []stubReply{{reply: okReply("```json\n" + `{"identifiedItem":"door hinge","likelyIssue":"dry pivot","repairScore":130,"steps":["oil it"],"safetyNotes":["support the door"],"difficulty":1}` + "\n```")}},
	}
	svc := newTestService(client, nil)

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureRepair, Subject: "squeaky door hinge"})
	require.NoError(t, err)
	require.Equal(t, ProvenanceModel, resp.Provenance)
	require.Equal(t, 100, resp.Result["repairScore"])
	require.Equal(t, []string{"oil it"}, resp.Result["steps"])
	require.Contains(t, resp.Diagnostics.Clamped, "repairScore")

	specs := client.specs()
	require.Len(t, specs, 1)
	require.Equal(t, FeatureRepair, specs[0].Kind)
	require.Zero(t, specs[0].Temperature)
}

func TestGenerateRepairParseFailure(t *testing.T) {
	raw := "I am unable to help with that."
	client := &stubClient{configured: true, replies: []stubReply{{reply: okReply(raw)}}}
	svc := newTestService(client, nil)

	_, err := svc.Generate(context.Background(), Request{Kind: FeatureRepair, Subject: "toaster"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeParse))
	require.ErrorIs(t, err, ErrParse)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageNormalize, stageErr.Stage)
	require.Equal(t, raw, stageErr.Excerpt)
}

func TestGenerateDetailUpstreamFailure(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{
		reply: ModelReply{HTTPStatus: 500, RawText: `{"error":{"message":"boom"}}`},
		err:   fmt.Errorf("%w: status 500", ErrUpstream),
	}}}
	svc := newTestService(client, nil)

	_, err := svc.Generate(context.Background(), Request{Kind: FeatureReuseDetail, Subject: "jar", Idea: "lamp"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeUpstream))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, StageModel, stageErr.Stage)
	require.Equal(t, 500, stageErr.HTTPStatus)
}

func TestGenerateCommunityRateLimited(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{
		reply: ModelReply{HTTPStatus: 429, RetryCount: 2},
		err:   fmt.Errorf("%w: status 429", ErrUpstream),
	}}}
	svc := newTestService(client, nil)

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureCommunity, Subject: "Oslo"})
	require.NoError(t, err)
	require.Equal(t, ProvenanceHeuristic, resp.Provenance)
	require.Len(t, resp.Result["opportunities"], 5)
}

func TestGenerateCommunityOtherFailure(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{
		reply: ModelReply{HTTPStatus: 400},
		err:   fmt.Errorf("%w: status 400", ErrUpstream),
	}}}
	svc := newTestService(client, nil)

	_, err := svc.Generate(context.Background(), Request{Kind: FeatureCommunity, Subject: "Oslo"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInternal))
}

func TestGenerateReuseFallsBackOnNetworkError(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{err: fmt.Errorf("%w: connection reset", ErrNetwork)}}}
	svc := newTestService(client, nil)

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureReuse, Subject: "glass jar"})
	require.NoError(t, err)
	require.Equal(t, ProvenanceHeuristic, resp.Provenance)
	require.Equal(t, 78, resp.Result["reuseScore"])
}

func TestGenerateReuseRescoresMissingScore(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{
		{reply: okReply(`{"ideas":["pen holder","planter","lamp"],"impact":{"CO2":0.3,"water":4,"waste":0.3}}`)},
		{reply: okReply(`{"reuseScore": 64}`)},
	}}
	svc := newTestService(client, nil)

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureReuse, Subject: "glass jar"})
	require.NoError(t, err)
	require.Equal(t, 64, resp.Result["reuseScore"])
	require.Equal(t, "glass jar", resp.Result["identifiedItem"])

	specs := client.specs()
	require.Len(t, specs, 2)
	require.Equal(t, FeatureReuseScore, specs[1].Kind)
	require.Zero(t, specs[1].Temperature)
	require.Contains(t, specs[1].Instruction, "pen holder")
	require.NotContains(t, specs[1].Instruction, `"reuseScore":0`)
}

func TestGenerateReuseScoreFromProfileWhenRescoreFails(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{
		{reply: okReply(`{"identifiedItem":"PET bottle","ideas":["bird feeder"]}`)},
		{reply: okReply(`not json`)},
	}}
	svc := newTestService(client, nil)

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureReuse, Subject: "plastic bottle"})
	require.NoError(t, err)
	require.Equal(t, ProvenanceModel, resp.Provenance)
	require.Equal(t, 72, resp.Result["reuseScore"])
	require.Equal(t, "PET bottle", resp.Result["identifiedItem"])
}

func TestGenerateUsesResultCache(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{reply: okReply(`{"summary":"s","steps":["a"],"cautions":["c"]}`)}}}
	cache := newMapCache()
	svc := newTestService(client, cache)
	req := Request{Kind: FeatureReuseDetail, Subject: "Glass Jar", Idea: "lamp"}

	first, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Cached)

	req.Subject = "glass jar "
	second, err := svc.Generate(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, ProvenanceModel, second.Provenance)
	require.Equal(t, first.Result, second.Result)
	require.Len(t, client.specs(), 1)
}

func TestGenerateStoresSharedResult(t *testing.T) {
	client := newGateClient(`{"summary":"s","steps":["a"],"cautions":["c"]}`)
	cache := newMapCache()
	svc := newTestService(client, cache)
	req := Request{Kind: FeatureReuseDetail, Subject: "glass jar", Idea: "lamp"}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Generate(context.Background(), req)
		}(i)
	}
	<-client.started
	time.Sleep(50 * time.Millisecond)
	close(client.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, 1, client.callCount())
	require.Len(t, cache.items, 1)
}

func TestGenerateSharedCallSurvivesFirstCallerLeaving(t *testing.T) {
	client := newGateClient(`{"identifiedItem":"lamp","likelyIssue":"bulb","steps":["swap bulb"],"safetyNotes":["unplug"]}`)
	cache := newMapCache()
	svc := newTestService(client, cache)
	req := Request{Kind: FeatureRepair, Subject: "flickering lamp"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Generate(firstCtx, req)
		firstErr <- err
	}()
	<-client.started

	type outcome struct {
		resp Response
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		resp, err := svc.Generate(context.Background(), req)
		second <- outcome{resp, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	err := <-firstErr
	require.Error(t, err)
	require.True(t, apperrors.IsCode(err, apperrors.CodeUpstream))

	close(client.release)
	got := <-second
	require.NoError(t, got.err)
	require.Equal(t, ProvenanceModel, got.resp.Provenance)
	require.Equal(t, "lamp", got.resp.Result["identifiedItem"])
	require.Equal(t, 1, client.callCount())
	require.Len(t, cache.items, 1)
}

func TestGenerateSkipsCacheForImages(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{reply: okReply(`{"reuseScore":50,"ideas":["a"]}`)}}}
	cache := newMapCache()
	svc := newTestService(client, cache)
	req := Request{Kind: FeatureReuse, Image: &Image{MIMEType: "image/jpeg", Data: []byte{1}}}

	for i := 0; i < 2; i++ {
		_, err := svc.Generate(context.Background(), req)
		require.NoError(t, err)
	}
	require.Len(t, client.specs(), 2)
	require.Empty(t, cache.items)
}

func TestGenerateRejectsUnknownFeature(t *testing.T) {
	svc := newTestService(&stubClient{configured: true}, nil)
	_, err := svc.Generate(context.Background(), Request{Kind: "poetry", Subject: "x"})
	require.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestGenerateHonorsFallbackOverride(t *testing.T) {
	client := &stubClient{configured: true, replies: []stubReply{{err: fmt.Errorf("%w: timeout", ErrNetwork)}}}
	features := DefaultFeatures()
	features[FeatureRepair] = FeatureConfig{Fallback: FallbackAlways}
	svc := NewService(Config{Features: features}, client, nil, discardLogger())

	resp, err := svc.Generate(context.Background(), Request{Kind: FeatureRepair, Subject: "lamp"})
	require.NoError(t, err)
	require.Equal(t, ProvenanceHeuristic, resp.Provenance)
	require.NoError(t, mustSchema(t, FeatureRepair).Validate(resp.Result))
}

type stubReply struct {
	reply ModelReply
	err   error
}

type stubClient struct {
	configured bool
	replies    []stubReply

	mu    sync.Mutex
	calls []PromptSpec
}

func (s *stubClient) Configured() bool { return s.configured }

func (s *stubClient) Generate(_ context.Context, spec PromptSpec) (ModelReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spec)
	if len(s.replies) == 0 {
		return ModelReply{}, errors.New("no stubbed reply")
	}
	idx := len(s.calls) - 1
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	r := s.replies[idx]
	return r.reply, r.err
}

func (s *stubClient) specs() []PromptSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PromptSpec(nil), s.calls...)
}

// gateClient blocks every call until release is closed.
type gateClient struct {
	reply   string
	started chan struct{}
	release chan struct{}

	once  sync.Once
	mu    sync.Mutex
	calls int
}

func newGateClient(reply string) *gateClient {
	return &gateClient{reply: reply, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateClient) Configured() bool { return true }

func (g *gateClient) Generate(ctx context.Context, _ PromptSpec) (ModelReply, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.once.Do(func() { close(g.started) })

	select {
	case <-g.release:
		return okReply(g.reply), nil
	case <-ctx.Done():
		return ModelReply{}, fmt.Errorf("%w: %w", ErrNetwork, ctx.Err())
	}
}

func (g *gateClient) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]Result
}

func newMapCache() *mapCache {
	return &mapCache{items: map[string]Result{}}
}

func (m *mapCache) Get(_ context.Context, key string) (Result, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[key]
	return r, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, result Result, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = result
	return nil
}

func okReply(text string) ModelReply {
	return ModelReply{RawText: text, Succeeded: true, HTTPStatus: 200}
}

func newTestService(client ModelClient, cache ResultCache) Service {
	cfg := Config{Features: DefaultFeatures(), Deadline: time.Second, CacheTTL: time.Hour}
	return NewService(cfg, client, cache, discardLogger())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
