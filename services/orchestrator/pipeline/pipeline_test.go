// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianCounsel/services/llm"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCounsel/services/orchestrator/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// =============================================================================
// Fakes
// =============================================================================

type chatCall struct {
	Messages []llm.Message
	Params   llm.GenerationParams
}

// fakeLLM answers Chat through a handler and records every call.
type fakeLLM struct {
	mu      sync.Mutex
	calls   []chatCall
	handler func(messages []llm.Message) (string, error)
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, params)
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, chatCall{Messages: messages, Params: params})
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.handler(messages)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func replyWith(s string) func([]llm.Message) (string, error) {
	return func([]llm.Message) (string, error) { return s, nil }
}

type fakeRetriever struct {
	mu        sync.Mutex
	ensureErr error
	results   map[string][]datatypes.LawResult
	failFor   map[string]bool
	queries   []string
}

func (f *fakeRetriever) EnsureIndex(_ context.Context, country string) error {
	if country == "" {
		return &ConfigurationError{Reason: "no jurisdiction"}
	}
	return f.ensureErr
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, query string, _ int) ([]datatypes.LawResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()
	if f.failFor[query] {
		return nil, errors.New("index unavailable")
	}
	return f.results[query], nil
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := DefaultCatalog()
	require.NoError(t, err)
	return c
}

func testMetrics() *observability.DialogueMetrics {
	return observability.NewDialogueMetrics(prometheus.NewRegistry())
}

func strPtr(s string) *string { return &s }

// =============================================================================
// Catalog
// =============================================================================

func TestDefaultCatalog(t *testing.T) {
	c := testCatalog(t)

	names := c.Names()
	assert.Len(t, names, 12)
	assert.NotContains(t, names, datatypes.GeneralDomain)
	assert.True(t, c.Known("employment_law"))
	assert.True(t, c.Known(datatypes.GeneralDomain))
	assert.False(t, c.Known("tax_law"))

	spec, ok := c.Lookup("employment_law")
	assert.True(t, ok)
	assert.Equal(t, "Employment Law", spec.Title)

	general, _ := c.Lookup(datatypes.GeneralDomain)
	assert.Equal(t, "General Legal Matters", general.Title)

	unknown, ok := c.Lookup("maritime_law")
	assert.False(t, ok)
	assert.Equal(t, "Maritime Law", unknown.Title)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	_, err := LoadCatalog([]byte("domains: [::"))
	assert.Error(t, err)

	_, err = LoadCatalog([]byte("domains:\n  - name: civil_law\n"))
	assert.Error(t, err, "prompts are required")
}

func TestLoadCatalog_AddsGeneral(t *testing.T) {
	doc := `
classifier_prompt: c
extraction_prompt: e
formatter_prompt: f
reasoner_system_prompt: s
reasoner_prompt: r
domains:
  - name: civil_law
`
	c, err := LoadCatalog([]byte(doc))
	require.NoError(t, err)
	assert.True(t, c.Known(datatypes.GeneralDomain))
	assert.Equal(t, []string{"civil_law"}, c.Names())
}

func TestRender(t *testing.T) {
	out := render("{{a}} and {{b}} and {{a}}", map[string]string{"a": "x", "b": "y"})
	assert.Equal(t, "x and y and x", out)
}

// =============================================================================
// Classifier
// =============================================================================

func TestLLMClassifier_Classify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
		want []string
	}{
		{"object", `{"domains": ["employment_law", "contract_law"]}`, nil, []string{"employment_law", "contract_law"}},
		{"bare array in fence", "```json\n[\"family_law\"]\n```", nil, []string{"family_law"}},
		{"case and duplicates", `{"domains": ["Employment_Law", "employment_law", " cyber_law "]}`, nil, []string{"employment_law", "cyber_law"}},
		{"unknown only", `{"domains": ["tax_law"]}`, nil, []string{"general"}},
		{"empty list", `[]`, nil, []string{"general"}},
		{"not a list", `the user needs help with employment`, nil, []string{"general"}},
		{"model error", "", errors.New("timeout"), []string{"general"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeLLM{handler: func([]llm.Message) (string, error) { return tt.raw, tt.err }}
			c := NewLLMClassifier(client, testCatalog(t), nil)
			assert.Equal(t, tt.want, c.Classify(context.Background(), "I was fired"))
		})
	}
}

func TestLLMClassifier_PromptAndMetrics(t *testing.T) {
	client := &fakeLLM{handler: replyWith("nonsense")}
	m := testMetrics()
	c := NewLLMClassifier(client, testCatalog(t), m)

	got := c.Classify(context.Background(), "my landlord kept my deposit")
	assert.Equal(t, []string{datatypes.GeneralDomain}, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterFailuresTotal.WithLabelValues(observability.AdapterClassifier)))

	require.Equal(t, 1, client.callCount())
	call := client.calls[0]
	assert.Contains(t, call.Messages[0].Content, "- property_law")
	assert.NotContains(t, call.Messages[0].Content, "{{domain_list}}")
	assert.Equal(t, "my landlord kept my deposit", call.Messages[1].Content)
	require.NotNil(t, call.Params.Temperature)
	assert.InDelta(t, 0.3, *call.Params.Temperature, 1e-6)
}

// =============================================================================
// Extractor
// =============================================================================

func TestLLMExtractor_IsolatesFailures(t *testing.T) {
	client := &fakeLLM{handler: func(msgs []llm.Message) (string, error) {
		sys := msgs[0].Content
		switch {
		case strings.Contains(sys, "Contract Law"):
			return "", errors.New("rate limited")
		case strings.Contains(sys, "Cyber Law"):
			return "   ", nil
		}
		return "Facts: fired on 3 March", nil
	}}
	m := testMetrics()
	e := NewLLMExtractor(client, testCatalog(t), m, 2)

	out := e.Extract(context.Background(), "text", []string{"employment_law", "contract_law", "cyber_law", "employment_law"})

	assert.Equal(t, map[string]string{"employment_law": "Facts: fired on 3 March"}, out)
	assert.Equal(t, 3, client.callCount(), "duplicates are extracted once")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AdapterFailuresTotal.WithLabelValues(observability.AdapterExtractor)))
}

func TestFollowupExtractor(t *testing.T) {
	full := NewLLMExtractor(&fakeLLM{handler: replyWith("x")}, testCatalog(t), nil, 1)

	e, err := FollowupExtractor(StrategyFull, full)
	require.NoError(t, err)
	assert.Same(t, full, e)

	e, err = FollowupExtractor(StrategyIncremental, full)
	require.NoError(t, err)
	assert.Nil(t, e.Extract(context.Background(), "x", []string{"civil_law"}))

	_, err = FollowupExtractor("eager", full)
	assert.Error(t, err)
}

// =============================================================================
// Formatter
// =============================================================================

const validRecordJSON = `{
  "country": "India",
  "domains": ["Employment_Law"],
  "facts": ["Fired without notice"],
  "legal_questions": ["Can I claim severance?"],
  "domain_specific": {
    "employment_law": {"facts": ["Fired without notice"], "location": "Mumbai", "damages": ["Two months pay"]}
  },
  "missing_info": ["When did you start the job?"]
}`

func TestFormatterInput_SortedBlocks(t *testing.T) {
	got := FormatterInput(map[string]string{"family_law": "b\n", "civil_law": "a"})
	assert.Equal(t, "--- civil_law ---\na\n\n--- family_law ---\nb", got)
}

func TestDecodeIntakeRecord(t *testing.T) {
	rec, err := DecodeIntakeRecord("Here you go:\n```json\n" + validRecordJSON + "\n```")
	require.NoError(t, err)

	assert.Equal(t, "india", rec.Country)
	assert.Equal(t, []string{"employment_law"}, rec.Domains)
	require.Contains(t, rec.DomainSpecific, "employment_law")
	assert.Equal(t, "Mumbai", *rec.DomainSpecific["employment_law"].Location)
	assert.Equal(t, []string{"When did you start the job?"}, rec.MissingInfo)
}

func TestDecodeIntakeRecord_Rejects(t *testing.T) {
	tests := map[string]string{
		"not json":    "I could not format this.",
		"wrong types": `{"domains": "civil_law"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeIntakeRecord(raw)
			assert.Error(t, err)
		})
	}
}

func TestDecodeIntakeRecord_DropsStraySlices(t *testing.T) {
	rec, err := DecodeIntakeRecord(`{
  "country": "uk",
  "domains": ["civil_law", "family_law"],
  "facts": ["Neighbour built over the boundary"],
  "domain_specific": {
    "civil_law": {"facts": ["Fence moved two metres"]},
    "family_law": null,
    "property_law": {"facts": ["Title deeds mention a right of way"]}
  }
}`)
	require.NoError(t, err)

	assert.Equal(t, "uk", rec.Country)
	assert.Equal(t, []string{"civil_law", "family_law"}, rec.Domains)
	assert.Equal(t, []string{"Neighbour built over the boundary"}, rec.Facts)
	require.Len(t, rec.DomainSpecific, 1)
	assert.Equal(t, []string{"Fence moved two metres"}, rec.DomainSpecific["civil_law"].Facts)
}

func TestDecodeIntakeRecord_ClearsUnknownCountry(t *testing.T) {
	rec, err := DecodeIntakeRecord(`{"country": "Atlantis", "domains": ["civil_law"]}`)
	require.NoError(t, err)
	assert.Empty(t, rec.Country)
	assert.NotNil(t, rec.DomainSpecific)
}

func TestLLMFormatter_Format(t *testing.T) {
	t.Run("empty input skips the model", func(t *testing.T) {
		client := &fakeLLM{handler: replyWith(validRecordJSON)}
		f := NewLLMFormatter(client, testCatalog(t), nil)

		rec := f.Format(context.Background(), nil)
		assert.Empty(t, rec.Domains)
		assert.NotNil(t, rec.DomainSpecific)
		assert.Zero(t, client.callCount())
	})

	t.Run("valid output", func(t *testing.T) {
		client := &fakeLLM{handler: replyWith(validRecordJSON)}
		f := NewLLMFormatter(client, testCatalog(t), nil)

		rec := f.Format(context.Background(), map[string]string{"employment_law": "notes"})
		assert.Equal(t, []string{"employment_law"}, rec.Domains)
		require.Equal(t, 1, client.callCount())
		assert.True(t, client.calls[0].Params.JSONMode)
		assert.Equal(t, "--- employment_law ---\nnotes", client.calls[0].Messages[1].Content)
	})

	t.Run("malformed output degrades to empty record", func(t *testing.T) {
		m := testMetrics()
		f := NewLLMFormatter(&fakeLLM{handler: replyWith("{broken")}, testCatalog(t), m)

		rec := f.Format(context.Background(), map[string]string{"civil_law": "notes"})
		assert.Empty(t, rec.Domains)
		assert.Empty(t, rec.Facts)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterFailuresTotal.WithLabelValues(observability.AdapterFormatter)))
	})

	t.Run("model error degrades to empty record", func(t *testing.T) {
		client := &fakeLLM{handler: func([]llm.Message) (string, error) { return "", errors.New("down") }}
		f := NewLLMFormatter(client, testCatalog(t), nil)

		rec := f.Format(context.Background(), map[string]string{"civil_law": "notes"})
		assert.Empty(t, rec.Domains)
	})
}

// =============================================================================
// Reasoner
// =============================================================================

func twoDomainRecord() *datatypes.IntakeRecord {
	return &datatypes.IntakeRecord{
		Country:        "usa",
		Domains:        []string{"employment_law", "contract_law"},
		Facts:          []string{"fired", "contract breached"},
		LegalQuestions: []string{"what now?"},
		DomainSpecific: map[string]*datatypes.DomainSlice{
			"employment_law": {Facts: []string{"I was fired", "after complaining"}, LegalQuestions: []string{"Is it retaliation?"}},
			"contract_law":   {Facts: []string{"The buyer never paid"}},
		},
	}
}

const advisoryJSON = `{"answers_to_questions": [{"question": "Is it retaliation?", "answer": "Possibly."}],
 "next_steps": "File a complaint", "documents_needed": ["Termination letter"], "risks": [],
 "limitation_periods": ["180 days"], "disclaimer": "This is not a substitute for professional legal advice."}`

func TestReasoner_Advise_DomainIsolation(t *testing.T) {
	client := &fakeLLM{handler: func(msgs []llm.Message) (string, error) {
		if strings.Contains(msgs[1].Content, "Contract Law") {
			return "", errors.New("upstream 500")
		}
		return advisoryJSON, nil
	}}
	retriever := &fakeRetriever{results: map[string][]datatypes.LawResult{
		"I was fired after complaining": {{Act: "Fair Labor Standards Act", Section: "15(a)(3)", Content: "It shall be unlawful to discharge..."}},
	}}
	m := testMetrics()
	r := NewReasoner(client, retriever, testCatalog(t), m, ReasonerConfig{Concurrency: 2})

	advice, err := r.Advise(context.Background(), twoDomainRecord())
	require.NoError(t, err)
	require.Len(t, advice, 2)

	contract, employment := advice[0], advice[1]
	assert.Equal(t, "contract_law", contract.Domain)
	assert.Equal(t, "[Error processing domain contract_law]: upstream 500", contract.Text)
	assert.NotEmpty(t, contract.Error)
	assert.Nil(t, contract.Advisory)

	assert.Equal(t, "employment_law", employment.Domain)
	assert.Empty(t, employment.Error)
	require.NotNil(t, employment.Advisory)
	assert.Equal(t, datatypes.FlexList{"Is it retaliation? Possibly."}, employment.Advisory.AnswersToQuestions)
	assert.Equal(t, datatypes.FlexList{"File a complaint"}, employment.Advisory.NextSteps)
	assert.Equal(t, []string{"Fair Labor Standards Act, Section 15(a)(3): It shall be unlawful to discharge..."}, employment.Citations)
	assert.Equal(t, []string{"Fair Labor Standards Act, Section 15(a)(3)"}, employment.Sources)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdviceTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdviceTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterFailuresTotal.WithLabelValues(observability.AdapterReasoner)))
}

func TestReasoner_Advise_ConfigurationErrors(t *testing.T) {
	client := &fakeLLM{handler: replyWith(advisoryJSON)}

	t.Run("missing country", func(t *testing.T) {
		r := NewReasoner(client, &fakeRetriever{}, testCatalog(t), nil, ReasonerConfig{})
		rec := twoDomainRecord()
		rec.Country = ""

		_, err := r.Advise(context.Background(), rec)
		assert.True(t, IsConfigurationError(err))
	})

	t.Run("missing index", func(t *testing.T) {
		retriever := &fakeRetriever{ensureErr: &ConfigurationError{Jurisdiction: "usa", Reason: "no legal text index"}}
		r := NewReasoner(client, retriever, testCatalog(t), nil, ReasonerConfig{})

		_, err := r.Advise(context.Background(), twoDomainRecord())
		assert.True(t, IsConfigurationError(err))
		assert.Contains(t, err.Error(), `"usa"`)
	})

	assert.Zero(t, client.callCount())
}

func TestReasoner_Gather(t *testing.T) {
	rec := twoDomainRecord()
	rec.DomainSpecific["employment_law"].Facts = nil
	retriever := &fakeRetriever{failFor: map[string]bool{"The buyer never paid": true}}
	m := testMetrics()
	r := NewReasoner(&fakeLLM{handler: replyWith("")}, retriever, testCatalog(t), m, ReasonerConfig{})

	laws, err := r.Gather(context.Background(), rec)
	require.NoError(t, err)
	assert.Empty(t, laws)
	assert.Equal(t, []string{"The buyer never paid"}, retriever.queries, "empty query skips retrieval")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterFailuresTotal.WithLabelValues(observability.AdapterRetriever)))
}

func TestReasoner_CancelledContextStillYieldsEntries(t *testing.T) {
	client := &fakeLLM{handler: replyWith(advisoryJSON)}
	r := NewReasoner(client, &fakeRetriever{}, testCatalog(t), nil, ReasonerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	advice := r.Reason(ctx, twoDomainRecord(), nil)

	require.Len(t, advice, 2)
	for _, a := range advice {
		assert.NotEmpty(t, a.Error, a.Domain)
		assert.True(t, strings.HasPrefix(a.Text, "[Error processing domain "+a.Domain+"]: "))
	}
}

func TestReasoner_RawTextKeptWhenNotJSON(t *testing.T) {
	r := NewReasoner(&fakeLLM{handler: replyWith("You should talk to a lawyer.")}, &fakeRetriever{}, testCatalog(t), nil, ReasonerConfig{})
	rec := twoDomainRecord()
	delete(rec.DomainSpecific, "contract_law")

	advice := r.Reason(context.Background(), rec, nil)
	require.Len(t, advice, 1)
	assert.Equal(t, "You should talk to a lawyer.", advice[0].Text)
	assert.Nil(t, advice[0].Advisory)
	assert.Empty(t, advice[0].Error)
}

func TestReasoner_BuildPrompt(t *testing.T) {
	r := NewReasoner(&fakeLLM{handler: replyWith("")}, &fakeRetriever{}, testCatalog(t), nil, ReasonerConfig{})

	slice := &datatypes.DomainSlice{
		Facts:    []string{"Rear-ended at a light"},
		Entities: []string{"Other driver"},
		Damages:  []string{"Bumper repair $900"},
	}
	prompt := r.BuildPrompt("accident_law", slice, "uk", nil)

	assert.Contains(t, prompt, "specializing in Accident Law")
	assert.Contains(t, prompt, "Location:\nNot specified")
	assert.Contains(t, prompt, "Injuries/Damages:\nBumper repair $900")
	assert.Contains(t, prompt, "retrieved from the United Kingdom legal database")
	assert.Contains(t, prompt, "No relevant laws found.")
	assert.NotContains(t, prompt, "{{")

	slice.Injuries = []string{"Whiplash"}
	slice.Location = strPtr("Leeds")
	prompt = r.BuildPrompt("accident_law", slice, "uk", []string{"Road Traffic Act 1988, Section 39: duty"})
	assert.Contains(t, prompt, "Location:\nLeeds")
	assert.Contains(t, prompt, "Injuries/Damages:\nWhiplash")
	assert.Contains(t, prompt, "Road Traffic Act 1988, Section 39: duty")
	assert.NotContains(t, prompt, "No relevant laws found.")
}

func TestFormatCitations_Precedence(t *testing.T) {
	laws := []datatypes.LawResult{
		{Act: "Employment Rights Act 1996", Section: "94", Title: "Unfair dismissal", Content: "An employee has the right..."},
		{Act: "Employment Rights Act 1996", Title: "Unfair dismissal", Content: "Qualifying period"},
		{Jurisdiction: "UK", Content: "Notice periods apply"},
		{Content: "Untagged passage"},
		{Jurisdiction: "UK"},
		{Act: "Equality Act 2010", Section: "13"},
	}
	got := FormatCitations(laws, "uk")
	assert.Equal(t, []string{
		"Employment Rights Act 1996, Section 94: An employee has the right...",
		"Unfair dismissal: Qualifying period",
		"[UK] Notice periods apply",
		"[United Kingdom] Untagged passage",
		"Equality Act 2010, Section 13",
	}, got)
}

func TestSourceLabels_KeepColonsInsideLabels(t *testing.T) {
	laws := []datatypes.LawResult{
		{Act: "Housing Act 1988", Section: "21", Content: "Notice: two months"},
		{Title: "Landlord and Tenant Act: Part II", Content: "Business tenancies"},
		{Jurisdiction: "UK", Content: "Note: a deposit must be protected within 30 days"},
		{Content: strings.Repeat("x", 200)},
		{Jurisdiction: "UK"},
	}
	got := SourceLabels(laws, "uk")
	assert.Equal(t, []string{
		"Housing Act 1988, Section 21",
		"Landlord and Tenant Act: Part II",
		"[UK] Note: a deposit must be protected within 30 days",
		"[United Kingdom] " + strings.Repeat("x", maxSourceLen-len("[United Kingdom] ")),
	}, got)
	assert.Len(t, FormatCitations(laws, "uk"), len(got))
}

// =============================================================================
// Weaviate retriever
// =============================================================================

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, f.err
}

func newFakeWeaviate(t *testing.T, graphqlBody *string) *weaviate.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/meta":
			_, _ = io.WriteString(w, `{"version": "1.25.0"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/schema/LegalText_USA":
			_, _ = io.WriteString(w, `{"class": "LegalText_USA"}`)
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/schema/"):
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
			body, _ := io.ReadAll(r.Body)
			_, _ = w.Write(body)
		case r.URL.Path == "/v1/graphql":
			body, _ := io.ReadAll(r.Body)
			*graphqlBody = string(body)
			_, _ = io.WriteString(w, `{"data": {"Get": {"LegalText_USA": [
				{"section": "1981", "act": "Civil Rights Act", "jurisdiction": "USA", "title": "", "content": "All persons...",
				 "_additional": {"id": "a1", "distance": 0.12}}
			]}}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := weaviate.NewClient(weaviate.Config{Host: strings.TrimPrefix(srv.URL, "http://"), Scheme: "http"})
	require.NoError(t, err)
	return client
}

func TestWeaviateRetriever_EnsureIndex(t *testing.T) {
	var body string
	r := NewWeaviateRetriever(newFakeWeaviate(t, &body), fakeEmbedder{})
	ctx := context.Background()

	assert.NoError(t, r.EnsureIndex(ctx, "usa"))

	err := r.EnsureIndex(ctx, "uk")
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))

	assert.True(t, IsConfigurationError(r.EnsureIndex(ctx, "")))
}

func TestWeaviateRetriever_CreateIndex(t *testing.T) {
	var body string
	r := NewWeaviateRetriever(newFakeWeaviate(t, &body), fakeEmbedder{})

	created, err := r.CreateIndex(context.Background(), "usa")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = r.CreateIndex(context.Background(), "canada")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, r.EnsureIndex(context.Background(), "canada"), "created classes are cached")
}

func TestWeaviateRetriever_Retrieve(t *testing.T) {
	var body string
	r := NewWeaviateRetriever(newFakeWeaviate(t, &body), fakeEmbedder{})

	laws, err := r.Retrieve(context.Background(), "usa", "fired for my race", 3)
	require.NoError(t, err)
	require.Len(t, laws, 1)
	assert.Equal(t, "Civil Rights Act", laws[0].Act)
	assert.Equal(t, "1981", laws[0].Section)
	assert.Equal(t, "a1", laws[0].Additional.ID)
	require.NotNil(t, laws[0].Additional.Distance)

	var req struct {
		Query string `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	assert.Contains(t, req.Query, "LegalText_USA")
	assert.Contains(t, req.Query, "limit: 3")
}

func TestWeaviateRetriever_RetrieveEdgeCases(t *testing.T) {
	var body string
	client := newFakeWeaviate(t, &body)

	r := NewWeaviateRetriever(client, fakeEmbedder{})
	laws, err := r.Retrieve(context.Background(), "usa", "   ", 5)
	assert.NoError(t, err)
	assert.Nil(t, laws)
	assert.Empty(t, body, "blank query makes no search")

	_, err = r.Retrieve(context.Background(), "", "query", 5)
	assert.True(t, IsConfigurationError(err))

	r = NewWeaviateRetriever(client, fakeEmbedder{err: errors.New("embedder down")})
	_, err = r.Retrieve(context.Background(), "usa", "query", 5)
	assert.ErrorContains(t, err, "embedder down")
}

func TestReasoner_Gather_IndexUnreachableDegrades(t *testing.T) {
	retriever := &fakeRetriever{ensureErr: errors.New("connection refused")}
	m := testMetrics()
	r := NewReasoner(&fakeLLM{handler: replyWith(advisoryJSON)}, retriever, testCatalog(t), m, ReasonerConfig{})

	advice, err := r.Advise(context.Background(), twoDomainRecord())
	require.NoError(t, err)
	assert.Len(t, advice, 2)
	assert.Empty(t, retriever.queries)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdapterFailuresTotal.WithLabelValues(observability.AdapterRetriever)))
}

func TestUnconfiguredRetriever_AbortsReasoning(t *testing.T) {
	llmClient := &fakeLLM{handler: replyWith(advisoryJSON)}
	r := NewReasoner(llmClient, UnconfiguredRetriever{}, testCatalog(t), testMetrics(), ReasonerConfig{})

	advice, err := r.Advise(context.Background(), twoDomainRecord())
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "no legal text index is configured")
	assert.Nil(t, advice)
	assert.Empty(t, llmClient.calls)
}
