package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nbalushi/malaab/internal/evaluator"
	"github.com/nbalushi/malaab/internal/inference"
	mock_inference "github.com/nbalushi/malaab/internal/mocks/inference"
	"github.com/nbalushi/malaab/internal/playground"
	"github.com/nbalushi/malaab/internal/session"
	"github.com/nbalushi/malaab/internal/speech"
)

type handlerFixture struct {
	store   *playground.MemoryStore
	handler http.Handler
}

func newHandlerFixture(t *testing.T, oracle inference.Client) handlerFixture {
	t.Helper()

	store := playground.NewMemoryStore()
	orchestrator := session.NewOrchestrator(
		store,
		evaluator.New(oracle),
		speech.NewTokenCache(nil, "", ""),
	)
	handler := NewHandler(orchestrator, SpeechInfo{}, "http://localhost:8080")

	mux := http.NewServeMux()
	handler.Register(mux)
	return handlerFixture{store: store, handler: mux}
}

func (f handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return body
}

func TestHandler_Health(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "OK", recorder.Body.String())
}

func TestHandler_CreatePlayground(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodPost, "/slp/playgrounds",
		`{"title": "تمرين الأفعال", "verb": "شرب", "dialects": ["نجدية"]}`)

	require.Equal(t, http.StatusCreated, recorder.Code)
	body := decodeBody(t, recorder)
	token, ok := body["token"].(string)
	require.True(t, ok)
	assert.Regexp(t, "^[0-9a-f]{32}$", token)
	assert.Equal(t, "http://localhost:8080/c/"+token, body["share_url"])
	assert.Equal(t, "http://localhost:8080/c/"+token+"?preview=1", body["preview_url"])

	stored, err := fixture.store.Get(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "شرب", stored.Verb)
}

func TestHandler_ClientPlayground(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	token, err := fixture.store.Create(context.Background(), playground.NewPlayground{Verb: "كتب"})
	require.NoError(t, err)

	t.Run("known token returns the verb and prompt", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodGet, "/api/"+token, "")

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, token, body["token"])
		assert.Equal(t, "كتب", body["verb"])
		assert.Equal(t, "ما هو المفعول به المناسب للفعل 'كتب'؟", body["prompt"])
		assert.Equal(t, false, body["speech_enabled"])
	})

	t.Run("unknown token responds 404 with the invalid shape", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodGet, "/api/00000000000000000000000000000000", "")

		require.Equal(t, http.StatusNotFound, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "invalid"}`, recorder.Body.String())
	})
}

func TestHandler_StartRun(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	token, err := fixture.store.Create(context.Background(), playground.NewPlayground{Verb: "أكل"})
	require.NoError(t, err)

	t.Run("known token mints a run id", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/"+token+"/start", "")

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, true, body["ok"])
		assert.Regexp(t, "^[0-9a-f]{32}$", body["run_id"])
	})

	t.Run("starting never records a run", func(t *testing.T) {
		fixture.do(t, http.MethodPost, "/api/"+token+"/start", "")

		stored, err := fixture.store.Get(context.Background(), token)
		require.NoError(t, err)
		assert.Empty(t, stored.Runs)
	})

	t.Run("unknown token responds 404", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/ffffffffffffffffffffffffffffffff/start", "")

		require.Equal(t, http.StatusNotFound, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "invalid"}`, recorder.Body.String())
	})
}

func TestHandler_SubmitRun(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	token, err := fixture.store.Create(context.Background(), playground.NewPlayground{Verb: "أكل"})
	require.NoError(t, err)

	t.Run("accepted submission appends a run", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/"+token+"/submit",
			`{"client_name": "سارة", "q1": "yes", "q2": "no"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t, `{"ok": true}`, recorder.Body.String())

		stored, err := fixture.store.Get(context.Background(), token)
		require.NoError(t, err)
		require.Len(t, stored.Runs, 1)
		assert.Equal(t, "سارة", stored.Runs[0].ClientName)
		assert.Equal(t, "yes", stored.Runs[0].Answers["q1"])
	})

	t.Run("preview submission is skipped and never grows the runs", func(t *testing.T) {
		before, err := fixture.store.Get(context.Background(), token)
		require.NoError(t, err)

		recorder := fixture.do(t, http.MethodPost, "/api/"+token+"/submit",
			`{"client_name": "سارة", "preview": true, "q1": "yes"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t, `{"ok": true, "skipped": "preview"}`, recorder.Body.String())

		after, err := fixture.store.Get(context.Background(), token)
		require.NoError(t, err)
		assert.Len(t, after.Runs, len(before.Runs))
	})

	t.Run("preview as string form value is also skipped", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/"+token+"/submit", `{"preview": "1"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t, `{"ok": true, "skipped": "preview"}`, recorder.Body.String())
	})

	t.Run("unknown token responds 404", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/ffffffffffffffffffffffffffffffff/submit",
			`{"client_name": "سارة"}`)

		require.Equal(t, http.StatusNotFound, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "invalid"}`, recorder.Body.String())
	})

	t.Run("unknown token responds 404 even for previews", func(t *testing.T) {
		recorder := fixture.do(t, http.MethodPost, "/api/ffffffffffffffffffffffffffffffff/submit",
			`{"preview": true}`)

		require.Equal(t, http.StatusNotFound, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "invalid"}`, recorder.Body.String())
	})
}

func TestHandler_ObjectPrompt(t *testing.T) {
	t.Run("without an oracle the templated prompt is returned", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/object_prompt", `{"verb": "ركب"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "ما هو المفعول به المناسب للفعل 'ركب'؟", body["prompt"])
	})

	t.Run("missing verb responds 400", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/object_prompt", `{}`)

		require.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "missing verb"}`, recorder.Body.String())
	})

	t.Run("oracle suggestion is passed through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockClient := mock_inference.NewMockClient(ctrl)
		mockClient.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			Return("ماذا ركب خالد في طريقه إلى المدرسة؟", nil)
		fixture := newHandlerFixture(t, mockClient)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/object_prompt", `{"verb": "ركب"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, "ماذا ركب خالد في طريقه إلى المدرسة؟", body["prompt"])
	})
}

func TestHandler_GrammarFeedback(t *testing.T) {
	t.Run("without an oracle responds not configured", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/grammar", `{"sentences": ["أكل الولد التفاحة"]}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, "ai_not_configured", body["error"])
		assert.Contains(t, body["feedback"], "لم يتم إعداد Azure OpenAI")
	})

	t.Run("missing sentences responds 400", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/grammar", `{"sentences": []}`)

		require.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "missing sentences"}`, recorder.Body.String())
	})

	t.Run("oracle failure degrades to a message", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockClient := mock_inference.NewMockClient(ctrl)
		mockClient.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			Return("", assert.AnError)
		fixture := newHandlerFixture(t, mockClient)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/grammar", `{"sentences": ["أكل الولد"]}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, false, body["ok"])
		assert.Equal(t, "ai_call_failed", body["error"])
		assert.Contains(t, body["feedback"], "تعذّر الاتصال بخدمة الذكاء الاصطناعي")
	})

	t.Run("oracle feedback is passed through", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockClient := mock_inference.NewMockClient(ctrl)
		mockClient.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			Return("1. الجملة الأولى سليمة.", nil)
		fixture := newHandlerFixture(t, mockClient)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/grammar", `{"sentences": ["أكل الولد التفاحة"]}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		body := decodeBody(t, recorder)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "1. الجملة الأولى سليمة.", body["feedback"])
	})
}

func TestHandler_YesNo(t *testing.T) {
	t.Run("grammar judgment falls back without an oracle", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/yn_grammar",
			`{"sentence": "أكل الولد التفاحة", "answer": "yes"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t,
			`{"ok": true, "expected": "yes", "correct": true, "reason": "الجملة سليمة نحويًا."}`,
			recorder.Body.String())
	})

	t.Run("semantics judgment falls back without an oracle", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/yn_semantics",
			`{"sentence": "سيأكل الولد التفاحة أمس", "answer": "yes"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t,
			`{"ok": true, "expected": "no", "correct": false, "reason": "تناقض زمني: المستقبل مع ظرف الماضي."}`,
			recorder.Body.String())
	})

	t.Run("missing fields respond 400", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/yn_grammar", `{"sentence": "أكل الولد"}`)

		require.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "bad_request"}`, recorder.Body.String())
	})

	t.Run("answer outside yes/no responds 400", func(t *testing.T) {
		fixture := newHandlerFixture(t, nil)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/yn_grammar",
			`{"sentence": "أكل الولد", "answer": "maybe"}`)

		require.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.JSONEq(t, `{"ok": false, "error": "bad_request"}`, recorder.Body.String())
	})

	t.Run("oracle verdict is graded against the answer", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		mockClient := mock_inference.NewMockClient(ctrl)
		mockClient.EXPECT().
			Complete(gomock.Any(), gomock.Any()).
			Return("answer: no\nreason: الفاعل غير مطابق", nil)
		fixture := newHandlerFixture(t, mockClient)

		recorder := fixture.do(t, http.MethodPost, "/api/ai/yn_grammar",
			`{"sentence": "أكلت الولد التفاحة", "answer": "no"}`)

		require.Equal(t, http.StatusOK, recorder.Code)
		assert.JSONEq(t,
			`{"ok": true, "expected": "no", "correct": true, "reason": "الفاعل غير مطابق"}`,
			recorder.Body.String())
	})
}

func TestHandler_SpeechToken(t *testing.T) {
	fixture := newHandlerFixture(t, nil)

	recorder := fixture.do(t, http.MethodGet, "/api/speech/token", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"error": "speech_not_configured"}`, recorder.Body.String())
}

func TestHandler_Dashboard(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	ctx := context.Background()

	first, err := fixture.store.Create(ctx, playground.NewPlayground{Title: "الأول", Verb: "أكل"})
	require.NoError(t, err)
	second, err := fixture.store.Create(ctx, playground.NewPlayground{Title: "الثاني", Verb: "شرب"})
	require.NoError(t, err)
	require.NoError(t, fixture.store.AppendRun(ctx, first, playground.Run{
		ClientName: "سارة",
		Answers:    map[string]any{"q1": "yes"},
	}))

	recorder := fixture.do(t, http.MethodGet, "/slp/dashboard", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Rows []struct {
			ID         string           `json:"id"`
			Title      string           `json:"title"`
			ClientRuns []playground.Run `json:"client_runs"`
		} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.Len(t, body.Rows, 2)
	// Newest first.
	assert.Equal(t, second, body.Rows[0].ID)
	assert.Equal(t, "الثاني", body.Rows[0].Title)
	assert.Equal(t, first, body.Rows[1].ID)
	require.Len(t, body.Rows[1].ClientRuns, 1)
	assert.Equal(t, "سارة", body.Rows[1].ClientRuns[0].ClientName)
}

func TestHandler_PlaygroundResults(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	token, err := fixture.store.Create(context.Background(), playground.NewPlayground{Title: "نتائج", Verb: "قرأ"})
	require.NoError(t, err)

	recorder := fixture.do(t, http.MethodGet, "/slp/playground/"+token, "")

	require.Equal(t, http.StatusOK, recorder.Code)
	var body struct {
		Playground playground.Playground `json:"playground"`
		ShareURL   string                `json:"share_url"`
		PreviewURL string                `json:"preview_url"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "نتائج", body.Playground.Title)
	assert.Equal(t, "قرأ", body.Playground.Verb)
	assert.Equal(t, "http://localhost:8080/c/"+token, body.ShareURL)
	assert.Equal(t, "http://localhost:8080/c/"+token+"?preview=1", body.PreviewURL)
}

func TestHandler_PlaygroundReport(t *testing.T) {
	fixture := newHandlerFixture(t, nil)
	token, err := fixture.store.Create(context.Background(), playground.NewPlayground{Title: "تقرير", Verb: "أكل"})
	require.NoError(t, err)

	recorder := fixture.do(t, http.MethodGet, "/slp/playground/"+token+"/report", "")

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/pdf", recorder.Header().Get("Content-Type"))
	assert.Contains(t, recorder.Header().Get("Content-Disposition"), "playground-"+token[:8])
	assert.NotEmpty(t, recorder.Body.Bytes())
}
