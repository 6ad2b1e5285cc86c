// Package server exposes the exercise engine as a JSON HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/nbalushi/malaab/internal/evaluator"
	"github.com/nbalushi/malaab/internal/playground"
	"github.com/nbalushi/malaab/internal/report"
	"github.com/nbalushi/malaab/internal/session"
	"github.com/nbalushi/malaab/internal/speech"
)

// Handler implements the client- and clinician-facing HTTP endpoints.
type Handler struct {
	orchestrator *session.Orchestrator
	speechConfig SpeechInfo
	baseURL      string
	validate     *validator.Validate
}

// SpeechInfo is the non-secret voice-service metadata clients may see.
type SpeechInfo struct {
	Enabled bool
	Region  string
	Voice   string
}

func NewHandler(orchestrator *session.Orchestrator, speechConfig SpeechInfo, baseURL string) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		speechConfig: speechConfig,
		baseURL:      baseURL,
		validate:     validator.New(),
	}
}

// Register mounts all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /api/{token}", h.clientPlayground)
	mux.HandleFunc("POST /api/{token}/start", h.startRun)
	mux.HandleFunc("POST /api/{token}/submit", h.submitRun)

	mux.HandleFunc("POST /api/ai/object_prompt", h.objectPrompt)
	mux.HandleFunc("POST /api/ai/grammar", h.grammarFeedback)
	mux.HandleFunc("POST /api/ai/yn_grammar", h.yesNo(evaluator.QuestionTypeGrammar))
	mux.HandleFunc("POST /api/ai/yn_semantics", h.yesNo(evaluator.QuestionTypeSemantics))

	mux.HandleFunc("GET /api/speech/token", h.speechToken)

	mux.HandleFunc("POST /slp/playgrounds", h.createPlayground)
	mux.HandleFunc("GET /slp/dashboard", h.dashboard)
	mux.HandleFunc("GET /slp/playground/{token}", h.playgroundResults)
	mux.HandleFunc("GET /slp/playground/{token}/report", h.playgroundReport)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) clientPlayground(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	pg, err := h.orchestrator.GetPlayground(r.Context(), token)
	if err != nil {
		h.writeNotFound(w, err)
		return
	}

	prompt, err := h.orchestrator.ObjectPrompt(r.Context(), pg.Verb)
	if err != nil {
		// A stored playground always has a verb, so this only guards a race.
		prompt = fmt.Sprintf("ما هو المفعول به المناسب للفعل '%s'؟", pg.Verb)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":          token,
		"verb":           pg.Verb,
		"prompt":         prompt,
		"speech_enabled": h.speechConfig.Enabled,
		"speech_region":  h.speechConfig.Region,
		"speech_voice":   h.speechConfig.Voice,
	})
}

func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	runID, err := h.orchestrator.StartRun(r.Context(), token)
	if err != nil {
		h.writeNotFound(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "run_id": runID})
}

func (h *Handler) submitRun(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")

	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		payload = map[string]any{}
	}

	submission := session.Submission{
		ClientName: stringField(payload, "client_name"),
		Preview:    boolField(payload, "preview"),
		Answers:    payload,
	}

	accepted, err := h.orchestrator.SubmitRun(r.Context(), token, submission)
	if err != nil {
		h.writeNotFound(w, err)
		return
	}
	if !accepted {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "skipped": "preview"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type objectPromptRequest struct {
	Verb string `json:"verb" validate:"required"`
}

func (h *Handler) objectPrompt(w http.ResponseWriter, r *http.Request) {
	var req objectPromptRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing verb"})
		return
	}

	prompt, err := h.orchestrator.ObjectPrompt(r.Context(), req.Verb)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing verb"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "prompt": prompt})
}

type grammarFeedbackRequest struct {
	Sentences []string `json:"sentences" validate:"required,min=1"`
}

func (h *Handler) grammarFeedback(w http.ResponseWriter, r *http.Request) {
	var req grammarFeedbackRequest
	if err := decodeAndValidate(r, h.validate, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "missing sentences"})
		return
	}

	if !h.orchestrator.OracleConfigured() {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       false,
			"error":    "ai_not_configured",
			"feedback": "لم يتم إعداد Azure OpenAI. أضف AZURE_OPENAI_KEY / ENDPOINT / DEPLOYMENT في ملف .env.",
		})
		return
	}

	feedback, err := h.orchestrator.GrammarFeedback(r.Context(), req.Sentences)
	if err != nil {
		// Degrade to a message instead of a hard failure; the exercise continues.
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       false,
			"error":    "ai_call_failed",
			"feedback": fmt.Sprintf("تعذّر الاتصال بخدمة الذكاء الاصطناعي: %v", err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "feedback": feedback})
}

type yesNoRequest struct {
	Sentence string `json:"sentence" validate:"required"`
	Answer   string `json:"answer" validate:"required"`
}

func (h *Handler) yesNo(questionType evaluator.QuestionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req yesNoRequest
		if err := decodeAndValidate(r, h.validate, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad_request"})
			return
		}

		verdict, err := h.orchestrator.EvaluateYesNo(r.Context(), evaluator.Request{
			Type:     questionType,
			Sentence: req.Sentence,
			Answer:   req.Answer,
		})
		if err != nil {
			if errors.Is(err, evaluator.ErrInvalidRequest) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad_request"})
				return
			}
			h.writeInternal(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"ok":       true,
			"expected": verdict.Expected,
			"correct":  verdict.Correct,
			"reason":   verdict.Reason,
		})
	}
}

func (h *Handler) speechToken(w http.ResponseWriter, r *http.Request) {
	credential, err := h.orchestrator.SpeechCredential(r.Context())
	if err != nil {
		// Both states respond 200 so the client can degrade gracefully
		// (disable audio) instead of failing the exercise.
		if errors.Is(err, speech.ErrUnconfigured) {
			writeJSON(w, http.StatusOK, map[string]any{"error": "speech_not_configured"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"error": fmt.Sprintf("token_error: %v", err)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":  credential.Token,
		"region": credential.Region,
		"voice":  credential.Voice,
	})
}

type createPlaygroundRequest struct {
	Title    string   `json:"title"`
	Verb     string   `json:"verb"`
	Notes    string   `json:"notes"`
	Dialects []string `json:"dialects"`
}

func (h *Handler) createPlayground(w http.ResponseWriter, r *http.Request) {
	var req createPlaygroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad_request"})
		return
	}

	token, err := h.orchestrator.CreatePlayground(r.Context(), playground.NewPlayground{
		Title:    req.Title,
		Verb:     req.Verb,
		Notes:    req.Notes,
		Dialects: req.Dialects,
	})
	if err != nil {
		h.writeInternal(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token":       token,
		"share_url":   h.shareURL(token),
		"preview_url": h.shareURL(token) + "?preview=1",
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.orchestrator.Dashboard(r.Context())
	if err != nil {
		h.writeInternal(w, err)
		return
	}

	rows := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, map[string]any{
			"id":          entry.Token,
			"title":       entry.Playground.Title,
			"created_at":  entry.Playground.CreatedAt,
			"client_runs": entry.Playground.Runs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (h *Handler) playgroundResults(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	pg, err := h.orchestrator.GetPlayground(r.Context(), token)
	if err != nil {
		h.writeNotFound(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"playground":  pg,
		"share_url":   h.shareURL(token),
		"preview_url": h.shareURL(token) + "?preview=1",
	})
}

func (h *Handler) playgroundReport(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	pg, err := h.orchestrator.GetPlayground(r.Context(), token)
	if err != nil {
		h.writeNotFound(w, err)
		return
	}

	contents, err := report.RenderPDF(pg)
	if err != nil {
		h.writeInternal(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "playground-"+token[:8]+".pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(contents)
}

func (h *Handler) shareURL(token string) string {
	return h.baseURL + "/c/" + token
}

func (h *Handler) writeNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, playground.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": "invalid"})
		return
	}
	h.writeInternal(w, err)
}

func (h *Handler) writeInternal(w http.ResponseWriter, err error) {
	slog.Default().Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": "internal"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func decodeAndValidate(r *http.Request, validate *validator.Validate, target any) error {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("json.Decode > %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("validate.Struct > %w", err)
	}
	return nil
}

func stringField(payload map[string]any, key string) string {
	if value, ok := payload[key].(string); ok {
		return value
	}
	return ""
}

func boolField(payload map[string]any, key string) bool {
	switch value := payload[key].(type) {
	case bool:
		return value
	case string:
		return value == "1" || value == "true"
	case float64:
		return value != 0
	default:
		return false
	}
}
