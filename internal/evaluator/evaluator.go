// Package evaluator grades client answers against an optional language-assistance oracle.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nbalushi/malaab/internal/inference"
)

// ErrInvalidRequest is returned when a judgment request is malformed before any oracle call.
var ErrInvalidRequest = errors.New("invalid judgment request")

// ErrUnconfigured is returned by operations with no deterministic fallback
// when no oracle client is available.
var ErrUnconfigured = errors.New("oracle is not configured")

type QuestionType string

const (
	QuestionTypeObjectPrompt QuestionType = "object-prompt"
	QuestionTypeGrammar      QuestionType = "grammar"
	QuestionTypeSemantics    QuestionType = "semantics"
)

// Request is one yes/no judgment item submitted by a client.
type Request struct {
	Type     QuestionType
	Sentence string
	Answer   string
}

// Verdict is the graded result of a judgment item.
type Verdict struct {
	Expected string `json:"expected"`
	Correct  bool   `json:"correct"`
	Reason   string `json:"reason"`
}

// Fallback verdicts when the oracle is unset or unreachable. The reasons match
// the stimulus sentences the exercise ships with.
const (
	fallbackGrammarExpected   = "yes"
	fallbackGrammarReason     = "الجملة سليمة نحويًا."
	fallbackSemanticsExpected = "no"
	fallbackSemanticsReason   = "تناقض زمني: المستقبل مع ظرف الماضي."
)

// Evaluator produces verdicts for judgment requests. The oracle client is
// optional; a nil client degrades every operation to its deterministic fallback.
type Evaluator struct {
	oracleClient inference.Client
}

func New(oracleClient inference.Client) *Evaluator {
	return &Evaluator{oracleClient: oracleClient}
}

// Configured reports whether an oracle client is available.
func (e *Evaluator) Configured() bool {
	return e.oracleClient != nil
}

// ObjectPrompt suggests an object complement for the given verb. The suggestion
// is advisory and never graded. An empty verb is rejected with ErrInvalidRequest.
func (e *Evaluator) ObjectPrompt(ctx context.Context, verb string) (string, error) {
	verb = strings.TrimSpace(verb)
	if verb == "" {
		return "", fmt.Errorf("%w: missing verb", ErrInvalidRequest)
	}

	if e.oracleClient == nil {
		return fmt.Sprintf("ما هو المفعول به المناسب للفعل '%s'؟", verb), nil
	}

	suggestion, err := e.oracleClient.Complete(ctx, inference.CompletionRequest{
		SystemPrompt: "أنت معلم لغة عربية. ساعد الطلاب في اختيار مفعول به مناسب للأفعال.",
		UserPrompt:   fmt.Sprintf("اقترح مفعولاً به مناسباً للفعل '%s'", verb),
		MaxTokens:    100,
		Temperature:  0.7,
	})
	if err != nil {
		slog.Default().Warn("object prompt oracle call failed, using fallback",
			"verb", verb,
			"error", err)
		return fmt.Sprintf("ما هو المفعول به المناسب للفعل '%s'؟", verb), nil
	}
	return suggestion, nil
}

// EvaluateYesNo grades a grammar or semantics yes/no judgment. Oracle failures
// never surface to the caller; they degrade to the per-type fallback verdict.
func (e *Evaluator) EvaluateYesNo(ctx context.Context, req Request) (Verdict, error) {
	sentence := strings.TrimSpace(req.Sentence)
	answer := strings.ToLower(strings.TrimSpace(req.Answer))
	if sentence == "" {
		return Verdict{}, fmt.Errorf("%w: missing sentence", ErrInvalidRequest)
	}
	if answer != "yes" && answer != "no" {
		return Verdict{}, fmt.Errorf("%w: answer must be yes or no, got %q", ErrInvalidRequest, req.Answer)
	}

	var fallbackExpected, fallbackReason string
	switch req.Type {
	case QuestionTypeGrammar:
		fallbackExpected, fallbackReason = fallbackGrammarExpected, fallbackGrammarReason
	case QuestionTypeSemantics:
		fallbackExpected, fallbackReason = fallbackSemanticsExpected, fallbackSemanticsReason
	default:
		return Verdict{}, fmt.Errorf("%w: unsupported question type %q", ErrInvalidRequest, req.Type)
	}

	if e.oracleClient == nil {
		return Verdict{
			Expected: fallbackExpected,
			Correct:  answer == fallbackExpected,
			Reason:   fallbackReason,
		}, nil
	}

	text, err := e.oracleClient.Complete(ctx, inference.CompletionRequest{
		SystemPrompt: systemPromptFor(req.Type),
		UserPrompt:   userPromptFor(req.Type, sentence),
		MaxTokens:    120,
		Temperature:  0,
	})
	if err != nil {
		slog.Default().Warn("yes/no oracle call failed, using fallback verdict",
			"type", req.Type,
			"error", err)
		return Verdict{
			Expected: fallbackExpected,
			Correct:  answer == fallbackExpected,
			Reason:   fmt.Sprintf("تعذّر الاتصال بالذكاء الاصطناعي. (%v)", err),
		}, nil
	}

	expected, reason := parseVerdict(text)
	return Verdict{
		Expected: expected,
		Correct:  answer == expected,
		Reason:   reason,
	}, nil
}

// GrammarFeedback asks the oracle to correct a batch of sentences and returns
// its free-form numbered feedback. Unlike the yes/no judgments this feature
// has no deterministic fallback.
func (e *Evaluator) GrammarFeedback(ctx context.Context, sentences []string) (string, error) {
	if len(sentences) == 0 {
		return "", fmt.Errorf("%w: missing sentences", ErrInvalidRequest)
	}
	if e.oracleClient == nil {
		return "", ErrUnconfigured
	}

	var numbered strings.Builder
	for i, s := range sentences {
		fmt.Fprintf(&numbered, "%d. %s\n", i+1, s)
	}

	feedback, err := e.oracleClient.Complete(ctx, inference.CompletionRequest{
		SystemPrompt: "أنت أخصائي لغوي عربي. قدّم تصحيحًا نحويًا وجيزًا لكل جملة، مع سبب مبسّط.",
		UserPrompt: fmt.Sprintf(`صحّح الجمل التالية نحوياً وأعد صياغة كل جملة صحيحة باختصار، ثم اذكر سبب التصحيح باقتضاب.
اكتب النتيجة كقائمة مرقّمة مطابقة لعدد الجمل.

الجمل:
%s`, numbered.String()),
		MaxTokens:   350,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("oracleClient.Complete > %w", err)
	}
	return feedback, nil
}

func systemPromptFor(questionType QuestionType) string {
	if questionType == QuestionTypeSemantics {
		return "أنت أخصائي دلالة عربية. قيّم الملاءمة الزمنية/المنطقية، ثم فسّر بإيجاز."
	}
	return "أنت أخصائي نحو عربي. أجب فقط بـ 'yes' أو 'no' ثم سطر تفسير موجز."
}

func userPromptFor(questionType QuestionType, sentence string) string {
	question := "هل الجملة التالية صحيحة نحويًا بالعربية الفصحى؟"
	if questionType == QuestionTypeSemantics {
		question = "هل الجملة التالية صحيحة معنويًا/منطقيًا؟"
	}
	return fmt.Sprintf(`%s
الجملة: %s

أجب بالتنسيق:
answer: yes|no
reason: سبب موجز
`, question, sentence)
}
