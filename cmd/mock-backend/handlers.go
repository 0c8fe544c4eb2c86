package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	costHeader = "X-Consumption-Units"

	// Every AI answer costs a fixed generation overhead on top of the
	// input size.
	generationOverhead = 200
	charsPerUnit       = 4
)

func newMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/questions/generate", handleGenerate)
	mux.HandleFunc("POST /api/evaluate", handleEvaluate)
	mux.HandleFunc("POST /api/feedback", handleFeedback)
	mux.HandleFunc("POST /api/sessions", handleCreateSession)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// --- Request types ---

type generateRequest struct {
	InterviewType string   `json:"interviewType"`
	Skills        []string `json:"skills"`
}

type evaluateRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type qa struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type feedbackRequest struct {
	Questions     []qa   `json:"questions"`
	InterviewType string `json:"interviewType"`
}

// --- Response types ---

type evaluation struct {
	Score       int      `json:"score"`
	Strengths   []string `json:"strengths"`
	Improvement []string `json:"improvements"`
}

type feedback struct {
	OverallScore int          `json:"overallScore"`
	Summary      string       `json:"summary"`
	PerQuestion  []evaluation `json:"perQuestion"`
}

// --- Handlers ---

func handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.InterviewType == "" {
		writeError(w, http.StatusBadRequest, "Interview type is required")
		return
	}

	skills := req.Skills
	if len(skills) == 0 {
		skills = []string{"problem solving"}
	}
	questions := make([]string, 0, len(skills)+1)
	questions = append(questions, fmt.Sprintf("Tell me about a recent %s project you are proud of.", req.InterviewType))
	for _, s := range skills {
		questions = append(questions, fmt.Sprintf("How have you applied %s in production?", s))
	}

	units := consumption(req.InterviewType + strings.Join(skills, ""))
	writeJSON(w, units, map[string]any{"questions": questions})
}

func handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Question == "" || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "Question and answer are required")
		return
	}
	writeJSON(w, consumption(req.Question+req.Answer), evaluate(req.Answer))
}

func handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Questions) == 0 || req.InterviewType == "" {
		writeError(w, http.StatusBadRequest, "Questions and interview type are required")
		return
	}

	var (
		input strings.Builder
		total int
	)
	out := feedback{}
	for _, q := range req.Questions {
		input.WriteString(q.Question)
		input.WriteString(q.Answer)
		e := evaluate(q.Answer)
		total += e.Score
		out.PerQuestion = append(out.PerQuestion, e)
	}
	out.OverallScore = total / len(req.Questions)
	out.Summary = fmt.Sprintf("Solid %s interview across %d questions.", req.InterviewType, len(req.Questions))
	writeJSON(w, consumption(input.String()), out)
}

// handleCreateSession is not an AI call and reports no consumption.
func handleCreateSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"id":      uuid.NewString(),
		"subject": r.Header.Get("X-Quota-Subject"),
	})
}

// --- Helpers ---

// evaluate scores an answer by length so results are reproducible.
func evaluate(answer string) evaluation {
	score := min(10, 1+utf8.RuneCountInString(answer)/20)
	e := evaluation{Score: score}
	if score >= 5 {
		e.Strengths = []string{"Detailed explanation"}
	} else {
		e.Improvement = []string{"Expand on the reasoning"}
	}
	return e
}

func consumption(input string) int64 {
	return int64(generationOverhead + (utf8.RuneCountInString(input)+charsPerUnit-1)/charsPerUnit)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, units int64, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(costHeader, strconv.FormatInt(units, 10))
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
