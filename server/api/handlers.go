package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/guild/agent"
	"github.com/GoCodeAlone/guild/comms"
	"github.com/GoCodeAlone/guild/company"
	"github.com/GoCodeAlone/guild/task"
)

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Org     Organization
	Bus     comms.Bus
	Logger  *slog.Logger
	Version string
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/{id}", h.getAgent)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("GET /api/tasks/{id}/events", h.taskEvents)
	mux.HandleFunc("POST /api/tasks/{id}/resolve", h.resolveTask)

	mux.HandleFunc("GET /api/questions", h.listQuestions)
	mux.HandleFunc("POST /api/questions/{id}/answer", h.answerQuestion)

	mux.HandleFunc("GET /api/messages", h.listMessages)

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound), errors.Is(err, company.ErrUnknownQuestion):
		return http.StatusNotFound
	case errors.Is(err, company.ErrUnknownAgent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, task.ErrTerminal), errors.Is(err, company.ErrNotHuman), errors.Is(err, task.ErrDependenciesPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// --- Agent handlers ---

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	agents := h.Org.Agents()
	if agents == nil {
		agents = []agent.Info{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handlers) getAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, info := range h.Org.Agents() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeError(w, http.StatusNotFound, "agent not found")
}

// --- Task handlers ---

type createTaskRequest struct {
	AssigneeID    string `json:"assignee_id"`
	Description   string `json:"description"`
	OutputChannel string `json:"output_channel"`
}

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{
		AssigneeID: q.Get("assignee_id"),
		ParentID:   q.Get("parent_id"),
	}
	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status: "+s)
			return
		}
		filter.Status = &st
	}

	tasks := h.Org.Tasks(filter)
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n >= 0 && n < len(tasks) {
			tasks = tasks[:n]
		}
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.AssigneeID) == "" || strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "assignee_id and description are required")
		return
	}
	t, err := h.Org.Submit(req.AssigneeID, req.Description, req.OutputChannel)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Org.Task(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) taskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Org.Events(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if events == nil {
		events = []task.StatusEntry{}
	}
	writeJSON(w, http.StatusOK, events)
}

type resolveRequest struct {
	Completed bool   `json:"completed"`
	Note      string `json:"note"`
}

func (h *Handlers) resolveTask(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	t, err := h.Org.Resolve(r.PathValue("id"), req.Completed, req.Note)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// --- Operator question handlers ---

func (h *Handlers) listQuestions(w http.ResponseWriter, _ *http.Request) {
	qs := h.Org.Questions()
	if qs == nil {
		qs = []company.Question{}
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *Handlers) answerQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Answer) == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}
	if err := h.Org.AnswerQuestion(r.Context(), r.PathValue("id"), req.Answer); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Message handlers ---

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = comms.Wildcard
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}

	msgs, err := h.Bus.History(topic, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []*comms.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// --- Status / version ---

func (h *Handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.Version,
		"company": h.Org.Status(),
	})
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
