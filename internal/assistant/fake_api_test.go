package assistant

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// Route names used for request counting and failure injection.
const (
	routeListAssistants  = "GET /v1/assistants"
	routeCreateAssistant = "POST /v1/assistants"
	routeCreateThread    = "POST /v1/threads"
	routeDeleteThread    = "DELETE /v1/threads/{thread}"
	routeCreateMessage   = "POST /v1/threads/{thread}/messages"
	routeListMessages    = "GET /v1/threads/{thread}/messages"
	routeCreateRun       = "POST /v1/threads/{thread}/runs"
	routeRetrieveRun     = "GET /v1/threads/{thread}/runs/{run}"
	routeSubmitOutputs   = "POST /v1/threads/{thread}/runs/{run}/submit_tool_outputs"
	routeCancelRun       = "POST /v1/threads/{thread}/runs/{run}/cancel"
)

// runStep is one scripted status a run reports on a retrieve.
type runStep struct {
	Status    string
	ToolCalls []fakeToolCall
	LastError string
}

type fakeToolCall struct {
	ID        string
	Name      string
	Arguments string
}

type fakeAssistant struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type fakeMessage struct {
	ID      string
	Role    string
	Content string
	NoText  bool
}

type fakeRun struct {
	ID          string
	ThreadID    string
	AssistantID string
	script      []runStep // copied from fakeAPI.script at creation
	pos         int
	replied     bool
	status      string // last status reported
	cancelled   bool
}

type submittedOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type failRule struct {
	status int
	skip   int // successful requests allowed before failing
	times  int // when positive, only this many requests fail
	body   string
}

// fakeAPI is an in-memory stand-in for the Assistants v2 API.
type fakeAPI struct {
	t   *testing.T
	srv *httptest.Server

	mu                sync.Mutex
	assistants        []fakeAssistant
	assistantPageSize int
	threads           map[string][]fakeMessage
	runs              map[string]*fakeRun
	script            []runStep
	reply             string
	nextID            int
	counts            map[string]int
	submitted         [][]submittedOutput
	failures          map[string]failRule
	overlaps          int // runs created while another run on the thread was active
	lastAuth          string
	lastBeta          string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		t:                 t,
		assistantPageSize: 100,
		threads:           make(map[string][]fakeMessage),
		runs:              make(map[string]*fakeRun),
		script:            []runStep{{Status: "completed"}},
		reply:             "Hello from the assistant.",
		counts:            make(map[string]int),
		failures:          make(map[string]failRule),
	}

	mux := http.NewServeMux()
	f.handle(mux, routeListAssistants, f.listAssistants)
	f.handle(mux, routeCreateAssistant, f.createAssistant)
	f.handle(mux, routeCreateThread, f.createThread)
	f.handle(mux, routeDeleteThread, f.deleteThread)
	f.handle(mux, routeCreateMessage, f.createMessage)
	f.handle(mux, routeListMessages, f.listMessages)
	f.handle(mux, routeCreateRun, f.createRun)
	f.handle(mux, routeRetrieveRun, f.retrieveRun)
	f.handle(mux, routeSubmitOutputs, f.submitOutputs)
	f.handle(mux, routeCancelRun, f.cancelRun)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// transport returns an OpenAITransport pointed at the fake with retries off.
func (f *fakeAPI) transport() *OpenAITransport {
	f.t.Helper()
	tr, err := NewOpenAITransport(TransportConfig{
		APIKey:     "test-key",
		BaseURL:    f.srv.URL + "/v1",
		HTTPClient: f.srv.Client(),
		MaxRetries: -1,
	})
	require.NoError(f.t, err)
	return tr
}

func (f *fakeAPI) handle(mux *http.ServeMux, route string, h http.HandlerFunc) {
	mux.HandleFunc(route, func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.counts[route]++
		n := f.counts[route]
		f.lastAuth = r.Header.Get("Authorization")
		f.lastBeta = r.Header.Get("OpenAI-Beta")
		rule, failing := f.failures[route]
		f.mu.Unlock()

		if failing && n > rule.skip && (rule.times == 0 || n <= rule.skip+rule.times) {
			if rule.body != "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(rule.status)
				_, _ = w.Write([]byte(rule.body))
				return
			}
			writeAPIError(w, rule.status, "injected failure")
			return
		}
		h(w, r)
	})
}

// fail makes route answer status after skip successful requests.
func (f *fakeAPI) fail(route string, status, skip int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = failRule{status: status, skip: skip}
}

// failFirst makes the first times requests to route answer status.
func (f *fakeAPI) failFirst(route string, status, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = failRule{status: status, times: times}
}

// failWithBody makes every request to route answer status with a raw body.
func (f *fakeAPI) failWithBody(route string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = failRule{status: status, body: body}
}

func (f *fakeAPI) clearFailure(route string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, route)
}

func (f *fakeAPI) setScript(steps ...runStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = steps
}

func (f *fakeAPI) addAssistant(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID("asst")
	f.assistants = append(f.assistants, fakeAssistant{ID: id, Name: name, Model: "gpt-4o"})
	return id
}

func (f *fakeAPI) addThread(msgs ...fakeMessage) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID("thread")
	for i := range msgs {
		if msgs[i].ID == "" {
			msgs[i].ID = f.newID("msg")
		}
	}
	f.threads[id] = msgs
	return id
}

func (f *fakeAPI) count(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[route]
}

func (f *fakeAPI) totalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.counts {
		total += n
	}
	return total
}

func (f *fakeAPI) overlapCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlaps
}

func (f *fakeAPI) runStatus(runID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[runID]; ok {
		return run.status
	}
	return ""
}

func (f *fakeAPI) submissions() [][]submittedOutput {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]submittedOutput, len(f.submitted))
	copy(out, f.submitted)
	return out
}

func (f *fakeAPI) messages(threadID string) []fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeMessage(nil), f.threads[threadID]...)
}

func (f *fakeAPI) newID(prefix string) string {
	f.nextID++
	return prefix + "_" + strconv.Itoa(f.nextID)
}

func (f *fakeAPI) listAssistants(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	start := 0
	if after := r.URL.Query().Get("after"); after != "" {
		for i, a := range f.assistants {
			if a.ID == after {
				start = i + 1
			}
		}
	}
	end := min(start+f.assistantPageSize, len(f.assistants))
	page := append([]fakeAssistant{}, f.assistants[start:end]...)
	resp := map[string]any{
		"object":   "list",
		"data":     page,
		"has_more": end < len(f.assistants),
	}
	if len(page) > 0 {
		resp["first_id"] = page[0].ID
		resp["last_id"] = page[len(page)-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeAPI) createAssistant(w http.ResponseWriter, r *http.Request) {
	var req fakeAssistant
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	a := req
	a.ID = f.newID("asst")
	f.assistants = append(f.assistants, a)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"id": a.ID, "object": "assistant", "name": a.Name, "model": a.Model, "tools": []any{},
	})
}

func (f *fakeAPI) createThread(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	id := f.newID("thread")
	f.threads[id] = nil
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "thread"})
}

func (f *fakeAPI) deleteThread(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("thread")
	f.mu.Lock()
	_, ok := f.threads[id]
	delete(f.threads, id)
	f.mu.Unlock()
	if !ok {
		writeAPIError(w, http.StatusNotFound, "No thread found with id '"+id+"'.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "thread.deleted", "deleted": true})
}

func (f *fakeAPI) createMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("thread")
	var req struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	if _, ok := f.threads[id]; !ok {
		f.mu.Unlock()
		writeAPIError(w, http.StatusNotFound, "No thread found with id '"+id+"'.")
		return
	}
	m := fakeMessage{ID: f.newID("msg"), Role: req.Role, Content: req.Content}
	f.threads[id] = append(f.threads[id], m)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, messageJSON(id, m))
}

func (f *fakeAPI) listMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("thread")
	q := r.URL.Query()

	f.mu.Lock()
	msgs, ok := f.threads[id]
	msgs = append([]fakeMessage(nil), msgs...)
	f.mu.Unlock()
	if !ok {
		writeAPIError(w, http.StatusNotFound, "No thread found with id '"+id+"'.")
		return
	}

	if q.Get("order") != "asc" {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	start := 0
	if after := q.Get("after"); after != "" {
		for i, m := range msgs {
			if m.ID == after {
				start = i + 1
			}
		}
	}
	limit := 20
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}
	end := min(start+limit, len(msgs))

	data := make([]any, 0, end-start)
	for _, m := range msgs[start:end] {
		data = append(data, messageJSON(id, m))
	}
	resp := map[string]any{"object": "list", "data": data, "has_more": end < len(msgs)}
	if end > start {
		resp["first_id"] = msgs[start].ID
		resp["last_id"] = msgs[end-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeAPI) createRun(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")
	var req struct {
		AssistantID string `json:"assistant_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	for _, other := range f.runs {
		if other.ThreadID == threadID && !RunStatus(other.status).Terminal() {
			f.overlaps++
		}
	}
	run := &fakeRun{
		ID: f.newID("run"), ThreadID: threadID, AssistantID: req.AssistantID,
		script: append([]runStep(nil), f.script...), status: "queued",
	}
	f.runs[run.ID] = run
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"id": run.ID, "object": "thread.run", "thread_id": threadID,
		"assistant_id": req.AssistantID, "status": "queued",
	})
}

func (f *fakeAPI) retrieveRun(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	run, ok := f.runs[r.PathValue("run")]
	if !ok {
		f.mu.Unlock()
		writeAPIError(w, http.StatusNotFound, "No run found.")
		return
	}
	var step runStep
	switch {
	case run.cancelled:
		step = runStep{Status: "cancelling"}
		if run.status == "cancelling" || run.status == "cancelled" {
			step.Status = "cancelled"
		}
	default:
		step = run.script[min(run.pos, len(run.script)-1)]
		run.pos++
	}
	run.status = step.Status
	if step.Status == "completed" && !run.replied && f.reply != "" {
		run.replied = true
		f.threads[run.ThreadID] = append(f.threads[run.ThreadID],
			fakeMessage{ID: f.newID("msg"), Role: "assistant", Content: f.reply})
	}
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, runJSON(run, step))
}

func (f *fakeAPI) submitOutputs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToolOutputs []submittedOutput `json:"tool_outputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	run, ok := f.runs[r.PathValue("run")]
	f.submitted = append(f.submitted, req.ToolOutputs)
	f.mu.Unlock()
	if !ok {
		writeAPIError(w, http.StatusNotFound, "No run found.")
		return
	}
	writeJSON(w, http.StatusOK, runJSON(run, runStep{Status: "queued"}))
}

func (f *fakeAPI) cancelRun(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	run, ok := f.runs[r.PathValue("run")]
	if ok && RunStatus(run.status).Terminal() {
		f.mu.Unlock()
		writeAPIError(w, http.StatusBadRequest, "Cannot cancel run with status '"+run.status+"'.")
		return
	}
	if ok {
		run.cancelled = true
	}
	f.mu.Unlock()
	if !ok {
		writeAPIError(w, http.StatusNotFound, "No run found.")
		return
	}
	writeJSON(w, http.StatusOK, runJSON(run, runStep{Status: "cancelling"}))
}

func messageJSON(threadID string, m fakeMessage) map[string]any {
	content := []any{}
	if m.NoText {
		content = append(content, map[string]any{
			"type": "image_file", "image_file": map[string]any{"file_id": "file_1"},
		})
	} else {
		content = append(content, map[string]any{
			"type": "text", "text": map[string]any{"value": m.Content, "annotations": []any{}},
		})
	}
	return map[string]any{
		"id": m.ID, "object": "thread.message", "thread_id": threadID,
		"role": m.Role, "content": content,
	}
}

func runJSON(run *fakeRun, step runStep) map[string]any {
	resp := map[string]any{
		"id": run.ID, "object": "thread.run", "thread_id": run.ThreadID,
		"assistant_id": run.AssistantID, "status": step.Status,
	}
	if len(step.ToolCalls) > 0 {
		calls := make([]any, 0, len(step.ToolCalls))
		for _, tc := range step.ToolCalls {
			calls = append(calls, map[string]any{
				"id":       tc.ID,
				"type":     "function",
				"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments},
			})
		}
		resp["required_action"] = map[string]any{
			"type":                "submit_tool_outputs",
			"submit_tool_outputs": map[string]any{"tool_calls": calls},
		}
	}
	if step.LastError != "" {
		resp["last_error"] = map[string]any{"code": "server_error", "message": step.LastError}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "invalid_request_error",
			"code":    fmt.Sprintf("http_%d", status),
		},
	})
}
