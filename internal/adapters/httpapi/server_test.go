package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memorybus"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/memstore"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/adapters/workflow"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/allocation"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/app"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/domain"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/engine"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/httpjson"
	"github.com/rmasciarella/Vulcan-MES-sub002/internal/ports"
)

var monday = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	machines := memstore.NewMachineStore(
		domain.Machine{ID: "m1", Capabilities: []string{"weld"}, Status: domain.MachineAvailable, Capacity: 1},
	)
	operators := memstore.NewOperatorStore(
		domain.Operator{ID: "o1", Status: domain.OperatorAvailable, HourlyRate: 30, Skills: []domain.SkillProficiency{{SkillType: "welding", Level: 2}}},
	)
	jobs := memstore.NewJobStore()
	bus := memorybus.New(zerolog.Nop())
	t.Cleanup(bus.Close)

	rules := domain.DefaultRules()
	eng := engine.New(engine.NewSearchSolver(zerolog.Nop()),
		engine.Config{TimeBudget: 2 * time.Second, Workers: 1, Seed: 1, MaxIterations: 50, Phase2Tolerance: 0.05}, zerolog.Nop())
	scheduling := app.NewSchedulingService(app.SchedulingDeps{
		Jobs: jobs, Machines: machines, Operators: operators, Schedules: memstore.NewScheduleStore(),
		Events: bus, Workflow: workflow.New(jobs, zerolog.Nop()), Engine: eng,
		Allocator: allocation.NewAllocator(machines, operators, rules.Calendar, allocation.DefaultPreferences(), zerolog.Nop()),
		Rules:     rules,
	}, zerolog.Nop())
	return NewServer(zerolog.Nop(), scheduling, app.NewJobService(jobs, bus), bus, 10*time.Second).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) httpjson.ErrorBody {
	t.Helper()
	var body httpjson.ErrorBody
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body: %v (%s)", err, rr.Body.String())
	}
	return body
}

const jobBody = `{
	"id": "j1", "jobNumber": "J-1", "priority": 2,
	"tasks": [
		{"sequence": 10, "taskType": "weld", "requiredOperators": 1,
		 "machineOptions": [{"machineId": "m1", "processingMinutes": 60, "setupMinutes": 10, "attended": true}],
		 "skills": [{"skillType": "welding", "minimumLevel": 1}]},
		{"sequence": 20, "taskType": "weld", "requiredOperators": 1, "predecessors": [10],
		 "machineOptions": [{"machineId": "m1", "processingMinutes": 30, "setupMinutes": 0, "attended": true}]}
	]
}`

func TestHealthAndVersion(t *testing.T) {
	h := newTestServer(t)
	if rr := do(t, h, http.MethodGet, "/api/v1/health", ""); rr.Code != http.StatusOK {
		t.Fatalf("health: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/version", ""); rr.Code != http.StatusOK {
		t.Fatalf("version: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/openapi.json", ""); rr.Code != http.StatusOK {
		t.Fatalf("openapi: %d", rr.Code)
	}
}

func TestSolverLimitEndpoints(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/api/v1/health", "")
	var health healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Solver == nil || health.Solver.Limit != 1 {
		t.Fatalf("health must report the solver limit, got %+v", health.Solver)
	}

	rr = do(t, h, http.MethodPut, "/api/v1/solver", `{"maxConcurrentSolves":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put solver: %d %s", rr.Code, rr.Body.String())
	}
	var st app.LimiterStats
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if st.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", st.Limit)
	}

	if rr := do(t, h, http.MethodPut, "/api/v1/solver", `{"maxConcurrentSolves":0}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("zero limit: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/solver", ""); rr.Code != http.StatusOK {
		t.Fatalf("get solver: %d", rr.Code)
	}
}

func TestScheduleEndpoints_CreateGetPublish(t *testing.T) {
	h := newTestServer(t)

	if rr := do(t, h, http.MethodPost, "/api/v1/jobs", jobBody); rr.Code != http.StatusCreated {
		t.Fatalf("create job: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/jobs/j1/release", ""); rr.Code != http.StatusOK {
		t.Fatalf("release job: %d %s", rr.Code, rr.Body.String())
	}

	if rr := do(t, h, http.MethodGet, "/api/v1/jobs/j1/analysis", ""); rr.Code != http.StatusOK {
		t.Fatalf("analysis: %d %s", rr.Code, rr.Body.String())
	}

	req := `{"name":"week 1","jobIds":["j1"],"startTime":"2024-01-01T07:00:00Z","endTime":"2024-01-08T07:00:00Z","createdBy":"planner"}`
	rr := do(t, h, http.MethodPost, "/api/v1/schedules", req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create schedule: %d %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Schedule struct {
			ID          string                       `json:"id"`
			Status      string                       `json:"status"`
			Assignments map[string]domain.Assignment `json:"assignments"`
		} `json:"schedule"`
		Violations []string `json:"violations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Schedule.Status != "DRAFT" || len(res.Schedule.Assignments) != 2 || len(res.Violations) != 0 {
		t.Fatalf("unexpected result: %s", rr.Body.String())
	}
	if a := res.Schedule.Assignments["j1-10"]; !a.Window.Start.Equal(monday) {
		t.Fatalf("first task should start at %v, got %v", monday, a.Window.Start)
	}

	id := res.Schedule.ID
	if rr := do(t, h, http.MethodGet, "/api/v1/schedules/"+id, ""); rr.Code != http.StatusOK {
		t.Fatalf("get: %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/schedules/"+id+"/conflicts", ""); rr.Code != http.StatusOK || bytes.TrimSpace(rr.Body.Bytes())[0] != '[' {
		t.Fatalf("conflicts: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/schedules/"+id+"/conflicts?from=yesterday", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad conflicts window: want 400, got %d", rr.Code)
	}

	// Retirer une tâche rend le planning non publiable.
	if rr := do(t, h, http.MethodPatch, "/api/v1/schedules/"+id, `{"remove":["j1-20"]}`); rr.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/v1/schedules/"+id+"/publish", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("publish with violations: want 422, got %d %s", rr.Code, rr.Body.String())
	}
	if body := decodeError(t, rr); body.Code != "publish_blocked" || len(body.Details) == 0 {
		t.Fatalf("publish error body: %+v", body)
	}

	if rr := do(t, h, http.MethodPost, "/api/v1/schedules/"+id+"/cancel", ""); rr.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPatch, "/api/v1/schedules/"+id, `{"name":"too late"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("patch cancelled: want 409, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestScheduleEndpoints_Errors(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/api/v1/schedules/ghost", "")
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Code != "schedule_not_found" {
		t.Fatalf("missing schedule: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/v1/schedules", `{"jobIds":[],"startTime":"2024-01-01T07:00:00Z","endTime":"2024-01-02T07:00:00Z"}`)
	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Code != "invalid_request" {
		t.Fatalf("empty jobs: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/schedules", `{"bogus":true}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: want 400, got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/api/v1/jobs/ghost/tasks/t1/complete", "")
	if rr.Code != http.StatusNotFound || decodeError(t, rr).Code != "job_not_found" {
		t.Fatalf("missing job: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodPost, "/api/v1/jobs/ghost/reschedule", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("reschedule without start: want 400, got %d", rr.Code)
	}
}

func TestWriteError_StatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&app.ValidationError{Field: "x", Reason: "bad"}, http.StatusBadRequest, "invalid_request"},
		{&app.ScheduleModificationError{ScheduleID: "s1", Status: domain.SchedulePublished}, http.StatusConflict, "schedule_locked"},
		{&app.InvalidStateError{ScheduleID: "s1", From: domain.ScheduleDraft, Action: "execute"}, http.StatusConflict, "invalid_state"},
		{ports.ErrConflict, http.StatusConflict, "conflict"},
		{ports.ErrNotFound, http.StatusNotFound, "not_found"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: want %d, got %d", tc.err, tc.status, rr.Code)
		}
		if got := decodeError(t, rr).Code; got != tc.code {
			t.Fatalf("%v: want code %s, got %s", tc.err, tc.code, got)
		}
	}
}

func TestParseTopics(t *testing.T) {
	kinds, err := parseTopics("schedule.created, task.assigned")
	if err != nil {
		t.Fatalf("parseTopics: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != domain.EventScheduleCreated || kinds[1] != domain.EventTaskAssigned {
		t.Fatalf("kinds: %v", kinds)
	}
	if kinds, _ := parseTopics(""); kinds != nil {
		t.Fatalf("empty filter should subscribe to all")
	}
	if _, err := parseTopics("schedule.exploded"); err == nil {
		t.Fatalf("unknown topic accepted")
	}
}
