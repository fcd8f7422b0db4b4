package httpapi

import (
	"net/http"

	"github.com/rmasciarella/Vulcan-MES-sub002/internal/httpjson"
)

// handleOpenAPI renvoie une description OpenAPI de l'API de planification.
// Les schémas détaillés des agrégats restent ouverts (additionalProperties).
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	jsonOK := func(description, schemaRef string) map[string]any {
		return map[string]any{
			"description": description,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}
	jsonErr := map[string]any{
		"description": "Error",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"$ref": "#/components/schemas/Error"},
			},
		},
	}
	body := func(schemaRef string) map[string]any {
		return map[string]any{
			"required": true,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": schemaRef},
				},
			},
		}
	}
	object := func(description string) map[string]any {
		return map[string]any{"type": "object", "description": description, "additionalProperties": true}
	}
	// action décrit un POST sans corps sur une ressource identifiée.
	action := func(okRef string, errs ...string) map[string]any {
		responses := map[string]any{"200": jsonOK("OK", okRef), "500": jsonErr}
		for _, code := range errs {
			responses[code] = jsonErr
		}
		return map[string]any{"post": map[string]any{"responses": responses}}
	}

	spec := map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Vulcan MES scheduling API",
			"version": "v1",
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"OpenAPIDocument": object("Ce document."),
				"Error": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"error":   map[string]any{"type": "string"},
						"code":    map[string]any{"type": "string", "enum": []any{"invalid_request", "schedule_not_found", "job_not_found", "schedule_locked", "publish_blocked", "invalid_state", "optimization_failed", "resource_unavailable", "not_found", "conflict", "internal"}},
						"details": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []any{"error"},
				},
				"SchedulingRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":               map[string]any{"type": "string"},
						"jobIds":             map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "minItems": 1},
						"startTime":          map[string]any{"type": "string", "format": "date-time"},
						"endTime":            map[string]any{"type": "string", "format": "date-time"},
						"optimizationParams": object("Surcharges du moteur: timeBudget (ns), workers, seed, phase2Tolerance, skipPhase2."),
						"constraints":        object("Surcharges des zones WIP et séquences critiques."),
						"createdBy":          map[string]any{"type": "string"},
					},
					"required":             []any{"jobIds", "startTime", "endTime"},
					"additionalProperties": false,
				},
				"SchedulingResult": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"schedule":           map[string]any{"$ref": "#/components/schemas/Schedule"},
						"optimizationResult": object("Statut du solveur (OPTIMAL, FEASIBLE, INFEASIBLE, UNKNOWN, MODEL_INVALID), objectif, borne, coût opérateur."),
						"violations":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"metrics":            object("Indicateurs du planning."),
						"recommendations":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
				},
				"Schedule":             object("Planning: statut, horizon, affectations par tâche, version."),
				"ScheduleList":         map[string]any{"type": "array", "items": map[string]any{"$ref": "#/components/schemas/Schedule"}},
				"ScheduleChanges":      object("name, upsert (affectations), remove (ids de tâches)."),
				"ScheduleStatusReport": object("Avancement par job."),
				"ExecutionResult":      object("Planning activé et état du workflow par job."),
				"ViolationReport":      object("violations et valid."),
				"ConflictList":         map[string]any{"type": "array", "items": object("Conflit de ressource.")},
				"Job":                  object("Job et ses tâches."),
				"JobList":              map[string]any{"type": "array", "items": map[string]any{"$ref": "#/components/schemas/Job"}},
				"CreateJobRequest":     object("jobNumber, priority (1-4), quantity, dueDate, tasks[] (sequence, machineOptions, skills, predecessors par séquence)."),
				"RescheduleRequest": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"newStart":   map[string]any{"type": "string", "format": "date-time"},
						"scheduleId": map[string]any{"type": "string"},
					},
					"required": []any{"newStart"},
				},
				"RescheduleResult": object("Nouvelles allocations et violations."),
				"JobAnalysis":      object("Suites critiques, chemin critique, parallélisations possibles, score de criticité."),
			},
		},
		"paths": map[string]any{
			"/api/v1/health": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}},
			},
			"/api/v1/version": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "OK"}}},
			},
			"/api/v1/openapi.json": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/OpenAPIDocument")}},
			},
			"/api/v1/events": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "SSE"}, "400": jsonErr}},
			},
			"/api/v1/solver": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "Solver load"}}},
				"put": map[string]any{"responses": map[string]any{"200": map[string]any{"description": "Solver load"}, "400": jsonErr}},
			},
			"/api/v1/events/ws": map[string]any{
				"get": map[string]any{"responses": map[string]any{"101": map[string]any{"description": "WebSocket"}, "400": jsonErr}},
			},
			"/api/v1/schedules": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/ScheduleList"), "500": jsonErr}},
				"post": map[string]any{
					"requestBody": body("#/components/schemas/SchedulingRequest"),
					"responses": map[string]any{
						"201": jsonOK("Created", "#/components/schemas/SchedulingResult"),
						"400": jsonErr,
						"404": jsonErr,
						"500": jsonErr,
					},
				},
			},
			"/api/v1/schedules/{id}": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/Schedule"), "404": jsonErr, "500": jsonErr}},
				"patch": map[string]any{
					"requestBody": body("#/components/schemas/ScheduleChanges"),
					"responses": map[string]any{
						"200": jsonOK("OK", "#/components/schemas/SchedulingResult"),
						"400": jsonErr,
						"404": jsonErr,
						"409": jsonErr,
						"500": jsonErr,
					},
				},
			},
			"/api/v1/schedules/{id}/violations": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/ViolationReport"), "404": jsonErr}},
			},
			"/api/v1/schedules/{id}/status": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/ScheduleStatusReport"), "404": jsonErr}},
			},
			"/api/v1/schedules/{id}/conflicts": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/ConflictList"), "400": jsonErr, "404": jsonErr}},
			},
			"/api/v1/schedules/{id}/publish":  action("#/components/schemas/Schedule", "404", "409", "422"),
			"/api/v1/schedules/{id}/execute":  action("#/components/schemas/ExecutionResult", "404", "409"),
			"/api/v1/schedules/{id}/cancel":   action("#/components/schemas/Schedule", "404", "409"),
			"/api/v1/schedules/{id}/complete": action("#/components/schemas/Schedule", "404", "409"),
			"/api/v1/jobs": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/JobList"), "500": jsonErr}},
				"post": map[string]any{
					"requestBody": body("#/components/schemas/CreateJobRequest"),
					"responses": map[string]any{
						"201": jsonOK("Created", "#/components/schemas/Job"),
						"400": jsonErr,
						"500": jsonErr,
					},
				},
			},
			"/api/v1/jobs/{id}": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/Job"), "404": jsonErr, "500": jsonErr}},
			},
			"/api/v1/jobs/queue": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/JobList"), "500": jsonErr}},
			},
			"/api/v1/jobs/{id}/analysis": map[string]any{
				"get": map[string]any{"responses": map[string]any{"200": jsonOK("OK", "#/components/schemas/JobAnalysis"), "404": jsonErr}},
			},
			"/api/v1/jobs/{id}/hold":    action("#/components/schemas/Job", "400", "404"),
			"/api/v1/jobs/{id}/release": action("#/components/schemas/Job", "400", "404"),
			"/api/v1/jobs/{id}/cancel":  action("#/components/schemas/Job", "400", "404"),
			"/api/v1/jobs/{id}/reschedule": map[string]any{
				"post": map[string]any{
					"requestBody": body("#/components/schemas/RescheduleRequest"),
					"responses": map[string]any{
						"200": jsonOK("OK", "#/components/schemas/RescheduleResult"),
						"400": jsonErr,
						"404": jsonErr,
						"409": jsonErr,
						"422": jsonErr,
					},
				},
			},
			"/api/v1/jobs/{id}/tasks/{taskID}/start":    action("#/components/schemas/Job", "400", "404"),
			"/api/v1/jobs/{id}/tasks/{taskID}/complete": action("#/components/schemas/Job", "400", "404"),
		},
	}

	httpjson.Write(w, http.StatusOK, spec)
}
