package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Pickup Roster API",
        "description": "Daily after-school pickup roster shared by every front-desk device",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Roster", "description": "Today's pickup roster and status changes"},
        {"name": "Ops", "description": "Health, readiness and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Ops"],
                "summary": "Health check with roster counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/ready": {
            "get": {
                "tags": ["Ops"],
                "summary": "Readiness check (database ping)",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "Database unreachable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Ops"],
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/roster/today": {
            "get": {
                "tags": ["Roster"],
                "summary": "Today's roster",
                "description": "Students with current status, display time and picked-once flag",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RosterSnapshotEnvelope"}}
                }
            }
        },
        "/roster/students/{id}/status": {
            "post": {
                "tags": ["Roster"],
                "summary": "Set a student's status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SetRosterStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "Accepted transition", "schema": {"$ref": "#/definitions/StatusChangeEnvelope"}},
                    "400": {"description": "Malformed payload or unknown status", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Student not on today's roster", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "PICKUP_PERSON_REQUIRED, INVALID_TRANSITION or SKIP_NOT_ELIGIBLE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "PERSISTENCE_FAILURE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/roster/students/{id}/history": {
            "get": {
                "tags": ["Roster"],
                "summary": "Today's transition log for one student",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Log entries, oldest first", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Student not on today's roster", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "PERSISTENCE_FAILURE", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/roster/prepare": {
            "post": {
                "tags": ["Roster"],
                "summary": "Apply today's skipped defaults once per device",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/roster/resync": {
            "post": {
                "tags": ["Roster"],
                "summary": "Reload today's roster from the store",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/RosterSnapshotEnvelope"}}
                }
            }
        },
        "/roster/visibility": {
            "post": {
                "tags": ["Roster"],
                "summary": "Report roster view visibility",
                "description": "Visibility is tracked per X-Device-ID. Polling pauses once every reporting device is hidden; becoming visible triggers an immediate resync",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RosterVisibilityRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/roster/export": {
            "get": {
                "tags": ["Roster"],
                "summary": "Download today's roster sheet",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"], "default": "csv"}
                ],
                "responses": {
                    "200": {"description": "Rendered sheet", "schema": {"type": "file"}},
                    "400": {"description": "Unknown format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/roster/ws": {
            "get": {
                "tags": ["Roster"],
                "summary": "Stream roster changes over a websocket",
                "description": "Sends a snapshot envelope first, then one change envelope per local state change",
                "responses": {
                    "101": {"description": "Switching Protocols"}
                }
            }
        }
    },
    "definitions": {
        "SetRosterStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["not_picked", "picked", "arrived", "checked", "skipped"]},
                "pickup_person": {"type": "string"},
                "override": {"type": "string"},
                "pickup_time": {"type": "string", "example": "15:10"},
                "source": {"type": "string"}
            },
            "required": ["status"]
        },
        "RosterVisibilityRequest": {
            "type": "object",
            "properties": {
                "visible": {"type": "boolean"}
            },
            "required": ["visible"]
        },
        "Student": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "full_name": {"type": "string"},
                "school": {"type": "string"},
                "room": {"type": "string"},
                "approved_pickups": {"type": "array", "items": {"type": "string"}},
                "active": {"type": "boolean"},
                "program": {"type": "string"},
                "year": {"type": "string"}
            }
        },
        "RosterRow": {
            "type": "object",
            "properties": {
                "student": {"$ref": "#/definitions/Student"},
                "status": {"type": "string"},
                "display_at": {"type": "string", "format": "date-time"},
                "picked_once": {"type": "boolean"}
            }
        },
        "RosterSnapshot": {
            "type": "object",
            "properties": {
                "roster_date": {"type": "string", "format": "date"},
                "rows": {"type": "array", "items": {"$ref": "#/definitions/RosterRow"}},
                "synced_at": {"type": "string", "format": "date-time"}
            }
        },
        "StatusChange": {
            "type": "object",
            "properties": {
                "roster_date": {"type": "string", "format": "date"},
                "student_id": {"type": "string"},
                "previous": {"type": "string"},
                "status": {"type": "string"},
                "display_at": {"type": "string", "format": "date-time"},
                "write_path": {"type": "string", "enum": ["procedure", "fallback"]},
                "picked_once": {"type": "boolean"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        },
        "RosterSnapshotEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/RosterSnapshot"}
            }
        },
        "StatusChangeEnvelope": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/StatusChange"},
                "meta": {"type": "object", "properties": {"direction": {"type": "string"}}}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
