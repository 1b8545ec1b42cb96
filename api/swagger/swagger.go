package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "TutorHive Scheduling API",
        "description": "Recurring routine scheduling, conflict detection and multi-party agreement for the tutoring marketplace",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "tags": [
        {"name": "Routines", "description": "Weekly recurring plans"},
        {"name": "Schedules", "description": "Concrete class occurrences"},
        {"name": "ChangeRequests", "description": "Multi-party agreement workflows"},
        {"name": "Notifications", "description": "Per-user notification feed"},
        {"name": "Export", "description": "Timetable downloads and feed links"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check with metrics snapshot",
                "responses": {
                    "200": {"description": "Ready"}
                }
            }
        },
        "/routines": {
            "get": {
                "tags": ["Routines"],
                "summary": "List the caller's routines",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "course_id", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Routines"],
                "summary": "Create a weekly routine",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateRoutineRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate membership", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/routines/{id}": {
            "get": {
                "tags": ["Routines"],
                "summary": "Get routine detail",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/routines/{id}/respond": {
            "post": {
                "tags": ["Routines"],
                "summary": "Accept or decline a routine invitation",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RespondRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/routines/{id}/status": {
            "put": {
                "tags": ["Routines"],
                "summary": "Pause, resume or archive a routine",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RoutineStatusRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/routines/{id}/change-requests": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Propose a weekly slot change",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WeeklyChangeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Open request exists", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules": {
            "get": {
                "tags": ["Schedules"],
                "summary": "List the caller's classes",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "type", "in": "query", "type": "string"},
                    {"name": "routine_id", "in": "query", "type": "string"},
                    {"name": "from", "in": "query", "type": "string"},
                    {"name": "to", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Schedules"],
                "summary": "Create a one-off class",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateScheduleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Time conflict or demo cap", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}": {
            "get": {
                "tags": ["Schedules"],
                "summary": "Get class detail",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}/respond": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Accept or decline a proposed class",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RespondRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Conflict at acceptance time", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}/cancel": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Cancel a class, or withdraw from it as a student",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}/complete": {
            "post": {
                "tags": ["Schedules"],
                "summary": "Mark a demo class as completed",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Not a scheduled demo", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/{id}/change-requests": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Propose a new time for a class",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/OneOffChange"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/schedules/export": {
            "get": {
                "tags": ["Export"],
                "summary": "Download the caller's timetable",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string"},
                    {"name": "weeks", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "Rendered timetable"}
                }
            }
        },
        "/schedules/export/link": {
            "post": {
                "tags": ["Export"],
                "summary": "Create a signed timetable feed link",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/change-requests": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "List change requests visible to the caller",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/change-requests/{id}/respond": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Accept or decline a change request",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RespondRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already settled or conflict at apply time", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications": {
            "get": {
                "tags": ["Notifications"],
                "summary": "List the caller's notifications",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/notifications/{id}/read": {
            "post": {
                "tags": ["Notifications"],
                "summary": "Mark a notification as read",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        }
    },
    "definitions": {
        "SlotRequest": {
            "type": "object",
            "properties": {
                "weekday": {"type": "integer", "description": "0=Sunday .. 6=Saturday"},
                "hour": {"type": "integer"},
                "minute": {"type": "integer"},
                "duration_minutes": {"type": "integer"}
            },
            "required": ["duration_minutes"]
        },
        "CreateRoutineRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"},
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "timezone": {"type": "string", "description": "IANA zone, e.g. Asia/Dhaka"},
                "slots": {"type": "array", "items": {"$ref": "#/definitions/SlotRequest"}},
                "require_acceptance": {"type": "boolean"}
            },
            "required": ["course_id", "student_ids", "timezone", "slots"]
        },
        "CreateScheduleRequest": {
            "type": "object",
            "properties": {
                "course_id": {"type": "string"},
                "student_ids": {"type": "array", "items": {"type": "string"}},
                "starts_at": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer"},
                "type": {"type": "string", "enum": ["demo", "regular"]},
                "require_acceptance": {"type": "boolean"}
            },
            "required": ["course_id", "student_ids", "starts_at", "duration_minutes", "type"]
        },
        "RespondRequest": {
            "type": "object",
            "properties": {
                "accept": {"type": "boolean"}
            }
        },
        "RoutineStatusRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["active", "paused", "archived"]}
            },
            "required": ["status"]
        },
        "WeeklyChangeRequest": {
            "type": "object",
            "properties": {
                "op": {"type": "string", "enum": ["add", "update", "remove"]},
                "target": {"$ref": "#/definitions/SlotKey"},
                "new": {"$ref": "#/definitions/SlotSpec"},
                "scope": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["op"]
        },
        "SlotKey": {
            "type": "object",
            "properties": {
                "weekday": {"type": "integer"},
                "hour": {"type": "integer"},
                "minute": {"type": "integer"}
            }
        },
        "SlotSpec": {
            "type": "object",
            "properties": {
                "weekday": {"type": "integer"},
                "hour": {"type": "integer"},
                "minute": {"type": "integer"},
                "duration_minutes": {"type": "integer"}
            }
        },
        "OneOffChange": {
            "type": "object",
            "properties": {
                "proposed_start": {"type": "string", "format": "date-time"},
                "duration_minutes": {"type": "integer"}
            },
            "required": ["proposed_start"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
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
