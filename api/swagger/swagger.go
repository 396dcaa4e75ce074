package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "University Enrollment API",
        "description": "Group enrollment and change-request backend",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Authentication", "description": "Login and session info"},
        {"name": "Groups", "description": "Course section management"},
        {"name": "Enrollments", "description": "Roster operations"},
        {"name": "ChangeRequests", "description": "Group change workflow"},
        {"name": "Calendar", "description": "Submission windows"},
        {"name": "Reports", "description": "Demand aggregates and exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Authentication"],
                "summary": "Authenticate user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Authentication"],
                "summary": "Current user info",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups": {
            "get": {
                "tags": ["Groups"],
                "summary": "List groups",
                "parameters": [
                    {"name": "courseId", "in": "query", "type": "string"},
                    {"name": "termId", "in": "query", "type": "string"},
                    {"name": "facultyId", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Groups"],
                "summary": "Create group",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateGroupRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/groups/{id}": {
            "get": {
                "tags": ["Groups"],
                "summary": "Get group with roster and slots",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Groups"],
                "summary": "Delete an empty group",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "412": {"description": "Roster not empty"}
                }
            }
        },
        "/groups/{id}/queue": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Pending requests targeting a group, in priority order",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "List enrollments",
                "parameters": [
                    {"name": "studentId", "in": "query", "type": "string"},
                    {"name": "groupId", "in": "query", "type": "string"},
                    {"name": "termId", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Enrollments"],
                "summary": "Enroll student into a group",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Full, duplicate or schedule conflict"}
                }
            },
            "delete": {
                "tags": ["Enrollments"],
                "summary": "Drop student from a group",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DropRequest"}}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "409": {"description": "Not enrolled"}
                }
            }
        },
        "/change-requests": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "List change requests in priority order",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "targetGroupId", "in": "query", "type": "string"},
                    {"name": "termId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Submit a change request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitChangeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Submission window closed"}
                }
            }
        },
        "/change-requests/{id}": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Get change request detail",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/change-requests/{id}/approve": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Approve a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Decision recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided"}
                }
            }
        },
        "/change-requests/{id}/reject": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Reject a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "Decision recorded", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided"}
                }
            }
        },
        "/change-requests/{id}/cancel": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Cancel an own pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already decided"}
                }
            }
        },
        "/tracking/{trackingNumber}": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Look up a request by tracking number",
                "parameters": [
                    {"name": "trackingNumber", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/calendar/windows": {
            "post": {
                "tags": ["Calendar"],
                "summary": "Open a submission window",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmissionWindow"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/calendar/windows/status": {
            "get": {
                "tags": ["Calendar"],
                "summary": "Submission window status for a term",
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/demand": {
            "get": {
                "tags": ["Reports"],
                "summary": "Per-group request demand",
                "parameters": [
                    {"name": "termId", "in": "query", "required": true, "type": "string"},
                    {"name": "facultyId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/generate": {
            "post": {
                "tags": ["Reports"],
                "summary": "Queue an export job",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/jobs/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/jobs/{id}/download": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished export",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "File stream"},
                    "403": {"description": "Invalid or expired token"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "CreateGroupRequest": {
            "type": "object",
            "required": ["courseId", "termId", "code"],
            "properties": {
                "courseId": {"type": "string"},
                "termId": {"type": "string"},
                "code": {"type": "string"},
                "capacity": {"type": "integer"},
                "instructorId": {"type": "string"},
                "slots": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/SlotPayload"}
                }
            }
        },
        "SlotPayload": {
            "type": "object",
            "required": ["day"],
            "properties": {
                "day": {"type": "string"},
                "startMinute": {"type": "integer"},
                "endMinute": {"type": "integer"}
            }
        },
        "EnrollRequest": {
            "type": "object",
            "required": ["studentId", "groupId", "termId"],
            "properties": {
                "studentId": {"type": "string"},
                "groupId": {"type": "string"},
                "termId": {"type": "string"}
            }
        },
        "DropRequest": {
            "type": "object",
            "required": ["studentId", "groupId"],
            "properties": {
                "studentId": {"type": "string"},
                "groupId": {"type": "string"}
            }
        },
        "SubmitChangeRequest": {
            "type": "object",
            "required": ["termId", "sourceCourseId", "sourceGroupId", "targetCourseId", "targetGroupId", "justification"],
            "properties": {
                "termId": {"type": "string"},
                "sourceCourseId": {"type": "string"},
                "sourceGroupId": {"type": "string"},
                "targetCourseId": {"type": "string"},
                "targetGroupId": {"type": "string"},
                "justification": {"type": "string"}
            }
        },
        "RejectChangeRequest": {
            "type": "object",
            "required": ["reason"],
            "properties": {
                "reason": {"type": "string"}
            }
        },
        "SubmissionWindow": {
            "type": "object",
            "required": ["termId", "opensAt", "closesAt"],
            "properties": {
                "termId": {"type": "string"},
                "opensAt": {"type": "string", "format": "date-time"},
                "closesAt": {"type": "string", "format": "date-time"}
            }
        },
        "ReportRequest": {
            "type": "object",
            "required": ["type", "termId", "format"],
            "properties": {
                "type": {"type": "string", "enum": ["group_demand", "request_queue"]},
                "termId": {"type": "string"},
                "facultyId": {"type": "string"},
                "targetGroupId": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            }
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
                "status": {"type": "integer"}
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
