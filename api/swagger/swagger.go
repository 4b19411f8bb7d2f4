package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Calibration Certificate API",
        "description": "Multi-level verification and BSrE e-signature workflow for calibration certificates",
        "version": "1.0.0"
    },
    "basePath": "/api",
    "schemes": [
        "http",
        "https"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Certificates", "description": "Certificate drafts and lifecycle"},
        {"name": "Verification", "description": "Verifikator decisions and level-3 signing"},
        {"name": "Public", "description": "Unauthenticated certificate verification"}
    ],
    "paths": {
        "/certificates": {
            "get": {
                "tags": ["Certificates"],
                "summary": "List certificates",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "status", "in": "query", "type": "string", "description": "Comma separated statuses"},
                    {"name": "q", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Certificates"],
                "summary": "Create certificate draft",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCertificateRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Get certificate",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "patch": {
                "tags": ["Certificates"],
                "summary": "Revise certificate draft",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateCertificateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Certificate locked or stale", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/send-to-verifiers": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Send certificate to verifiers",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Blocked by rejection", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Incomplete assignment", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/reject": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Reject certificate at a verification level",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RejectRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/generate-pdf": {
            "post": {
                "tags": ["Certificates"],
                "summary": "Queue signed certificate PDF rendering",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Certificate not signed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/pdf": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Get signed PDF download link",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/history": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Verification ledger across versions",
                "security": [{"BearerAuth": []}],
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "integer"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificates/{id}/audit": {
            "get": {
                "tags": ["Certificates"],
                "summary": "Audit trail (admin)",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificate-verification": {
            "post": {
                "tags": ["Verification"],
                "summary": "Record a verification decision",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerificationDecisionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Sequence violation or duplicate", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificate-verification/pending": {
            "get": {
                "tags": ["Verification"],
                "summary": "Certificates awaiting the current user",
                "security": [{"BearerAuth": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificate-verification/sign-level-3": {
            "post": {
                "tags": ["Verification"],
                "summary": "Sign certificate through BSrE",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SignLevel3Request"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid passphrase", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Signing provider error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/certificate-verification/verify-signature": {
            "post": {
                "tags": ["Verification"],
                "summary": "Re-check a stored signature with BSrE",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifySignatureRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/verify-certificate": {
            "get": {
                "tags": ["Public"],
                "summary": "Public certificate verification",
                "parameters": [
                    {"name": "no", "in": "query", "type": "string"},
                    {"name": "id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/verify-certificate/qr": {
            "get": {
                "tags": ["Public"],
                "summary": "QR code pointing at the verification page",
                "produces": ["image/png"],
                "parameters": [
                    {"name": "id", "in": "query", "required": true, "type": "string"},
                    {"name": "size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "PNG image"}
                }
            }
        },
        "/certificates/pdf/download": {
            "get": {
                "tags": ["Public"],
                "summary": "Download signed certificate PDF",
                "produces": ["application/pdf"],
                "parameters": [{"name": "token", "in": "query", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "PDF document"},
                    "403": {"description": "Link expired", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateCertificateRequest": {
            "type": "object",
            "required": ["no_certificate", "no_order", "no_identification", "issue_date"],
            "properties": {
                "no_certificate": {"type": "string"},
                "no_order": {"type": "string"},
                "no_identification": {"type": "string"},
                "issue_date": {"type": "string", "format": "date-time"},
                "station": {"type": "integer"},
                "instrument": {"type": "integer"},
                "station_address": {"type": "string"},
                "results": {"type": "object"},
                "verifikator_1": {"type": "string"},
                "verifikator_2": {"type": "string"},
                "authorized_by": {"type": "string"}
            }
        },
        "RejectRequest": {
            "type": "object",
            "required": ["verification_level", "rejection_reason"],
            "properties": {
                "verification_level": {"type": "integer", "enum": [1, 2]},
                "rejection_reason": {"type": "string"},
                "rejection_destination": {"type": "string", "enum": ["creator", "verifikator_1"]}
            }
        },
        "VerificationDecisionRequest": {
            "type": "object",
            "required": ["certificate_id", "verification_level", "status"],
            "properties": {
                "certificate_id": {"type": "integer"},
                "verification_level": {"type": "integer", "enum": [1, 2, 3]},
                "status": {"type": "string", "enum": ["approved", "rejected"]},
                "notes": {"type": "string"},
                "rejection_reason": {"type": "string"},
                "rejection_destination": {"type": "string", "enum": ["creator", "verifikator_1"]},
                "approval_notes": {"type": "string"},
                "certificate_version": {"type": "integer"},
                "passphrase": {"type": "string"}
            }
        },
        "SignLevel3Request": {
            "type": "object",
            "required": ["documentId", "userPassphrase"],
            "properties": {
                "documentId": {"type": "integer"},
                "userPassphrase": {"type": "string"}
            }
        },
        "VerifySignatureRequest": {
            "type": "object",
            "required": ["documentId"],
            "properties": {
                "documentId": {"type": "integer"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "limit": {"type": "integer"},
                "offset": {"type": "integer"},
                "count": {"type": "integer"}
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
