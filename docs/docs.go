// Package docs holds the OpenAPI document served under /swagger
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/ports": {
            "get": {
                "description": "Enumerate serial ports merged with their live state",
                "produces": ["application/json"],
                "tags": ["Ports"],
                "summary": "List ports",
                "responses": {
                    "200": {"description": "Ports listed", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "500": {"description": "Enumeration failed", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/ports/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Ports"],
                "summary": "Port statistics",
                "responses": {
                    "200": {"description": "Port statistics", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/sessions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "List sessions",
                "responses": {
                    "200": {"description": "Sessions listed", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/sessions/{session_id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Get session",
                "parameters": [
                    {"type": "string", "description": "Session ID", "name": "session_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Session found", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/settings": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Get settings",
                "responses": {
                    "200": {"description": "Settings loaded", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "500": {"description": "Settings could not be loaded", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/settings/recent": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Save recent port options",
                "parameters": [
                    {"description": "Port options", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/model.PortOptions"}}
                ],
                "responses": {
                    "200": {"description": "Options saved", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid options", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Delete recent port options",
                "parameters": [
                    {"type": "string", "description": "Device path", "name": "path", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "Options removed", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Missing path", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        },
        "/settings/commands": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Add command to history",
                "parameters": [
                    {"description": "Command", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handler.AddCommandRequest"}}
                ],
                "responses": {
                    "200": {"description": "Command saved", "schema": {"$ref": "#/definitions/utils.APIResponse"}},
                    "400": {"description": "Invalid request", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            },
            "delete": {
                "produces": ["application/json"],
                "tags": ["Settings"],
                "summary": "Delete command from history",
                "parameters": [
                    {"type": "string", "description": "Command", "name": "command", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "Command removed", "schema": {"$ref": "#/definitions/utils.APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handler.AddCommandRequest": {
            "type": "object",
            "required": ["command"],
            "properties": {
                "command": {"type": "string"}
            }
        },
        "model.SerialOptions": {
            "type": "object",
            "properties": {
                "baudRate": {"type": "integer"},
                "dataBits": {"type": "integer"},
                "stopBits": {"type": "integer"},
                "parity": {"type": "string", "enum": ["none", "even", "mark", "odd", "space"]},
                "rtscts": {"type": "boolean"},
                "xon": {"type": "boolean"},
                "xoff": {"type": "boolean"},
                "xany": {"type": "boolean"},
                "highWaterMark": {"type": "integer"}
            }
        },
        "model.ReaderOptions": {
            "type": "object",
            "properties": {
                "delimiter": {"type": "string"},
                "encoding": {"type": "string", "enum": ["utf8", "ascii", "utf16le", "ucs2", "base64", "binary", "hex", "latin1"]},
                "includeDelimiter": {"type": "boolean"}
            }
        },
        "model.PortOptions": {
            "type": "object",
            "properties": {
                "path": {"type": "string"},
                "options": {"$ref": "#/definitions/model.SerialOptions"},
                "reader": {"$ref": "#/definitions/model.ReaderOptions"}
            }
        },
        "utils.APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "details": {"type": "string"}
            }
        },
        "utils.APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "message": {"type": "string"},
                "data": {},
                "error": {"$ref": "#/definitions/utils.APIError"},
                "timestamp": {"type": "string"},
                "request_id": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8085",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Serial Mux API",
	Description:      "Serial port multiplexer for host log viewers",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
