// Package docs は /swagger で配信する API 定義（Swagger 2.0）
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"Bearer": []}],
    "paths": {
        "/auth/register": {
            "post": {
                "tags": ["auth"], "summary": "self-register a USER account", "security": [],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/Credentials"}}],
                "responses": {"201": {"description": "registered"}, "400": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["auth"], "summary": "issue a bearer token", "security": [],
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/Credentials"}}],
                "responses": {"200": {"description": "token", "schema": {"$ref": "#/definitions/Token"}}, "401": {"$ref": "#/responses/Error"}}
            }
        },
        "/users": {
            "get": {
                "tags": ["auth"], "summary": "list accounts (ADMIN)",
                "responses": {"200": {"description": "accounts"}, "403": {"$ref": "#/responses/Error"}}
            },
            "post": {
                "tags": ["auth"], "summary": "create an account with a role (ADMIN)",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/Credentials"}}],
                "responses": {"201": {"description": "registered"}, "403": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}
            }
        },
        "/users/{id}": {
            "get": {
                "tags": ["auth"], "summary": "get an account (ADMIN)",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "account"}, "404": {"$ref": "#/responses/Error"}}
            },
            "put": {
                "tags": ["auth"], "summary": "change role, reset password or disable an account (ADMIN)",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "body", "required": true, "schema": {"type": "object", "properties": {
                        "role": {"type": "string", "enum": ["USER", "ADMIN"]},
                        "password": {"type": "string"},
                        "is_disabled": {"type": "boolean"}
                    }}}
                ],
                "responses": {"200": {"description": "account"}, "400": {"$ref": "#/responses/Error"}, "404": {"$ref": "#/responses/Error"}}
            },
            "delete": {
                "tags": ["auth"], "summary": "delete an account, borrow history is kept (ADMIN)",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"204": {"description": "deleted"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/books": {
            "get": {
                "tags": ["books"], "summary": "list books",
                "parameters": [
                    {"in": "query", "name": "title", "type": "string"},
                    {"in": "query", "name": "category", "type": "string"},
                    {"in": "query", "name": "available", "type": "boolean"}
                ],
                "responses": {"200": {"description": "books", "schema": {"$ref": "#/definitions/BookList"}}}
            },
            "post": {
                "tags": ["books"], "summary": "create a book (ADMIN)",
                "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BookRequest"}}],
                "responses": {"201": {"description": "created", "schema": {"$ref": "#/definitions/Book"}}, "400": {"$ref": "#/responses/Error"}, "403": {"$ref": "#/responses/Error"}}
            }
        },
        "/books/{id}": {
            "get": {
                "tags": ["books"], "summary": "get a book",
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"200": {"description": "book", "schema": {"$ref": "#/definitions/Book"}}, "404": {"$ref": "#/responses/Error"}}
            },
            "put": {
                "tags": ["books"], "summary": "update a book, availability is derived (ADMIN)",
                "parameters": [{"$ref": "#/parameters/id"}, {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BookRequest"}}],
                "responses": {"200": {"description": "book", "schema": {"$ref": "#/definitions/Book"}}, "404": {"$ref": "#/responses/Error"}}
            },
            "delete": {
                "tags": ["books"], "summary": "delete a book (ADMIN)",
                "parameters": [{"$ref": "#/parameters/id"}, {"in": "query", "name": "cascade", "type": "boolean"}],
                "responses": {"204": {"description": "deleted"}, "404": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}
            }
        },
        "/borrows": {
            "get": {
                "tags": ["borrows"], "summary": "list all borrows (ADMIN)",
                "parameters": [
                    {"in": "query", "name": "open", "type": "boolean"},
                    {"in": "query", "name": "overdue", "type": "boolean"},
                    {"in": "query", "name": "user_id", "type": "string"},
                    {"in": "query", "name": "book_id", "type": "integer"}
                ],
                "responses": {"200": {"description": "borrows", "schema": {"$ref": "#/definitions/BorrowList"}}, "403": {"$ref": "#/responses/Error"}}
            },
            "post": {
                "tags": ["borrows"], "summary": "borrow a book (USER)",
                "parameters": [
                    {"in": "header", "name": "Idempotency-Key", "type": "string"},
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/BorrowRequest"}}
                ],
                "responses": {"201": {"description": "borrow", "schema": {"$ref": "#/definitions/Borrow"}}, "404": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}
            }
        },
        "/borrows/mine": {
            "get": {
                "tags": ["borrows"], "summary": "list the caller's borrows",
                "responses": {"200": {"description": "borrows", "schema": {"$ref": "#/definitions/BorrowList"}}}
            }
        },
        "/borrows/{id}": {
            "get": {
                "tags": ["borrows"], "summary": "get a borrow by id or ulid (owner or ADMIN)",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "borrow", "schema": {"$ref": "#/definitions/Borrow"}}, "403": {"$ref": "#/responses/Error"}, "404": {"$ref": "#/responses/Error"}}
            },
            "delete": {
                "tags": ["borrows"], "summary": "delete a borrow record (ADMIN)",
                "parameters": [{"$ref": "#/parameters/id"}],
                "responses": {"204": {"description": "deleted"}, "404": {"$ref": "#/responses/Error"}}
            }
        },
        "/borrows/{id}/return": {
            "post": {
                "tags": ["borrows"], "summary": "return a borrowed book (owner)",
                "parameters": [{"$ref": "#/parameters/id"}, {"in": "header", "name": "Idempotency-Key", "type": "string"}],
                "responses": {"200": {"description": "closed borrow", "schema": {"$ref": "#/definitions/Borrow"}}, "403": {"$ref": "#/responses/Error"}, "409": {"$ref": "#/responses/Error"}}
            }
        }
    },
    "parameters": {
        "id": {"in": "path", "name": "id", "type": "integer", "format": "int64", "required": true}
    },
    "responses": {
        "Error": {"description": "error", "schema": {"$ref": "#/definitions/Error"}}
    },
    "definitions": {
        "Credentials": {
            "type": "object", "required": ["id", "password"],
            "properties": {"id": {"type": "string"}, "password": {"type": "string"}, "role": {"type": "string", "enum": ["USER", "ADMIN"]}}
        },
        "Token": {"type": "object", "properties": {"token": {"type": "string"}, "message": {"type": "string"}}},
        "BookRequest": {
            "type": "object", "required": ["title"],
            "properties": {
                "title": {"type": "string"}, "author": {"type": "string"}, "category": {"type": "string"},
                "rent_per_day": {"type": "string", "example": "1.50"}, "available": {"type": "boolean"}
            }
        },
        "Book": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"}, "title": {"type": "string"}, "author": {"type": "string"}, "category": {"type": "string"},
                "rent_per_day": {"type": "string"}, "available": {"type": "boolean"}
            }
        },
        "BookList": {"type": "object", "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/Book"}}, "total": {"type": "integer"}}},
        "BorrowRequest": {
            "type": "object", "required": ["book_id", "days"],
            "properties": {"book_id": {"type": "integer"}, "days": {"type": "integer", "minimum": 1}}
        },
        "Borrow": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"}, "borrow_ulid": {"type": "string"}, "book_id": {"type": "integer"}, "user_id": {"type": "string"},
                "borrow_date": {"type": "string", "format": "date"}, "due_date": {"type": "string", "format": "date"},
                "return_date": {"type": "string", "format": "date"}, "penalty": {"type": "string"}, "returned": {"type": "boolean"}
            }
        },
        "BorrowList": {"type": "object", "properties": {"items": {"type": "array", "items": {"$ref": "#/definitions/Borrow"}}, "total": {"type": "integer"}}},
        "Error": {
            "type": "object",
            "properties": {
                "error": {
                    "type": "object",
                    "properties": {
                        "code": {"type": "string", "enum": ["INVALID_ARGUMENT", "UNAUTHENTICATED", "FORBIDDEN", "NOT_FOUND", "CONFLICT", "UNAVAILABLE", "ALREADY_RETURNED", "INTERNAL"]},
                        "message": {"type": "string"}
                    }
                }
            }
        }
    }
}`

// SwaggerInfo は main から Host などを上書きできる
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "LIB backend API",
	Description:      "Book catalog and borrow ledger.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
