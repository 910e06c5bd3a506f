package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "Ticket Intake API",
    "description": "Drafts, ticket submission and AI follow-up questions for the helpdesk form",
    "version": "1.0"
  },
  "basePath": "/",
  "paths": {
    "/health": {
      "get": {"tags": ["health"], "summary": "Liveness", "responses": {"200": {"description": "ok"}}}
    },
    "/drafts": {
      "post": {
        "tags": ["drafts"],
        "summary": "Start or reset a draft",
        "consumes": ["application/json"],
        "produces": ["application/json"],
        "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/StartDraftRequest"}}],
        "responses": {"200": {"description": "draft started"}, "400": {"description": "invalid user id"}}
      }
    },
    "/drafts/{userId}": {
      "get": {
        "tags": ["drafts"],
        "summary": "Active draft for a user",
        "parameters": [{"in": "path", "name": "userId", "type": "integer", "required": true}],
        "responses": {"200": {"description": "draft"}, "404": {"description": "no active draft"}}
      }
    },
    "/tickets": {
      "get": {
        "tags": ["tickets"],
        "summary": "Most recent tickets",
        "parameters": [{"in": "query", "name": "limit", "type": "integer"}],
        "responses": {"200": {"description": "newest first, at most 100"}}
      },
      "post": {
        "tags": ["tickets"],
        "summary": "Submit a ticket without AI",
        "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/TicketRequest"}}],
        "responses": {"201": {"description": "created"}, "400": {"description": "invalid input or no active draft"}}
      }
    },
    "/ai/followups": {
      "post": {
        "tags": ["ai"],
        "summary": "Ask for follow-up questions",
        "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/TicketRequest"}}],
        "responses": {"200": {"description": "questions or needsFollowup=false"}, "400": {"description": "invalid input"}, "502": {"description": "model failure"}}
      }
    },
    "/ai/finalize": {
      "post": {
        "tags": ["ai"],
        "summary": "Finalize a ticket from follow-up answers",
        "parameters": [{"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/FinalizeRequest"}}],
        "responses": {"201": {"description": "created"}, "400": {"description": "invalid input or no active draft"}, "502": {"description": "model failure"}}
      }
    }
  },
  "definitions": {
    "StartDraftRequest": {
      "type": "object",
      "required": ["userId"],
      "properties": {"userId": {"type": "integer"}, "partition": {"type": "integer"}}
    },
    "TicketRequest": {
      "type": "object",
      "required": ["userId", "title", "description"],
      "properties": {"userId": {"type": "integer"}, "title": {"type": "string"}, "description": {"type": "string"}}
    },
    "FinalizeRequest": {
      "type": "object",
      "required": ["userId", "answers"],
      "properties": {"userId": {"type": "integer"}, "answers": {"type": "object"}}
    }
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
