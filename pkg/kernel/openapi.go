package kernel

import (
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/castellan-ai/castellan/internal/core/domain"
)

// buildOpenAPIDoc describes the HTTP surface. Tool parameter schemas are
// published under components so UI clients can render argument forms.
func buildOpenAPIDoc(tools []domain.Tool) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       "Castellan API",
			Version:     "1.0.0",
			Description: "Personal assistant with a human-approval gate on every side effect.",
		},
		Paths: openapi3.NewPaths(),
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{},
		},
	}

	chatBody := openapi3.NewObjectSchema().
		WithProperty("message", openapi3.NewStringSchema())
	chatBody.Required = []string{"message"}

	doc.Paths.Set("/v1/chat", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "chat",
			Summary:     "Send a message to the assistant",
			RequestBody: &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithJSONSchema(chatBody).WithRequired(true),
			},
			Responses: jsonResponses("Assistant reply"),
		},
	})
	doc.Paths.Set("/v1/chat/reset", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "resetChat",
			Summary:     "Drop the conversation history",
			Responses:   jsonResponses("Reset acknowledged"),
		},
	})

	doc.Paths.Set("/v1/actions", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listActions",
			Summary:     "List draft actions awaiting review",
			Parameters: openapi3.Parameters{
				{Value: openapi3.NewQueryParameter("status").
					WithSchema(openapi3.NewStringSchema().
						WithEnum("pending", "approved", "rejected", "modified", "completed", "failed"))},
				{Value: openapi3.NewQueryParameter("agent").
					WithSchema(openapi3.NewStringSchema())},
			},
			Responses: jsonResponses("Draft actions"),
		},
	})
	doc.Paths.Set("/v1/actions/summary", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "actionSummary",
			Summary:     "Per-status census of the queue",
			Responses:   jsonResponses("Queue summary"),
		},
	})
	doc.Paths.Set("/v1/actions/clear-terminal", &openapi3.PathItem{
		Post: &openapi3.Operation{
			OperationID: "clearTerminal",
			Summary:     "Remove rejected, completed and failed actions",
			Responses:   jsonResponses("Removed count"),
		},
	})

	idParam := openapi3.Parameters{
		{Value: openapi3.NewPathParameter("id").WithSchema(openapi3.NewStringSchema())},
	}
	doc.Paths.Set("/v1/actions/{id}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "getAction",
			Summary:     "Fetch one draft action",
			Parameters:  idParam,
			Responses:   jsonResponses("Draft action"),
		},
		Delete: &openapi3.Operation{
			OperationID: "deleteAction",
			Summary:     "Delete a draft action",
			Parameters:  idParam,
			Responses:   jsonResponses("Deletion acknowledged"),
		},
	})

	modifyBody := openapi3.NewObjectSchema().
		WithProperty("description", openapi3.NewStringSchema()).
		WithProperty("params", openapi3.NewObjectSchema())

	decisions := []struct {
		verb    string
		summary string
		body    *openapi3.Schema
	}{
		{"approve", "Approve and execute a draft action", nil},
		{"reject", "Reject a draft action", nil},
		{"modify", "Edit a draft action; it returns to the approval queue", modifyBody},
	}
	for _, d := range decisions {
		op := &openapi3.Operation{
			OperationID: d.verb + "Action",
			Summary:     d.summary,
			Parameters:  idParam,
			Responses:   jsonResponses("Decision outcome"),
		}
		if d.body != nil {
			op.RequestBody = &openapi3.RequestBodyRef{
				Value: openapi3.NewRequestBody().WithJSONSchema(d.body),
			}
		}
		doc.Paths.Set(fmt.Sprintf("/v1/actions/{id}/%s", d.verb), &openapi3.PathItem{Post: op})
	}

	doc.Paths.Set("/v1/actions/{id}/events", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "streamActionEvents",
			Summary:     "SSE stream of one action's lifecycle events",
			Parameters:  idParam,
			Responses:   jsonResponses("text/event-stream"),
		},
	})
	doc.Paths.Set("/v1/events", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "streamEvents",
			Summary:     "SSE stream of all queue events",
			Responses:   jsonResponses("text/event-stream"),
		},
	})
	doc.Paths.Set("/v1/tools", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "listTools",
			Summary:     "Tool catalog exposed to the reasoning engine",
			Responses:   jsonResponses("Tool catalog"),
		},
	})
	doc.Paths.Set("/v1/health", &openapi3.PathItem{
		Get: &openapi3.Operation{
			OperationID: "health",
			Summary:     "Engine and connector health",
			Responses:   jsonResponses("Health report"),
		},
	})

	for _, tool := range tools {
		doc.Components.Schemas["tool_"+tool.Name] = openapi3.NewSchemaRef("", toolSchema(tool))
	}
	return doc
}

func jsonResponses(description string) *openapi3.Responses {
	return openapi3.NewResponses(openapi3.WithStatus(200, &openapi3.ResponseRef{
		Value: openapi3.NewResponse().WithDescription(description),
	}))
}

// toolSchema lifts a tool's JSON-schema-shaped parameter contract into a
// typed schema.
func toolSchema(tool domain.Tool) *openapi3.Schema {
	schema := openapi3.NewObjectSchema()
	schema.Description = tool.Description
	schema.Required = tool.Parameters.Required
	for name, def := range tool.Parameters.Properties {
		prop := openapi3.NewSchema()
		if m, ok := def.(map[string]interface{}); ok {
			if t, ok := m["type"].(string); ok {
				prop.Type = &openapi3.Types{t}
			}
			if d, ok := m["description"].(string); ok {
				prop.Description = d
			}
		}
		schema.WithProperty(name, prop)
	}
	return schema
}
