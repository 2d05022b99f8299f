package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/stackspot/stkai-go/internal/config"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"stkai://config",
			"Resolved Configuration",
			mcplib.WithResourceDescription("Every SDK option with its resolved value and originating layer"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleConfigResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"stkai://presets",
			"Rate Limiting Presets",
			mcplib.WithResourceDescription("Curated adaptive rate limiting presets accepted by the SDK"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePresetsResource,
	)
}

func (s *Server) handleConfigResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Config == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"config reader not configured"}`,
			},
		}, nil
	}
	data, err := json.Marshal(explainDoc(s.deps.Config.Explain()))
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handlePresetsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.Marshal([]string{
		config.PresetConservative,
		config.PresetBalanced,
		config.PresetOptimistic,
	})
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// explainDoc renders Explain fields with stable lowercase keys.
func explainDoc(fields []config.Field) []map[string]string {
	doc := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		doc = append(doc, map[string]string{
			"path":   f.Path,
			"value":  f.Value,
			"source": string(f.Source),
		})
	}
	return doc
}
