package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

type saveMappingArgs struct {
	MappingConfig *models.MappingConfig `json:"mapping_config"`
	YAML          string                `json:"yaml"`
}

func registerSaveMappingConfigTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"save_mapping_config",
		mcp.WithDescription(
			"Stores a mapping config that turns fetched features into record fields. "+
				"Pass mapping_config as JSON or yaml with one or more configs. "+
				"A target field used by two enabled mappings is rejected.",
		),
		mcp.WithObject("mapping_config", mcp.Description("Optional - mapping config object {id, name, groups}")),
		mcp.WithString("yaml", mcp.Description("Optional - YAML document(s) holding mapping configs")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args saveMappingArgs
		if err := bindArguments(req, &args); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		switch {
		case args.MappingConfig != nil && trimString(args.YAML) != "":
			return NewErrorResult("invalid_parameters", "pass either mapping_config or yaml, not both"), nil
		case args.MappingConfig != nil:
			if err := deps.Mappings.SaveMappingConfig(ctx, args.MappingConfig); err != nil {
				return serviceErrorResult(err)
			}
			return jsonResult(map[string]any{"saved": []string{args.MappingConfig.ID}})
		case trimString(args.YAML) != "":
			configs, err := deps.Mappings.ImportYAML(ctx, strings.NewReader(args.YAML))
			if err != nil {
				return serviceErrorResult(err)
			}
			ids := make([]string, 0, len(configs))
			for _, c := range configs {
				ids = append(ids, c.ID)
			}
			return jsonResult(map[string]any{"saved": ids})
		}
		return NewErrorResult("invalid_parameters", "mapping_config or yaml is required"), nil
	})
}

func registerStartEnrichmentTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"start_enrichment",
		mcp.WithDescription(
			"Applies a mapping config to every record of a completed indexing run's region. "+
				"Reference a stored config by mapping_config_id or pass one inline.",
		),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Completed indexing run UUID")),
		mcp.WithString("mapping_config_id", mcp.Description("Optional - stored mapping config id")),
		mcp.WithObject("mapping_config", mcp.Description("Optional - inline mapping config")),
		executionModeOption(),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, errResult := requireUUID(req, "run_id"); errResult != nil {
			return errResult, nil
		}
		var args services.StartEnrichmentRequest
		if err := bindArguments(req, &args); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		mode, err := services.ParseExecutionMode(string(args.ExecutionMode))
		if err != nil {
			return serviceErrorResult(err)
		}
		args.ExecutionMode = mode

		job, err := deps.Enrichment.StartEnrichment(ctx, args)
		if err != nil {
			return serviceErrorResult(err)
		}
		deps.Logger.Info("Enrichment job started via MCP",
			zap.String("job_id", job.ID.String()),
			zap.String("run_id", job.RunID.String()))
		return jsonResult(job)
	})
}

func registerGetEnrichmentStatusTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"get_enrichment_status",
		mcp.WithDescription("Returns an enrichment job with its record counters and a sample of mapping errors."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Enrichment job UUID")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireUUID(req, "job_id")
		if errResult != nil {
			return errResult, nil
		}
		job, err := deps.Enrichment.GetEnrichmentStatus(ctx, jobID)
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(job)
	})
}

func registerCancelEnrichmentTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"cancel_enrichment",
		mcp.WithDescription("Cancels a running enrichment job. Records already written keep their fields."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Enrichment job UUID")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, errResult := requireUUID(req, "job_id")
		if errResult != nil {
			return errResult, nil
		}
		if err := deps.Enrichment.CancelEnrichment(ctx, jobID); err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(map[string]string{
			"job_id": jobID.String(),
			"status": string(models.EnrichmentStatusCancelled),
		})
	})
}

type clearFieldsArgs struct {
	Region     string   `json:"region"`
	FieldNames []string `json:"field_names"`
}

func registerClearEnrichmentFieldsTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"clear_enrichment_fields",
		mcp.WithDescription(
			"Removes the named enrichment fields and tags from every record in a region. "+
				"Refused while an enrichment job is active.",
		),
		mcp.WithString("region", mcp.Required(), mcp.Description("Region identifier")),
		mcp.WithArray("field_names", mcp.Required(), stringItems, mcp.Description("Target field or tag names to clear")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args clearFieldsArgs
		if err := bindArguments(req, &args); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		n, err := deps.Enrichment.ClearEnrichmentFields(ctx, trimString(args.Region), args.FieldNames)
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(map[string]any{
			"region":          trimString(args.Region),
			"cleared_records": n,
		})
	})
}
