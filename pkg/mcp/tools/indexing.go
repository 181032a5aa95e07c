package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/geo"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/services"
)

const bboxDescription = "Bounding box as {min_lon, min_lat, max_lon, max_lat} or [min_lon, min_lat, max_lon, max_lat]"

var stringItems = mcp.Items(map[string]any{"type": "string"})

func executionModeOption() mcp.ToolOption {
	return mcp.WithString(
		"execution_mode",
		mcp.Description("Optional - 'async' (default) returns immediately; 'sync' waits until the work settles"),
	)
}

func registerResolveRegionTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"resolve_region",
		mcp.WithDescription(
			"Computes the bounding box of a region from the coordinates stored in its records. "+
				"Records without a parseable coordinate are skipped.",
		),
		mcp.WithString("region", mcp.Required(), mcp.Description("Region identifier")),
		mcp.WithString("geo_field", mcp.Required(), mcp.Description("Record field holding the coordinate")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		region, err := req.RequireString("region")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		geoField, err := req.RequireString("geo_field")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		bounds, err := deps.Indexing.ResolveRegion(ctx, trimString(region), trimString(geoField))
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(bounds)
	})
}

type densityArgs struct {
	Region    string           `json:"region"`
	GeoField  string           `json:"geo_field"`
	BBox      *geo.BoundingBox `json:"bbox"`
	GridTiles int              `json:"grid_tiles"`
}

func registerComputeDensityTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"compute_density",
		mcp.WithDescription(
			"Counts record coordinates per cell of a uniform grid over a bounding box. "+
				"Use it to choose grid_tiles or quadtree thresholds before indexing.",
		),
		mcp.WithString("region", mcp.Required(), mcp.Description("Region identifier")),
		mcp.WithString("geo_field", mcp.Required(), mcp.Description("Record field holding the coordinate")),
		mcp.WithObject("bbox", mcp.Required(), mcp.Description(bboxDescription)),
		mcp.WithNumber("grid_tiles", mcp.Description("Optional - tiles per axis (defaults to the configured density grid)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args densityArgs
		if err := bindArguments(req, &args); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		if args.BBox == nil {
			return NewErrorResult("invalid_parameters", "bbox is required"), nil
		}

		result, err := deps.Indexing.ComputeDensity(ctx, trimString(args.Region), trimString(args.GeoField), *args.BBox, args.GridTiles)
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(result)
	})
}

func registerStartIndexingTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"start_indexing",
		mcp.WithDescription(
			"Partitions a region into cells and fetches map features for every cell. "+
				"Pass grid_tiles for a uniform grid or quadtree for density-adaptive cells. "+
				"Only one run per region may be active.",
		),
		mcp.WithString("region", mcp.Required(), mcp.Description("Region identifier")),
		mcp.WithString("geo_field", mcp.Required(), mcp.Description("Record field holding the coordinate")),
		mcp.WithArray("categories", mcp.Required(), stringItems,
			mcp.Description("Feature categories as 'key' or 'key=value' (e.g., ['amenity', 'highway=primary'])")),
		mcp.WithObject("bbox", mcp.Description("Optional - "+bboxDescription+"; resolved from records when omitted")),
		mcp.WithNumber("grid_tiles", mcp.Description("Optional - tiles per axis for a uniform grid")),
		mcp.WithObject("quadtree", mcp.Description("Optional - {max_depth, min_size, threshold, max_samples_per_cell, density_tiles}")),
		executionModeOption(),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args services.StartIndexingRequest
		if err := bindArguments(req, &args); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		mode, err := services.ParseExecutionMode(string(args.ExecutionMode))
		if err != nil {
			return serviceErrorResult(err)
		}
		args.ExecutionMode = mode
		args.Region = trimString(args.Region)

		result, err := deps.Indexing.StartIndexing(ctx, args)
		if err != nil {
			return serviceErrorResult(err)
		}
		deps.Logger.Info("Indexing run started via MCP",
			zap.String("region", args.Region),
			zap.String("run_id", result.RunID.String()))
		return jsonResult(result)
	})
}

func registerGetRunStatusTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"get_run_status",
		mcp.WithDescription(
			"Returns an indexing run with progress counters. Pass run_id, or region for its most recent run.",
		),
		mcp.WithString("run_id", mcp.Description("Optional - indexing run UUID")),
		mcp.WithString("region", mcp.Description("Optional - region whose latest run to return")),
		mcp.WithBoolean("include_cells", mcp.Description("Optional - include per-cell detail (default: false)")),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var view *models.RunStatusView
		var err error

		switch {
		case trimString(getOptionalString(req, "run_id")) != "":
			runID, errResult := requireUUID(req, "run_id")
			if errResult != nil {
				return errResult, nil
			}
			view, err = deps.Indexing.GetRunStatus(ctx, runID)
		case trimString(getOptionalString(req, "region")) != "":
			view, err = deps.Indexing.GetLatestRunStatus(ctx, trimString(getOptionalString(req, "region")))
		default:
			return NewErrorResult("invalid_parameters", "run_id or region is required"), nil
		}
		if err != nil {
			return serviceErrorResult(err)
		}

		if include, _ := getOptionalBool(req, "include_cells"); !include {
			trimmed := *view
			trimmed.Cells = nil
			view = &trimmed
		}
		return jsonResult(view)
	})
}

func registerRetryFailedCellsTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"retry_failed_cells",
		mcp.WithDescription("Resets failed and rate-limited cells of a run to idle and dispatches them again."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Indexing run UUID")),
		executionModeOption(),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, errResult := requireUUID(req, "run_id")
		if errResult != nil {
			return errResult, nil
		}
		mode, err := services.ParseExecutionMode(getOptionalString(req, "execution_mode"))
		if err != nil {
			return serviceErrorResult(err)
		}

		result, err := deps.Indexing.RetryFailedCells(ctx, runID, mode)
		if err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(result)
	})
}

func registerCancelRunTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"cancel_run",
		mcp.WithDescription("Cancels an active indexing run. Unfinished cells are marked cancelled."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Indexing run UUID")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, errResult := requireUUID(req, "run_id")
		if errResult != nil {
			return errResult, nil
		}
		if err := deps.Indexing.CancelRun(ctx, runID); err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(map[string]string{
			"run_id": runID.String(),
			"status": string(models.RunStatusCancelled),
		})
	})
}

func registerDropRunTool(s *server.MCPServer, deps *GeoToolDeps) {
	tool := mcp.NewTool(
		"drop_run",
		mcp.WithDescription("Deletes a run with its cells and fetched features. Active runs are cancelled first."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("Indexing run UUID")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, errResult := requireUUID(req, "run_id")
		if errResult != nil {
			return errResult, nil
		}
		if err := deps.Indexing.DropRun(ctx, runID); err != nil {
			return serviceErrorResult(err)
		}
		return jsonResult(map[string]any{
			"run_id":  runID.String(),
			"dropped": true,
			"message": fmt.Sprintf("run %s dropped", runID),
		})
	})
}
