package mcpserver

import (
	"context"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"transitsql/internal/apperrors"
	"transitsql/internal/catalog"
)

func (s *Server) registerCatalogTools() {
	readOnly := mcp.WithReadOnlyHintAnnotation(true)

	s.mcp.AddTool(mcp.NewTool("list_tables",
		mcp.WithDescription("List every table in the transit database with its row count"),
		readOnly,
	), s.handleListTables)

	s.mcp.AddTool(mcp.NewTool("describe_table",
		mcp.WithDescription("List the columns of a table with their SQL types (INTEGER, REAL or TEXT)"),
		mcp.WithString("table", mcp.Description("Table name, e.g. stops"), mcp.Required()),
		readOnly,
	), s.handleDescribeTable)

	s.mcp.AddTool(mcp.NewTool("sample_rows",
		mcp.WithDescription("Return the first rows of a table as a markdown table"),
		mcp.WithString("table", mcp.Description("Table name"), mcp.Required()),
		mcp.WithNumber("limit", mcp.Description("Number of rows (default 5)")),
		readOnly,
	), s.handleSampleRows)

	s.mcp.AddTool(mcp.NewTool("run_query",
		mcp.WithDescription("Run one read-only SQL statement (SELECT, WITH, EXPLAIN, VALUES or PRAGMA) against the SQLite database"),
		mcp.WithString("sql", mcp.Description("The SQL statement"), mcp.Required()),
		mcp.WithNumber("max_rows", mcp.Description("Row limit; the server caps it")),
		mcp.WithString("format", mcp.Description("Result format"), mcp.Enum("markdown", "csv", "json")),
		readOnly,
	), s.handleRunQuery)

	s.mcp.AddTool(mcp.NewTool("database_context",
		mcp.WithDescription("Describe the whole database: tables, columns and an example row each"),
		readOnly,
	), s.handleDatabaseContext)
}

type tableInfo struct {
	Name string `json:"name"`
	Rows int64  `json:"rows"`
}

func (s *Server) handleListTables(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tables, err := s.catalog.Tables(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := s.catalog.TableCounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tableInfo, len(tables))
	for i, t := range tables {
		out[i] = tableInfo{Name: t, Rows: counts[t]}
	}
	return jsonResult(out)
}

func (s *Server) handleDescribeTable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, _ := req.GetArguments()["table"].(string)
	if table == "" {
		return errorResult(errors.New("table is required")), nil
	}
	cols, err := s.catalog.Columns(ctx, table)
	if errors.Is(err, catalog.ErrUnknownTable) {
		return errorResult(err), nil
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"table": table, "columns": cols})
}

func (s *Server) handleSampleRows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	table, _ := args["table"].(string)
	if table == "" {
		return errorResult(errors.New("table is required")), nil
	}
	res, err := s.catalog.Sample(ctx, table, intArg(args, "limit", catalog.DefaultSampleRows))
	if errors.Is(err, catalog.ErrUnknownTable) {
		return errorResult(err), nil
	}
	if err != nil {
		return nil, err
	}
	return textResult(res.Markdown()), nil
}

func (s *Server) handleRunQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["sql"].(string)
	format, _ := args["format"].(string)

	res, err := s.catalog.Query(ctx, query, intArg(args, "max_rows", 0))
	if errors.Is(err, apperrors.ErrReadOnly) || errors.Is(err, apperrors.ErrStore) {
		// SQL errors are the agent's to fix.
		return errorResult(err), nil
	}
	if err != nil {
		return nil, err
	}
	s.log.Debug("run_query", zap.Int("rows", len(res.Rows)), zap.Bool("truncated", res.Truncated))

	switch format {
	case "json":
		return jsonResult(res)
	case "csv":
		var b strings.Builder
		if err := res.WriteCSV(&b); err != nil {
			return nil, err
		}
		return textResult(b.String()), nil
	default:
		text := res.Markdown()
		if res.Truncated {
			text += "\n(result truncated)\n"
		}
		return textResult(text), nil
	}
}

func (s *Server) handleDatabaseContext(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := s.catalog.Context(ctx, s.samples)
	if err != nil {
		return nil, err
	}
	return textResult(text), nil
}
