// Package mcpserver exposes archived interviews to recruiter tooling over
// the Model Context Protocol.
package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jwulff/interview/internal/archive"
	"github.com/jwulff/interview/internal/conversation"
	"github.com/jwulff/interview/internal/export"
)

// Tools holds the handlers behind each MCP tool.
type Tools struct {
	store *archive.Store
	log   *zap.Logger
}

func NewTools(store *archive.Store, log *zap.Logger) *Tools {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tools{store: store, log: log}
}

// New builds the MCP server with every tool registered.
func New(store *archive.Store, version string, log *zap.Logger) *server.MCPServer {
	t := NewTools(store, log)
	s := server.NewMCPServer("interview", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("list_interviews",
		mcp.WithDescription("List archived interviews, newest first."),
		mcp.WithString("application_id", mcp.Description("Only interviews for this application")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of interviews (default 20)")),
	), t.ListInterviews)

	s.AddTool(mcp.NewTool("latest_interview",
		mcp.WithDescription("Summarize the most recent interview."),
	), t.LatestInterview)

	s.AddTool(mcp.NewTool("get_transcript",
		mcp.WithDescription("Full transcript of one interview with per-answer scores."),
		mcp.WithString("interview_id", mcp.Required(), mcp.Description("Interview id from list_interviews")),
	), t.GetTranscript)

	s.AddTool(mcp.NewTool("export_transcript",
		mcp.WithDescription("Write an interview transcript to an Excel workbook."),
		mcp.WithString("interview_id", mcp.Required(), mcp.Description("Interview id from list_interviews")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Destination .xlsx file")),
	), t.ExportTranscript)

	return s
}

// ServeStdio runs the server on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (t *Tools) ListInterviews(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID := req.GetString("application_id", "")
	limit := req.GetInt("limit", 20)

	interviews, err := t.store.ListInterviews(appID, limit)
	if err != nil {
		t.log.Warn("List interviews failed", zap.Error(err))
		return mcp.NewToolResultErrorFromErr("list interviews", err), nil
	}
	if len(interviews) == 0 {
		return mcp.NewToolResultText("No interviews archived."), nil
	}

	var b strings.Builder
	for _, iv := range interviews {
		fmt.Fprintf(&b, "%s  %s  application=%s  %s  score=%s\n",
			iv.ID, iv.StartedAt.Format("2006-01-02 15:04"), iv.ApplicationID,
			iv.Status, finalScore(iv.FinalScore))
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *Tools) LatestInterview(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	iv, err := t.store.LatestInterview()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("latest interview", err), nil
	}
	if iv == nil {
		return mcp.NewToolResultText("No interviews archived."), nil
	}
	turns, err := t.store.TurnsForInterview(iv.ID)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("load turns", err), nil
	}

	st := export.Summarize(turns)
	var b strings.Builder
	writeHeader(&b, iv)
	fmt.Fprintf(&b, "Questions: %d, answers: %d, scored: %d", st.Questions, st.Answers, st.Scored)
	if st.Scored > 0 {
		fmt.Fprintf(&b, ", average %.2f/5", st.AverageScore)
	}
	b.WriteString("\n")
	return mcp.NewToolResultText(b.String()), nil
}

func (t *Tools) GetTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("interview_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	iv, turns, res := t.load(id)
	if res != nil {
		return res, nil
	}

	var b strings.Builder
	writeHeader(&b, iv)
	b.WriteString("\n")
	for _, turn := range turns {
		writeTurn(&b, turn)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (t *Tools) ExportTranscript(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("interview_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	iv, turns, res := t.load(id)
	if res != nil {
		return res, nil
	}

	written, err := export.SaveAs(path, export.FromArchive(iv, turns))
	if err != nil {
		t.log.Warn("Export failed", zap.Error(err), zap.String("path", path))
		return mcp.NewToolResultErrorFromErr("export transcript", err), nil
	}
	return mcp.NewToolResultText("Wrote " + written), nil
}

// load fetches an interview and its turns, or returns the tool error to
// report.
func (t *Tools) load(id string) (*archive.Interview, []conversation.Turn, *mcp.CallToolResult) {
	iv, err := t.store.GetInterview(id)
	if err != nil {
		return nil, nil, mcp.NewToolResultErrorFromErr("get interview", err)
	}
	if iv == nil {
		return nil, nil, mcp.NewToolResultError("interview not found: " + id)
	}
	turns, err := t.store.TurnsForInterview(id)
	if err != nil {
		return nil, nil, mcp.NewToolResultErrorFromErr("load turns", err)
	}
	return iv, turns, nil
}

func writeHeader(b *strings.Builder, iv *archive.Interview) {
	fmt.Fprintf(b, "Interview %s for application %s\n", iv.ID, iv.ApplicationID)
	if iv.JobTitle != "" {
		fmt.Fprintf(b, "Position: %s", iv.JobTitle)
		if iv.CompanyName != "" {
			fmt.Fprintf(b, " at %s", iv.CompanyName)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(b, "Status: %s, final score: %s\n", iv.Status, finalScore(iv.FinalScore))
	fmt.Fprintf(b, "Started: %s\n", iv.StartedAt.Format("2006-01-02 15:04:05"))
}

func writeTurn(b *strings.Builder, t conversation.Turn) {
	who := "Interviewer"
	if t.Sender == conversation.SenderCandidate {
		who = "Candidate"
	}
	fmt.Fprintf(b, "[%s] %s", t.CreatedAt.Format("15:04:05"), who)
	if t.Category != "" {
		fmt.Fprintf(b, " (%s)", t.Category)
	}
	fmt.Fprintf(b, ": %s\n", t.Text)
	if t.Scored() {
		fmt.Fprintf(b, "  score %.0f/5", *t.Score)
		if t.ScoreExplanation != "" {
			fmt.Fprintf(b, " - %s", t.ScoreExplanation)
		}
		b.WriteString("\n")
	}
}

func finalScore(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f/100", *v)
}
