// Package export writes interview transcripts as Excel workbooks for
// recruiters.
package export

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/jwulff/interview/internal/applications"
	"github.com/jwulff/interview/internal/archive"
	"github.com/jwulff/interview/internal/conversation"
)

const (
	SummarySheet    = "Summary"
	TranscriptSheet = "Transcript"
)

// Transcript is everything a workbook shows about one interview.
type Transcript struct {
	ApplicationID string
	CandidateName string
	JobTitle      string
	CompanyName   string
	Status        string
	StartedAt     time.Time
	EndedAt       *time.Time
	FinalScore    *float64
	Turns         []conversation.Turn
}

// FromArchive builds a Transcript from an archived interview.
func FromArchive(iv *archive.Interview, turns []conversation.Turn) Transcript {
	return Transcript{
		ApplicationID: iv.ApplicationID,
		JobTitle:      iv.JobTitle,
		CompanyName:   iv.CompanyName,
		Status:        iv.Status,
		StartedAt:     iv.StartedAt,
		EndedAt:       iv.EndedAt,
		FinalScore:    iv.FinalScore,
		Turns:         turns,
	}
}

// FromAPI builds a Transcript from the backend's stored messages.
func FromAPI(app *applications.Application, tr *applications.Transcript) Transcript {
	out := Transcript{
		ApplicationID: app.ID,
		CandidateName: app.CandidateName,
		JobTitle:      app.JobTitle,
		CompanyName:   app.CompanyName,
		Status:        app.Status.Label(),
		FinalScore:    app.GlobalScore,
	}
	if app.InterviewStartedAt != nil {
		out.StartedAt = app.InterviewStartedAt.Time
	}
	if app.InterviewCompletedAt != nil {
		t := app.InterviewCompletedAt.Time
		out.EndedAt = &t
	}

	msgs := append([]applications.Message(nil), tr.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Order < msgs[j].Order })
	for i, m := range msgs {
		out.Turns = append(out.Turns, conversation.Turn{
			ID:               int64(i + 1),
			Sender:           conversation.Sender(m.Sender),
			Text:             m.MessageText,
			CreatedAt:        m.Timestamp.Time,
			Category:         m.QuestionCategory,
			Score:            m.AgentScore,
			ScoreExplanation: m.ScoreExplanation,
		})
	}
	return out
}

// SaveAs writes the workbook to path, adding the .xlsx extension when
// missing, and returns the final path.
func SaveAs(path string, tr Transcript) (string, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		path += ".xlsx"
	}
	path = filepath.Clean(path)

	f, err := build(tr)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

// Write streams the workbook to w.
func Write(w io.Writer, tr Transcript) error {
	f, err := build(tr)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func build(tr Transcript) (*excelize.File, error) {
	f := excelize.NewFile()

	f.SetSheetName("Sheet1", SummarySheet)
	if _, err := f.NewSheet(TranscriptSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("create transcript sheet: %w", err)
	}

	if err := writeSummary(f, tr); err != nil {
		f.Close()
		return nil, fmt.Errorf("summary sheet: %w", err)
	}
	if err := writeTranscript(f, tr.Turns); err != nil {
		f.Close()
		return nil, fmt.Errorf("transcript sheet: %w", err)
	}
	return f, nil
}

// Stats summarizes graded answers.
type Stats struct {
	Questions    int
	Answers      int
	Scored       int
	AverageScore float64
	ByCategory   map[string]int
}

// Summarize counts turns and averages the answer scores.
func Summarize(turns []conversation.Turn) Stats {
	st := Stats{ByCategory: map[string]int{}}
	var total float64
	for _, t := range turns {
		switch t.Sender {
		case conversation.SenderAgent:
			st.Questions++
			if t.Category != "" {
				st.ByCategory[t.Category]++
			}
		case conversation.SenderCandidate:
			st.Answers++
			if t.Scored() {
				st.Scored++
				total += *t.Score
			}
		}
	}
	if st.Scored > 0 {
		st.AverageScore = total / float64(st.Scored)
	}
	return st
}

func writeSummary(f *excelize.File, tr Transcript) error {
	sheet := SummarySheet
	f.SetColWidth(sheet, "A", "A", 24)
	f.SetColWidth(sheet, "B", "B", 48)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	labelStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	row := 1
	f.SetCellValue(sheet, cell("A", row), "Interview Transcript")
	f.SetCellStyle(sheet, cell("A", row), cell("B", row), headerStyle)
	f.MergeCell(sheet, cell("A", row), cell("B", row))
	row += 2

	put := func(label string, value any) {
		f.SetCellValue(sheet, cell("A", row), label)
		f.SetCellStyle(sheet, cell("A", row), cell("A", row), labelStyle)
		f.SetCellValue(sheet, cell("B", row), value)
		row++
	}

	put("Application", tr.ApplicationID)
	if tr.CandidateName != "" {
		put("Candidate", tr.CandidateName)
	}
	put("Position", tr.JobTitle)
	put("Company", tr.CompanyName)
	put("Status", tr.Status)
	if !tr.StartedAt.IsZero() {
		put("Started", tr.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if tr.EndedAt != nil {
		put("Ended", tr.EndedAt.Format("2006-01-02 15:04:05"))
		if !tr.StartedAt.IsZero() {
			put("Duration", tr.EndedAt.Sub(tr.StartedAt).Round(time.Second).String())
		}
	}
	if tr.FinalScore != nil {
		put("Final score", fmt.Sprintf("%.1f/100", *tr.FinalScore))
	} else {
		put("Final score", "pending")
	}
	row++

	st := Summarize(tr.Turns)
	f.SetCellValue(sheet, cell("A", row), "Statistics")
	f.SetCellStyle(sheet, cell("A", row), cell("B", row), headerStyle)
	f.MergeCell(sheet, cell("A", row), cell("B", row))
	row++

	put("Questions", st.Questions)
	put("Answers", st.Answers)
	put("Scored answers", st.Scored)
	if st.Scored > 0 {
		put("Average answer score", fmt.Sprintf("%.2f/5", st.AverageScore))
	}

	categories := make([]string, 0, len(st.ByCategory))
	for c := range st.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		put("Questions: "+c, st.ByCategory[c])
	}
	return nil
}

var transcriptHeaders = []string{"#", "Time", "Speaker", "Category", "Message", "Score", "Explanation"}

func writeTranscript(f *excelize.File, turns []conversation.Turn) error {
	sheet := TranscriptSheet
	widths := map[string]float64{"A": 6, "B": 20, "C": 12, "D": 14, "E": 70, "F": 8, "G": 50}
	for col, w := range widths {
		f.SetColWidth(sheet, col, col, w)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	wrapStyle, err := f.NewStyle(&excelize.Style{
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "top"},
	})
	if err != nil {
		return err
	}

	for i, h := range transcriptHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetCellValue(sheet, cell(col, 1), h)
	}
	f.SetCellStyle(sheet, "A1", "G1", headerStyle)
	f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	for i, t := range turns {
		row := i + 2
		f.SetCellValue(sheet, cell("A", row), i+1)
		if !t.CreatedAt.IsZero() {
			f.SetCellValue(sheet, cell("B", row), t.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		f.SetCellValue(sheet, cell("C", row), speaker(t.Sender))
		f.SetCellValue(sheet, cell("D", row), t.Category)
		f.SetCellValue(sheet, cell("E", row), t.Text)
		if t.Scored() {
			f.SetCellValue(sheet, cell("F", row), *t.Score)
		}
		f.SetCellValue(sheet, cell("G", row), t.ScoreExplanation)
		f.SetCellStyle(sheet, cell("E", row), cell("E", row), wrapStyle)
		f.SetCellStyle(sheet, cell("G", row), cell("G", row), wrapStyle)
	}
	return nil
}

func speaker(s conversation.Sender) string {
	switch s {
	case conversation.SenderAgent:
		return "Interviewer"
	case conversation.SenderCandidate:
		return "Candidate"
	}
	return string(s)
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
