package mockserver

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jwulff/interview/internal/conversation"
)

// Question is one scripted interviewer prompt.
type Question struct {
	Text     string `yaml:"text"`
	Category string `yaml:"category"`
}

// SeedApplication is an application the mock knows about at startup.
type SeedApplication struct {
	ID            string `yaml:"id"`
	CandidateName string `yaml:"candidate_name"`
	JobTitle      string `yaml:"job_title"`
	CompanyName   string `yaml:"company_name"`
	Status        string `yaml:"status"`
}

// Script drives the mock interviewer.
type Script struct {
	JobTitle     string            `yaml:"job_title"`
	CompanyName  string            `yaml:"company_name"`
	Greeting     string            `yaml:"greeting"`
	Questions    []Question        `yaml:"questions"`
	Closing      string            `yaml:"closing"`
	Applications []SeedApplication `yaml:"applications"`
}

// LoadScript reads and parses a YAML script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	return ParseScript(data)
}

// ParseScript parses YAML and fills unset fields from DefaultScript.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal script YAML: %w", err)
	}

	def := DefaultScript()
	if s.JobTitle == "" {
		s.JobTitle = def.JobTitle
	}
	if s.CompanyName == "" {
		s.CompanyName = def.CompanyName
	}
	if s.Greeting == "" {
		s.Greeting = def.Greeting
	}
	if s.Closing == "" {
		s.Closing = def.Closing
	}
	if len(s.Questions) == 0 {
		s.Questions = def.Questions
	}
	for i, q := range s.Questions {
		if strings.TrimSpace(q.Text) == "" {
			return nil, fmt.Errorf("question %d has no text", i+1)
		}
		if q.Category == "" {
			s.Questions[i].Category = conversation.CategoryTechnical
		}
	}
	for i, a := range s.Applications {
		if a.ID == "" {
			return nil, fmt.Errorf("application %d has no id", i+1)
		}
	}
	return &s, nil
}

// DefaultScript is used when no script file is configured.
func DefaultScript() *Script {
	return &Script{
		JobTitle:    "Backend Engineer",
		CompanyName: "Acme",
		Greeting: "Hi! Welcome to the selection process. This is an AI-assisted interview " +
			"covering technical skills, experience and soft skills. Reply 'yes' when you are ready to start.",
		Questions: []Question{
			{Text: "Do you have at least three years of experience building backend services?", Category: conversation.CategoryKnockout},
			{Text: "Describe how you would design a rate limiter for a public API.", Category: conversation.CategoryTechnical},
			{Text: "How do you debug a latency regression in production?", Category: conversation.CategoryTechnical},
			{Text: "Tell me about a disagreement with a teammate and how you resolved it.", Category: conversation.CategorySoftSkills},
		},
		Closing: "Thanks for your answers! The interview is over. Your global score is %.1f/100. " +
			"The recruiter will review your evaluation and contact you soon.",
	}
}

// ClosingMessage renders the closing text with the global score when the
// script leaves a verb for it.
func (s *Script) ClosingMessage(global float64) string {
	if strings.Contains(s.Closing, "%") {
		return fmt.Sprintf(s.Closing, global)
	}
	return s.Closing
}

// ScoreAnswer grades a reply from 1 to 5 by its length. It stands in for the
// real evaluation model.
func ScoreAnswer(answer string) (float64, string) {
	words := len(strings.Fields(answer))
	switch {
	case words < 3:
		return 1, "Answer is too short to evaluate."
	case words < 8:
		return 2, "Answer lacks detail."
	case words < 20:
		return 3, "Reasonable answer with some detail."
	case words < 40:
		return 4, "Clear answer with supporting detail."
	default:
		return 5, "Thorough answer with concrete examples."
	}
}
