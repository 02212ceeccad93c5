// Package model defines the shared types threaded through the signal pipeline:
// events, signals, scores, and the per-run pipeline state envelope.
package model

import (
	"github.com/google/uuid"
)

// PipelineState is the mutable envelope threaded through all agent stages.
// Exactly one PipelineState exists per run; stages mutate it in place and
// return it. Ownership transfers stage-to-stage sequentially; the state is
// never shared across goroutines.
type PipelineState struct {
	ExecutionID string         `json:"execution_id"`
	CompanyID   int64          `json:"company_id"`
	CompanyData map[string]any `json:"company_data"`
	Events      []Event        `json:"events"`
	Signals     []Signal       `json:"signals"`
	Scores      *ScoreSet      `json:"scores,omitempty"`
	Proposal    *Proposal      `json:"proposal,omitempty"`
	Errors      []string       `json:"errors"`
	Warnings    []string       `json:"warnings"`
	Metadata    map[string]any `json:"metadata"`
}

// NewPipelineState creates a state for a single run with a fresh execution id.
func NewPipelineState(companyID int64, companyData map[string]any) *PipelineState {
	if companyData == nil {
		companyData = make(map[string]any)
	}
	return &PipelineState{
		ExecutionID: uuid.New().String(),
		CompanyID:   companyID,
		CompanyData: companyData,
		Metadata:    make(map[string]any),
	}
}

// RecordError appends to the run's error list. Errors are append-only; no
// stage clears another stage's entries.
func (s *PipelineState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// RecordWarning appends to the run's warning list.
func (s *PipelineState) RecordWarning(msg string) {
	s.Warnings = append(s.Warnings, msg)
}

// EmployeeCount reads the employee_count attribute, tolerating the numeric
// types JSON decoding produces.
func (s *PipelineState) EmployeeCount() int {
	return intAttr(s.CompanyData, "employee_count")
}

// Industry reads the industry attribute.
func (s *PipelineState) Industry() string {
	return stringAttr(s.CompanyData, "industry")
}

// Domain reads the domain attribute.
func (s *PipelineState) Domain() string {
	return stringAttr(s.CompanyData, "domain")
}

// TechStack reads the tech_stack attribute as a string slice.
func (s *PipelineState) TechStack() []string {
	raw, ok := s.CompanyData["tech_stack"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

// TotalFunding reads the total_funding attribute.
func (s *PipelineState) TotalFunding() float64 {
	return floatAttr(s.CompanyData, "total_funding")
}

// HasRevenue reports whether a non-empty revenue attribute is present.
func (s *PipelineState) HasRevenue() bool {
	raw, ok := s.CompanyData["revenue"]
	if !ok || raw == nil {
		return false
	}
	if str, isStr := raw.(string); isStr {
		return str != ""
	}
	return true
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}

func intAttr(attrs map[string]any, key string) int {
	switch v := attrs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func floatAttr(attrs map[string]any, key string) float64 {
	switch v := attrs[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}
