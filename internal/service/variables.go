package service

import (
	"strings"

	"github.com/unclebandit/leaddrip-backend/internal/model"
)

const (
	defaultFirstName    = "there"
	defaultBusinessName = "Our Team"
	defaultAgentName    = "our team"
)

// LeadInfo is the lead data available to templates.
type LeadInfo struct {
	FirstName string
	LastName  string
	Phone     string
	Source    string
}

// LeadFromName splits a full name on its first space.
func LeadFromName(fullName, phone, source string) LeadInfo {
	first, last := SplitName(fullName)
	return LeadInfo{FirstName: first, LastName: last, Phone: phone, Source: source}
}

func SplitName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// BuildVariables assembles the template variables for one lead. profile and
// agent may be nil.
func BuildVariables(lead LeadInfo, profile *model.BusinessProfile, agent *model.Agent) map[string]string {
	first := strings.TrimSpace(lead.FirstName)
	last := strings.TrimSpace(lead.LastName)
	full := strings.TrimSpace(first + " " + last)
	if first == "" {
		first = defaultFirstName
	}

	businessName := defaultBusinessName
	serviceCategory := ""
	if profile != nil {
		if profile.BusinessName != "" {
			businessName = profile.BusinessName
		}
		serviceCategory = profile.ServiceCategory
	}

	agentName := defaultAgentName
	if agent != nil && agent.Name != "" {
		agentName = agent.Name
	}

	return map[string]string{
		"first_name":       first,
		"last_name":        last,
		"full_name":        full,
		"business_name":    businessName,
		"service_category": serviceCategory,
		"agent_name":       agentName,
		"lead_source":      lead.Source,
		"lead_phone":       lead.Phone,
	}
}
