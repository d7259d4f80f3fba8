package cli

import (
	"fmt"
	"strings"

	. "talespinner/types"
	"talespinner/util"

	"github.com/agnivade/levenshtein"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(header table.Row) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(header)
	return t
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func renderProviders(providers []ProviderInfo) string {
	t := newTable(table.Row{"ID", "Name", "LLM", "Embedding", "API key"})
	for _, p := range providers {
		t.AppendRow(table.Row{string(p.ID), p.Name, yesNo(p.SupportsLLM), yesNo(p.SupportsEmbedding), yesNo(p.RequiresAPIKey)})
	}
	return t.Render()
}

func renderModels(resp ProviderModelsResponse) string {
	t := newTable(table.Row{"ID", "Name", "Context", "Description"})
	for _, m := range resp.Models {
		context := ""
		if m.ContextLength != nil {
			context = fmt.Sprintf("%d", *m.ContextLength)
		}
		description := ""
		if m.Description != nil {
			description = util.Truncate(*m.Description, 60)
		}
		t.AppendRow(table.Row{m.ID, m.Name, context, description})
	}
	source := "live"
	if resp.Cached {
		source = "cached"
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d models, %s", len(resp.Models), source)})
	return t.Render()
}

func renderTokens(tokens []Token) string {
	t := newTable(table.Row{"Name", "Provider", "Active", "Updated", "ID"})
	for _, tok := range tokens {
		t.AppendRow(table.Row{tok.Name, string(tok.Provider), yesNo(tok.IsActive), tok.UpdatedAt.Format("2006-01-02 15:04"), tok.ID})
	}
	return t.Render()
}

func modelLabel(provider ProviderType, model string) string {
	if provider == "" && model == "" {
		return "unset"
	}
	return string(provider) + "/" + model
}

func slotLabel(slot RoleSlot) string {
	switch {
	case !slot.Enabled:
		return "off"
	case slot.Config == nil:
		return "unconfigured"
	}
	return modelLabel(slot.Config.Provider, slot.Config.ModelID)
}

func renderPresets(presets []ConfigPreset) string {
	t := newTable(table.Row{"Name", "Default", "Main", "RAG", "Guard", "Storytelling", "Embedding", "ID"})
	for _, p := range presets {
		cfg := p.ConfigData
		t.AppendRow(table.Row{
			p.Name,
			check(p.IsDefault),
			modelLabel(cfg.MainModel.Provider, cfg.MainModel.ModelID),
			slotLabel(cfg.RAG),
			slotLabel(cfg.Guard),
			slotLabel(cfg.Storytelling),
			modelLabel(cfg.Embedding.Provider, cfg.Embedding.ModelID),
			p.ID,
		})
	}
	return t.Render()
}

func renderUsers(users []User, currentID string) string {
	t := newTable(table.Row{"", "Name", "Password", "ID"})
	for _, u := range users {
		marker := ""
		if u.ID == currentID {
			marker = "●"
		}
		t.AppendRow(table.Row{marker, u.Name, yesNo(u.HasPassword), u.ID})
	}
	return t.Render()
}

// suggestProvider returns the provider id closest to input when it is a
// plausible typo.
func suggestProvider(input string, providers []ProviderInfo) (ProviderType, bool) {
	input = strings.ToLower(strings.TrimSpace(input))
	best, bestDist := ProviderType(""), -1
	for _, p := range providers {
		d := levenshtein.ComputeDistance(input, string(p.ID))
		if bestDist < 0 || d < bestDist {
			best, bestDist = p.ID, d
		}
	}
	if bestDist < 0 || bestDist > max(2, len(input)/3) {
		return "", false
	}
	return best, true
}

func findUser(users []User, ref string) (User, bool) {
	for _, u := range users {
		if u.ID == ref {
			return u, true
		}
	}
	for _, u := range users {
		if strings.EqualFold(u.Name, ref) {
			return u, true
		}
	}
	return User{}, false
}
