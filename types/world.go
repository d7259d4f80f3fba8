package types

import (
	"encoding/json"
	"time"
)

type PlotType string

const (
	PlotAdventure         PlotType = "adventure"
	PlotMystery           PlotType = "mystery"
	PlotExploration       PlotType = "exploration"
	PlotSurvival          PlotType = "survival"
	PlotPoliticalIntrigue PlotType = "political_intrigue"
	PlotHeist             PlotType = "heist"
	PlotHorror            PlotType = "horror"
	PlotSliceOfLife       PlotType = "slice_of_life"
	PlotRomance           PlotType = "romance"
	PlotWarCampaign       PlotType = "war_campaign"
	PlotComedy            PlotType = "comedy"
	PlotCustom            PlotType = "custom"
)

var PlotTypes = []PlotType{
	PlotAdventure, PlotMystery, PlotExploration, PlotSurvival, PlotPoliticalIntrigue,
	PlotHeist, PlotHorror, PlotSliceOfLife, PlotRomance, PlotWarCampaign, PlotComedy, PlotCustom,
}

type WorldArchitectStart struct {
	WorldDescription        string   `json:"world_description"`
	PlotType                PlotType `json:"plot_type"`
	PlotTypeCustom          *string  `json:"plot_type_custom,omitempty"`
	IsGlobalConflictEnabled bool     `json:"is_global_conflict_enabled"`
}

type RunCreateResponse struct {
	RunID string `json:"run_id"`
}

type HitlOption struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type HitlQuestion struct {
	ID       string       `json:"id"`
	Question string       `json:"question"`
	Options  []HitlOption `json:"options"`
}

type HitlAnswer struct {
	SelectedOptionID string `json:"selected_option_id,omitempty"`
	FreeText         string `json:"free_text,omitempty"`
}

type SubmitAnswers struct {
	Answers map[string]HitlAnswer `json:"answers"`
}

// WorldSkeleton is the payload of a world_skeleton event.
type WorldSkeleton struct {
	GamePrompt     string  `json:"game_prompt"`
	WorldBible     string  `json:"world_bible"`
	GlobalConflict *string `json:"global_conflict"`
}

type WorldDraft struct {
	GamePrompt     string
	WorldBible     string
	GlobalConflict string
}

// Run event types emitted on the run event stream.
const (
	EventStage         = "stage"
	EventHitlQuestions = "hitl_questions"
	EventWorldSkeleton = "world_skeleton"
	EventError         = "error"
	EventDone          = "done"
)

type RunEvent struct {
	RunID   string          `json:"run_id"`
	Seq     int             `json:"seq"`
	Type    string          `json:"type"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

type StagePayload struct {
	Stage string `json:"stage"`
}

type QuestionsPayload struct {
	Questions []HitlQuestion `json:"questions"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
