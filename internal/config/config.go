package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the server-side tuning surface. Everything has a usable default so
// a missing file is not fatal for local runs.
type Config struct {
	AI     AIConfig     `yaml:"ai"`
	Quests QuestsConfig `yaml:"quests"`
	Tokens TokensConfig `yaml:"tokens"`
}

type AIConfig struct {
	Configured       bool   `yaml:"configured"`
	Model            string `yaml:"model"`
	MaxPromptChars   int    `yaml:"max_prompt_chars"`
	TokenCostPerChat int    `yaml:"token_cost_per_chat"`
}

type QuestsConfig struct {
	DailyCount         int    `yaml:"daily_count"`
	WeeklyCount        int    `yaml:"weekly_count"`
	QuestsPerCommunity int    `yaml:"quests_per_community"`
	GenerationSchedule string `yaml:"generation_schedule"`

	DailyWindowMinutes  int `yaml:"daily_window_minutes"`
	WeeklyWindowMinutes int `yaml:"weekly_window_minutes"`

	DailyXP  int `yaml:"daily_xp"`
	WeeklyXP int `yaml:"weekly_xp"`
}

type TokensConfig struct {
	StartingBalance  int `yaml:"starting_balance"`
	DailyQuestAward  int `yaml:"daily_quest_award"`
	WeeklyQuestAward int `yaml:"weekly_quest_award"`
}

func Defaults() Config {
	return Config{
		AI: AIConfig{
			Configured:       true,
			Model:            "gp-chat-1",
			MaxPromptChars:   4000,
			TokenCostPerChat: 2,
		},
		Quests: QuestsConfig{
			DailyCount:          3,
			WeeklyCount:         2,
			QuestsPerCommunity:  3,
			GenerationSchedule:  "0 0 * * *",
			DailyWindowMinutes:  30,
			WeeklyWindowMinutes: 120,
			DailyXP:             50,
			WeeklyXP:            200,
		},
		Tokens: TokensConfig{
			StartingBalance:  10,
			DailyQuestAward:  5,
			WeeklyQuestAward: 15,
		},
	}
}

func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("config.yaml: %w", err)
	}
	if c.AI.MaxPromptChars <= 0 {
		c.AI.MaxPromptChars = Defaults().AI.MaxPromptChars
	}
	if c.AI.TokenCostPerChat < 0 {
		return c, fmt.Errorf("config.yaml: token_cost_per_chat must be >= 0")
	}
	if c.Quests.QuestsPerCommunity <= 0 {
		c.Quests.QuestsPerCommunity = Defaults().Quests.QuestsPerCommunity
	}
	return c, nil
}
