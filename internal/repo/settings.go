package repo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bizmatrix/api/internal/kv"
	"bizmatrix/api/internal/logger"
)

// AppSettings is the company profile and preferences blob. It is fed into AI prompts.
type AppSettings struct {
	CompanyName        string  `json:"companyName"`
	Industry           string  `json:"industry"`
	CompanyDescription string  `json:"companyDescription"`
	Language           string  `json:"language"`
	AIModel            string  `json:"aiModel,omitempty"`
	Temperature        float32 `json:"temperature"`
}

// DefaultSettings is what Get returns before anything was saved.
func DefaultSettings() AppSettings {
	return AppSettings{Language: "vi", Temperature: 0.4}
}

type Settings struct {
	store kv.Store
	log   *zap.Logger
}

func NewSettings(store kv.Store, log *zap.Logger) *Settings {
	return &Settings{store: store, log: logger.OrNop(log)}
}

func (s *Settings) Get(ctx context.Context) AppSettings {
	settings := DefaultSettings()
	if !readJSON(ctx, s.store, s.log, keySettings, &settings) {
		return DefaultSettings()
	}
	return settings
}

func (s *Settings) Set(ctx context.Context, settings AppSettings) error {
	if err := kv.SetJSON(ctx, s.store, keySettings, settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}
