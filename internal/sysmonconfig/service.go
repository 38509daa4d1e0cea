package sysmonconfig

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelsec/sysmonfleet/internal/logging"
	"github.com/kestrelsec/sysmonfleet/internal/models"
	"github.com/kestrelsec/sysmonfleet/internal/noise"
	"github.com/kestrelsec/sysmonfleet/internal/repository"
)

const maxConfigBytes = 4 << 20

// Service manages stored Sysmon configurations.
type Service struct {
	repo       repository.Repository
	table      *noise.FieldTable
	httpClient *http.Client
	logger     *logging.Logger
}

// NewService creates a config service.
func NewService(repo repository.Repository, table *noise.FieldTable, importTimeout time.Duration, logger *logging.Logger) *Service {
	if importTimeout <= 0 {
		importTimeout = 30 * time.Second
	}
	return &Service{
		repo:       repo,
		table:      table,
		httpClient: &http.Client{Timeout: importTimeout},
		logger:     logger,
	}
}

// Create validates and stores a new named configuration.
func (s *Service) Create(ctx context.Context, name, content string) (*models.SysmonConfig, error) {
	if name == "" {
		return nil, fmt.Errorf("config name is required")
	}
	if _, err := Parse(content); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	cfg := &models.SysmonConfig{
		ID:        id.String(),
		Name:      name,
		Content:   content,
		Hash:      Hash(content),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateSysmonConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns a stored configuration.
func (s *Service) Get(ctx context.Context, id string) (*models.SysmonConfig, error) {
	return s.repo.GetSysmonConfig(ctx, id)
}

// List returns all stored configurations.
func (s *Service) List(ctx context.Context) ([]*models.SysmonConfig, error) {
	return s.repo.ListSysmonConfigs(ctx)
}

// AddExclusion parses the stored config, inserts the exclusion rule for
// the event type, and persists the re-serialized content with a fresh
// hash. A rule already present leaves the stored content untouched.
func (s *Service) AddExclusion(ctx context.Context, configID string, eventID int, field, value, condition string) (*models.SysmonConfig, error) {
	et, ok := s.table.Lookup(eventID)
	if !ok {
		return nil, fmt.Errorf("unsupported event type %d", eventID)
	}

	stored, err := s.repo.GetSysmonConfig(ctx, configID)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(stored.Content)
	if err != nil {
		return nil, err
	}

	changed, err := cfg.AddExclusion(et.Name, field, value, condition)
	if err != nil {
		return nil, err
	}
	if !changed {
		return stored, nil
	}

	content, err := cfg.Serialize()
	if err != nil {
		return nil, err
	}
	hash := Hash(content)
	now := time.Now().UTC()
	if err := s.repo.UpdateSysmonConfigContent(ctx, configID, content, hash, now); err != nil {
		return nil, err
	}

	s.logger.Info("exclusion added to config",
		"config_id", configID, "event_type", et.Name, "field", field)

	stored.Content = content
	stored.Hash = hash
	stored.UpdatedAt = now
	return stored, nil
}

// ImportFromURL downloads configuration XML, validates it and stores it
// under the given name.
func (s *Service) ImportFromURL(ctx context.Context, name, url string) (*models.SysmonConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build import request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config fetch returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read config body: %w", err)
	}

	return s.Create(ctx, name, string(body))
}
