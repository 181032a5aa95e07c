package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-geoenrich/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/models"
	"github.com/ekaya-inc/ekaya-geoenrich/pkg/repositories"
)

// MappingService validates and stores mapping configurations.
type MappingService struct {
	store  repositories.JobStateStore
	logger *zap.Logger
}

// NewMappingService creates a mapping config service.
func NewMappingService(store repositories.JobStateStore, logger *zap.Logger) *MappingService {
	return &MappingService{
		store:  store,
		logger: logger.Named("mappings"),
	}
}

// SaveMappingConfig validates cfg and stores it, replacing any config with the
// same id. A target field used twice is rejected with duplicate_field.
func (s *MappingService) SaveMappingConfig(ctx context.Context, cfg *models.MappingConfig) error {
	if cfg == nil {
		return apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "mapping config is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveMappingConfig(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save mapping config: %w", err)
	}
	s.logger.Info("Saved mapping config",
		zap.String("id", cfg.ID),
		zap.Int("groups", len(cfg.Groups)),
		zap.Strings("target_fields", cfg.TargetFields()))
	return nil
}

// GetMappingConfig returns a stored config or apperrors.ErrNotFound.
func (s *MappingService) GetMappingConfig(ctx context.Context, id string) (*models.MappingConfig, error) {
	cfg, err := s.store.GetMappingConfig(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get mapping config: %w", err)
	}
	if cfg == nil {
		return nil, apperrors.ErrNotFound
	}
	return cfg, nil
}

// ListMappingConfigs returns every stored config.
func (s *MappingService) ListMappingConfigs(ctx context.Context) ([]*models.MappingConfig, error) {
	cfgs, err := s.store.ListMappingConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mapping configs: %w", err)
	}
	if cfgs == nil {
		cfgs = []*models.MappingConfig{}
	}
	return cfgs, nil
}

// ImportYAML saves every mapping config in a YAML document stream. Each
// document is either a single config or {configs: [...]}. Nothing is saved
// unless all configs validate.
func (s *MappingService) ImportYAML(ctx context.Context, r io.Reader) ([]*models.MappingConfig, error) {
	var cfgs []*models.MappingConfig

	dec := yaml.NewDecoder(r)
	for {
		var node yaml.Node
		if err := dec.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "invalid mapping YAML: %s", err.Error())
		}

		var wrapped struct {
			Configs []*models.MappingConfig `yaml:"configs"`
		}
		if err := node.Decode(&wrapped); err == nil && len(wrapped.Configs) > 0 {
			cfgs = append(cfgs, wrapped.Configs...)
			continue
		}
		var single models.MappingConfig
		if err := node.Decode(&single); err != nil {
			return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "invalid mapping YAML: %s", err.Error())
		}
		cfgs = append(cfgs, &single)
	}

	if len(cfgs) == 0 {
		return nil, apperrors.NewConfigurationError(apperrors.CodeInvalidMapping, "no mapping configs found")
	}
	for _, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	for _, cfg := range cfgs {
		if err := s.SaveMappingConfig(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return cfgs, nil
}

// ImportFiles imports mapping configs from YAML files.
func (s *MappingService) ImportFiles(ctx context.Context, paths []string) (int, error) {
	total := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return total, fmt.Errorf("failed to read mapping file %s: %w", path, err)
		}
		cfgs, err := s.ImportYAML(ctx, bytes.NewReader(data))
		if err != nil {
			return total, fmt.Errorf("failed to import mapping file %s: %w", path, err)
		}
		total += len(cfgs)
	}
	return total, nil
}
