package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/anand-san/murmur/internal/model"
	"github.com/anand-san/murmur/internal/store"
	"github.com/anand-san/murmur/pkg/logger"
)

const (
	maxAgentName        = 100
	maxAgentDescription = 200
	maxSystemMessage    = 2000
)

// AgentRepo is the agent persistence used by AgentService.
type AgentRepo interface {
	CreateAgent(ctx context.Context, a *model.Agent, makeDefault bool) error
	GetAgent(ctx context.Context, owner, id string) (*model.Agent, error)
	ListAgents(ctx context.Context, owner string) ([]model.Agent, error)
	DefaultAgent(ctx context.Context, owner string) (*model.Agent, error)
	UpdateAgent(ctx context.Context, owner, id string, fields map[string]any, makeDefault *bool) (*model.Agent, error)
	DeleteAgent(ctx context.Context, owner, id string) error
	SetDefaultAgent(ctx context.Context, owner, id string) (*model.Agent, error)
}

// AgentService manages the per-user system message presets.
type AgentService struct {
	repo   AgentRepo
	logger *logger.Logger
}

// NewAgentService creates a new agent service.
func NewAgentService(repo AgentRepo, log *logger.Logger) *AgentService {
	return &AgentService{repo: repo, logger: log}
}

// Create validates and stores an agent.
func (s *AgentService) Create(ctx context.Context, owner string, req *model.CreateAgentRequest) (*model.Agent, error) {
	name := strings.TrimSpace(req.Name)
	system := strings.TrimSpace(req.SystemMessage)
	if err := validateAgent(&name, &req.Description, &system); err != nil {
		return nil, err
	}
	a := &model.Agent{
		UserID:        owner,
		Name:          name,
		Description:   strings.TrimSpace(req.Description),
		SystemMessage: system,
	}
	if err := s.repo.CreateAgent(ctx, a, req.IsDefault); err != nil {
		return nil, err
	}
	s.logger.Info("agent created",
		zap.String("agent_id", a.ID),
		zap.String("user_id", owner),
		zap.Bool("default", a.IsDefault),
	)
	return a, nil
}

// Get returns one agent of owner.
func (s *AgentService) Get(ctx context.Context, owner, id string) (*model.Agent, error) {
	return s.repo.GetAgent(ctx, owner, id)
}

// List returns the agents of owner.
func (s *AgentService) List(ctx context.Context, owner string) (*model.ListAgentsResponse, error) {
	agents, err := s.repo.ListAgents(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &model.ListAgentsResponse{Agents: agents}, nil
}

// Default returns the default agent of owner, or nil when none is set.
func (s *AgentService) Default(ctx context.Context, owner string) (*model.Agent, error) {
	a, err := s.repo.DefaultAgent(ctx, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// Update edits an agent of owner.
func (s *AgentService) Update(ctx context.Context, owner, id string, req *model.UpdateAgentRequest) (*model.Agent, error) {
	fields := map[string]any{}
	var name, description, system *string
	if req.Name != nil {
		v := strings.TrimSpace(*req.Name)
		name, fields["name"] = &v, v
	}
	if req.Description != nil {
		v := strings.TrimSpace(*req.Description)
		description, fields["description"] = &v, v
	}
	if req.SystemMessage != nil {
		v := strings.TrimSpace(*req.SystemMessage)
		system, fields["system_message"] = &v, v
	}
	if err := validateAgent(name, description, system); err != nil {
		return nil, err
	}
	return s.repo.UpdateAgent(ctx, owner, id, fields, req.IsDefault)
}

// Delete removes an agent of owner.
func (s *AgentService) Delete(ctx context.Context, owner, id string) error {
	return s.repo.DeleteAgent(ctx, owner, id)
}

// SetDefault makes id the single default agent of owner.
func (s *AgentService) SetDefault(ctx context.Context, owner, id string) (*model.Agent, error) {
	a, err := s.repo.SetDefaultAgent(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("default changed",
		zap.String("kind", string(model.KindAgent)),
		zap.String("id", id),
		zap.String("user_id", owner),
	)
	return a, nil
}

// SystemMessage resolves the system message an agent contributes to a chat.
// An empty id uses the owner's default agent; ok is false when no agent applies.
func (s *AgentService) SystemMessage(ctx context.Context, owner, id string) (msg string, ok bool, err error) {
	var a *model.Agent
	if id != "" {
		a, err = s.repo.GetAgent(ctx, owner, id)
	} else {
		a, err = s.Default(ctx, owner)
	}
	if err != nil || a == nil {
		return "", false, err
	}
	return a.SystemMessage, true, nil
}

// validateAgent checks the fields that are set; nil fields are left unchanged.
func validateAgent(name, description, system *string) error {
	if name != nil && (*name == "" || utf8.RuneCountInString(*name) > maxAgentName) {
		return fmt.Errorf("%w: name must be 1 to %d characters", ErrInvalidRequest, maxAgentName)
	}
	if description != nil && utf8.RuneCountInString(strings.TrimSpace(*description)) > maxAgentDescription {
		return fmt.Errorf("%w: description must be at most %d characters", ErrInvalidRequest, maxAgentDescription)
	}
	if system != nil && (*system == "" || utf8.RuneCountInString(*system) > maxSystemMessage) {
		return fmt.Errorf("%w: system message must be 1 to %d characters", ErrInvalidRequest, maxSystemMessage)
	}
	return nil
}
