package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gofulcrum/internal/errs"
	"github.com/and161185/gofulcrum/internal/model"
	"github.com/and161185/gofulcrum/internal/repository"
)

// ProjectManager adds project creation to the generic manager.
type ProjectManager struct {
	*Manager
}

// Create registers a new project upstream and caches the response. Without
// a remote client the project is created locally with a random id.
func (m *ProjectManager) Create(ctx context.Context, name, description string) (*model.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty project name", errs.ErrInvalidParam)
	}
	var out *model.Entity
	err := m.store.WithinTx(ctx, func(repo repository.EntityRepository) error {
		obj, err := m.newProject(ctx, name, description)
		if err != nil {
			return err
		}
		out, err = m.pipeline.Ingest(ctx, repo, model.KindProject, obj)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("project created", zap.String("id", out.ID), zap.String("name", name))
	return out, nil
}

func (m *ProjectManager) newProject(ctx context.Context, name, description string) (map[string]any, error) {
	body := map[string]any{"name": name, "description": description}
	if m.remote == nil {
		id, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)
		body["id"] = id.String()
		body["created_at"] = now
		body["updated_at"] = now
		return body, nil
	}
	env, err := m.remote.Create(ctx, m.res.Name, map[string]any{m.res.Envelope: body})
	m.metrics.Remote(m.res.Name, "create", err)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	obj, ok := env[m.res.Envelope].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("create project: %w: no %q envelope", errs.ErrInvalidPayload, m.res.Envelope)
	}
	return obj, nil
}
