package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"approvalflow/internal/approval/models"
	platformstrings "approvalflow/pkg/platform/strings"
	dErrors "approvalflow/pkg/domain-errors"
)

// WorkflowFile is the YAML document operators use to declare workflows.
//
//	defaults:
//	  timeout_hours: 72
//	workflows:
//	  - module: license
//	    service: issue
//	    endpoint: /license/issue
//	    conditions:
//	      - {field: fee.amount, op: gt, value: 1000}
//	    levels:
//	      - {name: supervisor, approver_roles: [supervisor], timeout_hours: 24}
//	      - {name: director, approver_roles: [director]}
type WorkflowFile struct {
	Defaults  FileDefaults   `yaml:"defaults"`
	Workflows []FileWorkflow `yaml:"workflows"`
}

type FileDefaults struct {
	TimeoutHours int `yaml:"timeout_hours"`
}

type FileWorkflow struct {
	Module       string            `yaml:"module"`
	Service      string            `yaml:"service"`
	Endpoint     string            `yaml:"endpoint"`
	TimeoutHours int               `yaml:"timeout_hours"`
	Enabled      *bool             `yaml:"enabled"`
	Conditions   models.Conditions `yaml:"conditions"`
	Levels       []FileLevel       `yaml:"levels"`
}

type FileLevel struct {
	Name          string   `yaml:"name"`
	ApproverRoles []string `yaml:"approver_roles"`
	// Required defaults to true; optional levels must say so.
	Required     *bool `yaml:"required"`
	TimeoutHours int   `yaml:"timeout_hours"`
}

// FileEntry is one parsed workflow plus its desired enabled state.
type FileEntry struct {
	Request ConfigureRequest
	Enabled bool
}

// LoadFile parses and validates a workflow file. Nothing is stored.
func LoadFile(path string) ([]FileEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	return ParseFile(data)
}

// ParseFile is LoadFile over an in-memory document.
func ParseFile(data []byte) ([]FileEntry, error) {
	var doc WorkflowFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "parse workflow file")
	}

	defaultTimeout := doc.Defaults.TimeoutHours
	if defaultTimeout == 0 {
		defaultTimeout = DefaultTimeoutHours
	}

	seen := make(map[string]struct{}, len(doc.Workflows))
	entries := make([]FileEntry, 0, len(doc.Workflows))
	for i, wf := range doc.Workflows {
		req := ConfigureRequest{
			ModuleName:   wf.Module,
			ServiceName:  wf.Service,
			EndpointPath: wf.Endpoint,
			Conditions:   wf.Conditions,
			TimeoutHours: wf.TimeoutHours,
		}
		if req.TimeoutHours == 0 {
			req.TimeoutHours = defaultTimeout
		}
		for _, l := range wf.Levels {
			required := true
			if l.Required != nil {
				required = *l.Required
			}
			req.Levels = append(req.Levels, models.Level{
				Name:          l.Name,
				ApproverRoles: models.RolesFromStrings(platformstrings.Normalize(l.ApproverRoles)),
				Required:      required,
				TimeoutHours:  l.TimeoutHours,
			})
		}

		// validate now so a bad file is rejected before anything is written
		cfg, err := models.NewConfiguration(req.ModuleName, req.ServiceName, req.EndpointPath,
			req.Levels, req.Conditions, req.TimeoutHours, time.Time{})
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, fmt.Sprintf("workflows[%d]", i))
		}
		if _, dup := seen[cfg.Key()]; dup {
			return nil, dErrors.New(dErrors.CodeConfiguration, fmt.Sprintf("workflows[%d]: %s declared more than once", i, cfg.Key()))
		}
		seen[cfg.Key()] = struct{}{}

		enabled := true
		if wf.Enabled != nil {
			enabled = *wf.Enabled
		}
		entries = append(entries, FileEntry{Request: req, Enabled: enabled})
	}
	return entries, nil
}

// ApplyFile configures every workflow in path and returns how many were applied.
func (s *Service) ApplyFile(ctx context.Context, path string) (int, error) {
	entries, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	return s.ApplyEntries(ctx, entries)
}

// ApplyEntries configures parsed entries in file order.
func (s *Service) ApplyEntries(ctx context.Context, entries []FileEntry) (int, error) {
	for i, e := range entries {
		cfg, err := s.Configure(ctx, e.Request)
		if err != nil {
			return i, err
		}
		if cfg.Enabled != e.Enabled {
			if err := s.setEnabled(ctx, cfg.ModuleName, cfg.ServiceName, e.Enabled); err != nil {
				return i, err
			}
		}
	}
	return len(entries), nil
}
