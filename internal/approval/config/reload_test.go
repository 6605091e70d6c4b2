package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"approvalflow/internal/approval/store/memory"
)

const oneWorkflow = `
workflows:
  - module: license
    service: issue
    levels:
      - {name: supervisor, approver_roles: [supervisor]}
`

const twoLevels = `
workflows:
  - module: license
    service: issue
    levels:
      - {name: supervisor, approver_roles: [supervisor]}
      - {name: director, approver_roles: [director]}
`

func TestReloaderAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(oneWorkflow), 0o600))

	svc, err := New(memory.New(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	_, err = svc.ApplyFile(context.Background(), path)
	require.NoError(t, err)

	applied := make(chan int, 8)
	r, err := NewReloader(svc, path,
		WithDebounce(20*time.Millisecond),
		WithAppliedNotify(applied),
		WithReloadLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte(twoLevels), 0o600))

	// a write may surface as truncate + write; wait for the settled content
	require.Eventually(t, func() bool {
		cfg, err := svc.Get(context.Background(), "license", "issue")
		return err == nil && len(cfg.Levels) == 2
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewReloaderRequiresFile(t *testing.T) {
	svc, err := New(memory.New())
	require.NoError(t, err)
	_, err = NewReloader(svc, filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
