package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/store/memory"
	dErrors "approvalflow/pkg/domain-errors"
)

const sampleFile = `
defaults:
  timeout_hours: 48
workflows:
  - module: license
    service: issue
    endpoint: /license/issue
    levels:
      - name: supervisor
        approver_roles: [supervisor]
        timeout_hours: 24
      - name: director
        approver_roles: [director, " admin", director]
      - name: legal
        approver_roles: [legal]
        required: false
  - module: fee
    service: waive
    timeout_hours: 12
    enabled: false
    conditions:
      - field: amount
        op: gt
        value: 1000
    levels:
      - name: finance
        approver_roles: [finance]
`

func TestParseFile(t *testing.T) {
	entries, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	issue := entries[0].Request
	assert.Equal(t, "license", issue.ModuleName)
	assert.Equal(t, 48, issue.TimeoutHours, "file default applies")
	require.Len(t, issue.Levels, 3)
	assert.True(t, issue.Levels[0].Required, "levels are required unless stated")
	assert.False(t, issue.Levels[2].Required)
	assert.Equal(t, []models.Role{"director", "admin"}, issue.Levels[1].ApproverRoles)
	assert.True(t, entries[0].Enabled)

	waive := entries[1]
	assert.Equal(t, 12, waive.Request.TimeoutHours)
	assert.False(t, waive.Enabled)
	require.Len(t, waive.Request.Conditions, 1)
	assert.Equal(t, models.OpGt, waive.Request.Conditions[0].Op)
}

func TestParseFileRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"malformed yaml": "workflows: [",
		"no levels":      "workflows:\n  - {module: a, service: b}\n",
		"duplicate key": `
workflows:
  - {module: a, service: b, levels: [{name: x, approver_roles: [r]}]}
  - {module: a, service: b, levels: [{name: y, approver_roles: [r]}]}
`,
		"bad operator": `
workflows:
  - module: a
    service: b
    conditions: [{field: f, op: between, value: 1}]
    levels: [{name: x, approver_roles: [r]}]
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(doc))
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
		})
	}
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflows.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o600))

	store := memory.New()
	svc, err := New(store)
	require.NoError(t, err)

	n, err := svc.ApplyFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	waive, err := svc.Get(context.Background(), "fee", "waive")
	require.NoError(t, err)
	assert.False(t, waive.Enabled)

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = svc.ApplyFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
