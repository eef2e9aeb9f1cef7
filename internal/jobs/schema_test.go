package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takak2166/notionsnap/internal/models"
)

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	tests := map[string]struct {
		kind    models.JobKind
		payload string
		wantErr bool
	}{
		"snapshot ok": {
			kind:    models.JobSnapshot,
			payload: `{"userId":"u1"}`,
		},
		"snapshot without user": {
			kind:    models.JobSnapshot,
			payload: `{}`,
			wantErr: true,
		},
		"snapshot with empty user": {
			kind:    models.JobSnapshot,
			payload: `{"userId":""}`,
			wantErr: true,
		},
		"diff ok": {
			kind:    models.JobDiff,
			payload: `{"userId":"u1","snapshotIdFrom":"a","snapshotIdTo":"b"}`,
		},
		"diff missing to": {
			kind:    models.JobDiff,
			payload: `{"userId":"u1","snapshotIdFrom":"a"}`,
			wantErr: true,
		},
		"restore with null targets": {
			kind:    models.JobRestore,
			payload: `{"userId":"u1","snapshotId":"s1","targets":null}`,
		},
		"restore with targets": {
			kind:    models.JobRestore,
			payload: `{"userId":"u1","snapshotId":"s1","targets":["a","b"],"targetParentPageId":"p"}`,
		},
		"restore with non-string target": {
			kind:    models.JobRestore,
			payload: `{"userId":"u1","snapshotId":"s1","targets":[1]}`,
			wantErr: true,
		},
		"not json": {
			kind:    models.JobSnapshot,
			payload: `{`,
			wantErr: true,
		},
		"unknown kind": {
			kind:    models.JobKind("export"),
			payload: `{}`,
			wantErr: true,
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := v.Validate(tt.kind, []byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			assert.NoError(t, err)
		})
	}
}
