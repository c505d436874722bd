package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axionic/rsak/pkg/rsak/artifact"
	"github.com/axionic/rsak/pkg/rsak/constitution"
)

const generatorYAML = `
meta:
  version: "1.0.0"
action_space:
  action_types:
    - type: Notify
AuthorityModel:
  action_permissions:
    - authority: AUTH_OPS
      actions: ["Notify"]
  amendment_permissions: []
  treaty_permissions: []
`

func loadGeneratorConstitution(t *testing.T) *constitution.Constitution {
	t.Helper()
	c, err := constitution.Load([]byte(generatorYAML), "")
	require.NoError(t, err)
	return c
}

func TestTimestampObservation(t *testing.T) {
	obs, err := TimestampObservation(3, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, artifact.ObservationTimestamp, obs.Kind)
	assert.Equal(t, artifact.AuthorHost, obs.Author)
	assert.Equal(t, 3, obs.Payload["cycle_index"])
}

func TestSystemEventObservation(t *testing.T) {
	obs, err := SystemEventObservation(artifact.SystemStartupIntegrityOK, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, artifact.ObservationSystem, obs.Kind)
	assert.Equal(t, string(artifact.SystemStartupIntegrityOK), obs.Payload["event"])
}

func TestNotifyCandidate_CitesAnAuthorityPermittedToNotify(t *testing.T) {
	c := loadGeneratorConstitution(t)
	bundle, err := NotifyCandidate(c, "hello", []string{"obs-1"}, "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	require.Len(t, bundle.AuthorityCitations, 1)
	assert.Equal(t, artifact.ActionNotify, bundle.ActionRequest.ActionType)
	assert.Equal(t, artifact.AuthorReflection, bundle.ActionRequest.Author)
	assert.NotNil(t, bundle.Justification)
}

func TestNotifyCandidate_ErrorsWhenNoAuthorityMayNotify(t *testing.T) {
	c, err := constitution.Load([]byte(`
meta:
  version: "1.0.0"
action_space:
  action_types:
    - type: ReadLocal
AuthorityModel:
  action_permissions:
    - authority: AUTH_OPS
      actions: ["ReadLocal"]
  amendment_permissions: []
  treaty_permissions: []
`), "")
	require.NoError(t, err)

	_, err = NotifyCandidate(c, "hello", nil, "2026-01-01T00:00:00Z")
	assert.Error(t, err)
}

func TestScorer_DefaultExprFavorsJustificationAndFewerCitations(t *testing.T) {
	s, err := NewScorer()
	require.NoError(t, err)

	withJustification := &artifact.CandidateBundle{
		Justification:      &artifact.Justification{},
		AuthorityCitations: []string{"a"},
	}
	noJustification := &artifact.CandidateBundle{
		AuthorityCitations: []string{"a"},
	}
	manyCitations := &artifact.CandidateBundle{
		Justification:      &artifact.Justification{},
		AuthorityCitations: []string{"a", "b"},
	}

	scoreWith, err := s.Score(withJustification, "")
	require.NoError(t, err)
	scoreWithout, err := s.Score(noJustification, "")
	require.NoError(t, err)
	scoreMany, err := s.Score(manyCitations, "")
	require.NoError(t, err)

	assert.Greater(t, scoreWith, scoreWithout)
	assert.Greater(t, scoreWith, scoreMany)
}

func TestScorer_CompilesAndCachesCustomExpression(t *testing.T) {
	s, err := NewScorer()
	require.NoError(t, err)
	bundle := &artifact.CandidateBundle{AuthorityCitations: []string{"a", "b", "c"}}

	score, err := s.Score(bundle, "citation_count > 2 ? 1.0 : 0.0")
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	// second call against the same expression exercises the cache path
	score2, err := s.Score(bundle, "citation_count > 2 ? 1.0 : 0.0")
	require.NoError(t, err)
	assert.Equal(t, score, score2)
}

func TestScorer_RejectsUncompilableExpression(t *testing.T) {
	s, err := NewScorer()
	require.NoError(t, err)
	_, err = s.Score(&artifact.CandidateBundle{}, "not ( valid cel")
	assert.Error(t, err)
}
