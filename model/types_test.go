package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromptValidate(t *testing.T) {
	require.Error(t, Prompt("").Validate())
	require.NoError(t, Prompt("hello").Validate())
}

func TestFrameworkDetectionResultValidate(t *testing.T) {
	ok := FrameworkDetectionResult{Frameworks: []string{"react", "typescript"}, Confidence: 0.8, Method: MethodPattern}
	assert.NoError(t, ok.Validate())

	dup := FrameworkDetectionResult{Frameworks: []string{"react", "react"}, Confidence: 0.8, Method: MethodPattern}
	assert.ErrorIs(t, dup.Validate(), ErrDuplicateFramework)

	upper := FrameworkDetectionResult{Frameworks: []string{"React"}, Confidence: 0.8, Method: MethodPattern}
	assert.ErrorIs(t, upper.Validate(), ErrFrameworkNotLowercase)

	emptyBadMethod := FrameworkDetectionResult{Frameworks: nil, Confidence: 0.1, Method: MethodPattern}
	assert.ErrorIs(t, emptyBadMethod.Validate(), ErrEmptyFrameworksBadMethod)

	emptyHighConfidence := FrameworkDetectionResult{Frameworks: nil, Confidence: 0.9, Method: MethodFallback}
	assert.ErrorIs(t, emptyHighConfidence.Validate(), ErrEmptyFrameworksHighConfidence)

	emptyOK := FrameworkDetectionResult{Frameworks: nil, Confidence: 0.2, Method: MethodFallback}
	assert.NoError(t, emptyOK.Validate())
}

func TestClampedTokenReduction(t *testing.T) {
	assert.InDelta(t, 0.7, ClampedTokenReduction(1000, 300), 1e-9)
	assert.Equal(t, 0.0, ClampedTokenReduction(100, 500))
	assert.Equal(t, 0.0, ClampedTokenReduction(0, 0))
	assert.Equal(t, 1.0, ClampedTokenReduction(100, -10))
}

func TestCuratedContentValidate(t *testing.T) {
	c := CuratedContent{Meta: CurationMeta{InputTokens: 1000, OutputTokens: 300}, TokenReduction: 0.7}
	assert.NoError(t, c.Validate())

	bad := CuratedContent{Meta: CurationMeta{InputTokens: 1000, OutputTokens: 300}, TokenReduction: 0.1}
	assert.ErrorIs(t, bad.Validate(), ErrTokenReductionMismatch)
}

func TestTaskDependencyValidate(t *testing.T) {
	assert.ErrorIs(t, TaskDependency{TaskID: "a", DependsOnTaskID: "a"}.Validate(), ErrSelfDependency)
	assert.NoError(t, TaskDependency{TaskID: "a", DependsOnTaskID: "b"}.Validate())
}

func TestOutcomeFatal(t *testing.T) {
	assert.True(t, NewDeadline("too slow").Fatal())
	assert.True(t, NewInternal("boom", nil).Fatal())
	assert.False(t, NewUpstreamDown("down", nil).Fatal())
	assert.False(t, NewCacheDegraded("disk full", nil).Fatal())
}
