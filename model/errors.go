package model

import "errors"

// Sentinel validation errors for the data-model invariants.
var (
	ErrEmptyPrompt                   = errors.New("model: prompt must not be empty")
	ErrInvalidConfidence              = errors.New("model: confidence must be in [0,1]")
	ErrEmptyFrameworksBadMethod       = errors.New("model: empty frameworks requires method fallback or ai")
	ErrEmptyFrameworksHighConfidence  = errors.New("model: empty frameworks requires confidence <= 0.5")
	ErrFrameworkNotLowercase          = errors.New("model: framework identifiers must be lowercase")
	ErrDuplicateFramework             = errors.New("model: duplicate framework identifier")
	ErrTokenReductionMismatch         = errors.New("model: tokenReduction does not match input/output tokens")
	ErrSelfDependency                 = errors.New("model: a task cannot depend on itself")
	ErrExpiresBeforeCreated           = errors.New("model: cache entry expiresAt must be after createdAt")
	ErrLastAccessedBeforeCreated      = errors.New("model: cache entry lastAccessed must not precede createdAt")
)
