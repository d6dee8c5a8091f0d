package util

import "errors"

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrArtifactNotFound = errors.New("rating model artifact not found")
	ErrArtifactCorrupt  = errors.New("rating model artifact is corrupt")
	ErrModelNotTrained  = errors.New("rating model is not trained")
	ErrMissingFeature   = errors.New("missing required feature")
	ErrFeatureWidth     = errors.New("feature vector width mismatch")
	ErrRunInProgress    = errors.New("pipeline run already in progress")
	ErrRunFailed        = errors.New("pipeline run failed")
	ErrDeliveryFailed   = errors.New("feedback delivery failed")
)
