package usecase

import (
	"time"

	"github.com/kirillkom/folder-rag/internal/core/domain"
)

// NopObserver discards retrieval telemetry.
type NopObserver struct{}

func (NopObserver) ObserveAccessDecision(domain.AccessDecision)        {}
func (NopObserver) ObserveAccessScope(bool, int)                       {}
func (NopObserver) ObserveRetriever(string, time.Duration, int, error) {}
func (NopObserver) ObserveRetrieval(string, int, int, time.Duration)   {}
