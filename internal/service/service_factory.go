package service

import (
	"go.uber.org/zap"

	"github.com/The-Burnes-Center/ai-iep-sub001/internal/config"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/events"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/otp"
	"github.com/The-Burnes-Center/ai-iep-sub001/internal/repository"
)

// Dependencies are the collaborators the auth services are built from.
// Limiter and Recorder are optional.
type Dependencies struct {
	Generator   CodeGenerator
	Notifier    otp.Notifier
	Limiter     SendLimiter
	Hasher      events.PhoneHasher
	Recorder    *events.Recorder
	ProfileRepo repository.ProfileRepository
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	cfg    *config.Config
	deps   Dependencies
	logger *zap.Logger

	issuer      *ChallengeIssuer
	arbiter     *SessionArbiter
	verifier    *AnswerVerifier
	provisioner *ProfileProvisioner
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(cfg *config.Config, deps Dependencies, logger *zap.Logger) *ServiceFactory {
	return &ServiceFactory{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
}

// ChallengeIssuer returns the challenge issuer instance (singleton)
func (f *ServiceFactory) ChallengeIssuer() *ChallengeIssuer {
	if f.issuer == nil {
		f.issuer = NewChallengeIssuer(
			f.deps.Generator,
			f.deps.Notifier,
			f.deps.Limiter,
			f.deps.Hasher,
			f.deps.Recorder,
			f.cfg.Auth,
			f.logger.Named("issuer"),
		)
	}
	return f.issuer
}

// SessionArbiter returns the session arbiter instance (singleton)
func (f *ServiceFactory) SessionArbiter() *SessionArbiter {
	if f.arbiter == nil {
		f.arbiter = NewSessionArbiter(f.cfg.Auth.MaxRounds, f.deps.Recorder, f.logger.Named("arbiter"))
	}
	return f.arbiter
}

// ProfileProvisioner returns the profile provisioner instance (singleton)
func (f *ServiceFactory) ProfileProvisioner() *ProfileProvisioner {
	if f.provisioner == nil {
		f.provisioner = NewProfileProvisioner(f.deps.ProfileRepo, f.deps.Recorder, f.logger.Named("provisioner"))
	}
	return f.provisioner
}

// AnswerVerifier returns the answer verifier instance (singleton)
func (f *ServiceFactory) AnswerVerifier() *AnswerVerifier {
	if f.verifier == nil {
		f.verifier = NewAnswerVerifier(
			f.ProfileProvisioner(),
			f.deps.Recorder,
			f.cfg.Profile.Timeout,
			f.logger.Named("verifier"),
		)
	}
	return f.verifier
}
