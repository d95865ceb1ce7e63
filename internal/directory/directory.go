// Package directory caches participant identity resolution for a session.
package directory

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"interview-media-relay/internal/models"
	"interview-media-relay/internal/observability/logging"
	"interview-media-relay/internal/observability/metrics"
)

// Identity holds the resolved identity of a media source.
type Identity struct {
	UserID      string
	DisplayName string
	Email       string
}

// Resolver looks up the identity behind a speaker identifier. Implemented
// by the host's roster/directory collaborator; lookups may fail or come
// back empty, both of which are non-fatal.
type Resolver interface {
	Resolve(ctx context.Context, speakerID string) (Identity, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, speakerID string) (Identity, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, speakerID string) (Identity, error) {
	return f(ctx, speakerID)
}

// Participant is a resolved (or unresolvable) session participant.
// Created on first resolution of a speakerID and cached for the session.
type Participant struct {
	SpeakerID   string
	UserID      string
	DisplayName string
	Email       string
	Role        models.Role
}

// Key returns the identifier used for per-participant bookkeeping.
func (p *Participant) Key() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.SpeakerID
}

// Directory maps speaker identifiers to participants, consulting the
// external resolver once per speakerID and caching the outcome for the
// session lifetime.
type Directory struct {
	mu             sync.Mutex
	resolver       Resolver
	candidateEmail string
	cache          map[string]*Participant
	logger         zerolog.Logger
	metrics        *metrics.Metrics
}

// New creates a Directory backed by the given resolver. resolver may be
// nil, in which case every speaker resolves to the Unknown role.
func New(resolver Resolver, candidateEmail string) *Directory {
	return &Directory{
		resolver:       resolver,
		candidateEmail: strings.ToLower(strings.TrimSpace(candidateEmail)),
		cache:          make(map[string]*Participant),
		logger:         logging.WithComponent("directory"),
		metrics:        metrics.DefaultMetrics,
	}
}

// Resolve returns the participant for speakerID, performing the external
// lookup on first use. Lookup errors and misses produce an Unknown-role
// participant with an empty email; they are cached so the resolver is not
// re-queried on the hot path.
func (d *Directory) Resolve(ctx context.Context, speakerID string) *Participant {
	d.mu.Lock()
	if p, ok := d.cache[speakerID]; ok {
		d.mu.Unlock()
		return p
	}
	d.mu.Unlock()

	p := d.lookup(ctx, speakerID)

	d.mu.Lock()
	defer d.mu.Unlock()
	// Another caller may have raced the lookup; first write wins so the
	// cached value stays stable for the session.
	if existing, ok := d.cache[speakerID]; ok {
		return existing
	}
	d.cache[speakerID] = p
	return p
}

// Put pre-seeds the cache with an already-resolved identity, e.g. from a
// roster update pushed by the host. Overwrites any prior entry for the
// speakerID.
func (d *Directory) Put(speakerID string, id Identity) *Participant {
	p := d.toParticipant(speakerID, id)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[speakerID] = p
	return p
}

// Remove drops a cached participant, e.g. when the host reports them
// leaving the session.
func (d *Directory) Remove(speakerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, speakerID)
}

// Size returns the number of cached participants.
func (d *Directory) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

func (d *Directory) lookup(ctx context.Context, speakerID string) *Participant {
	if d.resolver == nil {
		return d.unknown(speakerID)
	}

	id, err := d.resolver.Resolve(ctx, speakerID)
	if err != nil {
		d.metrics.ResolutionFailures.Inc()
		d.logger.Warn().
			Err(err).
			Str("speakerId", speakerID).
			Msg("Identity resolution failed, defaulting to Unknown role")
		return d.unknown(speakerID)
	}
	if id.UserID == "" && id.Email == "" {
		d.metrics.ResolutionFailures.Inc()
		return d.unknown(speakerID)
	}
	return d.toParticipant(speakerID, id)
}

func (d *Directory) toParticipant(speakerID string, id Identity) *Participant {
	role := models.RolePanelist
	if d.candidateEmail != "" && strings.EqualFold(strings.TrimSpace(id.Email), d.candidateEmail) {
		role = models.RoleCandidate
	}
	if id.UserID == "" && id.Email == "" {
		role = models.RoleUnknown
	}
	return &Participant{
		SpeakerID:   speakerID,
		UserID:      id.UserID,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		Role:        role,
	}
}

func (d *Directory) unknown(speakerID string) *Participant {
	return &Participant{
		SpeakerID: speakerID,
		Role:      models.RoleUnknown,
	}
}
