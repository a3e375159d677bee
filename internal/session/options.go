package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fluia/leadmagnet/internal/domain"
	"github.com/fluia/leadmagnet/internal/script"
)

// Variant is the deployment's policy for remote failures and navigation.
type Variant string

const (
	// VariantScripted walks the local script and falls back to it when the
	// remote service fails.
	VariantScripted Variant = "scripted"
	// VariantServer takes every question after the first from the remote
	// service and stalls on failure.
	VariantServer Variant = "server"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantScripted || v == VariantServer
}

// Remote sends one answer to the question service.
type Remote interface {
	Send(ctx context.Context, payload domain.WebhookPayload) (domain.Reply, error)
}

// Store persists session snapshots.
type Store interface {
	Save(ctx context.Context, s domain.Session) error
	Load(ctx context.Context, sessionID string) (*domain.Session, error)
	Clear(ctx context.Context, sessionID string) error
}

const (
	defaultSource          = "lead-magnet-fluia"
	defaultUserAgent       = "leadmagnet-server"
	defaultStepPercent     = 10
	defaultErrorClearDelay = 3 * time.Second
)

var (
	errNilScript      = errors.New("session: script is required")
	errNilRemote      = errors.New("session: remote is required")
	errNilStore       = errors.New("session: store is required")
	errUnknownVariant = errors.New("session: unknown variant")
)

// Options configures an Orchestrator. Zero values take defaults.
type Options struct {
	Variant Variant
	Script  *script.Script
	Remote  Remote
	Store   Store
	Logger  *slog.Logger

	// Source is the fixed tag sent with every payload.
	Source string
	// UserAgent is used when the request context carries no client descriptor.
	UserAgent string
	// TotalSteps is the expected length of a server-driven flow; 0 means unknown.
	TotalSteps int
	// StepPercent is the progress unit when the total is unknown.
	StepPercent int
	// ErrorClearDelay is how long a fallback notice stays visible.
	ErrorClearDelay time.Duration

	NewID func() string
	Now   func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if o.Variant == "" {
		o.Variant = VariantScripted
	}
	if !o.Variant.Valid() {
		return o, fmt.Errorf("%w: %q", errUnknownVariant, o.Variant)
	}
	if o.Script == nil {
		return o, errNilScript
	}
	if o.Remote == nil {
		return o, errNilRemote
	}
	if o.Store == nil {
		return o, errNilStore
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Source == "" {
		o.Source = defaultSource
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.TotalSteps < 0 {
		o.TotalSteps = 0
	}
	if o.StepPercent <= 0 {
		o.StepPercent = defaultStepPercent
	}
	if o.ErrorClearDelay <= 0 {
		o.ErrorClearDelay = defaultErrorClearDelay
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

type clientDescriptorKey struct{}

// WithClientDescriptor attaches the visitor's user agent to ctx so payloads
// report the browser rather than the server.
func WithClientDescriptor(ctx context.Context, userAgent string) context.Context {
	if userAgent == "" {
		return ctx
	}
	return context.WithValue(ctx, clientDescriptorKey{}, userAgent)
}

func clientDescriptor(ctx context.Context, fallback string) string {
	if ua, ok := ctx.Value(clientDescriptorKey{}).(string); ok && ua != "" {
		return ua
	}
	return fallback
}
