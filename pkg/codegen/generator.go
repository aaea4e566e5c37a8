// Package codegen allocates short human-friendly device and student codes
// that are unique across every hub.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/edgehub/hubcore/pkg/security"
)

// Kind selects the code population and format rules
type Kind string

const (
	KindDevice  Kind = "device"
	KindStudent Kind = "student"
)

const (
	// DefaultMaxAttempts bounds the total number of candidates across all lengths
	DefaultMaxAttempts = 15

	// firstGrowth and secondGrowth are the attempt counts after which the
	// candidate length grows by one.
	firstGrowth  = 5
	secondGrowth = 10

	// Backoff starts once this many attempts have collided.
	backoffAfter = 3

	defaultBackoffBase = 10 * time.Millisecond

	studentStartLength = 4
)

var (
	// ErrCodeGenerationExhausted is returned when no unique code was found
	// within the attempt budget.
	ErrCodeGenerationExhausted = errors.New("unable to generate a unique code, please try again")

	// ErrDuplicateCode is returned by insert callbacks when the storage layer
	// rejects a code that is already taken.
	ErrDuplicateCode = errors.New("code already exists")

	studentCodePattern = regexp.MustCompile(`^[A-HJKMNP-Z][A-HJKMNP-Z2-9]{2,5}$`)
	deviceCodePattern  = regexp.MustCompile(`^[A-HJKMNP-Z2-9]{6,8}$`)
)

// RandomSource produces random candidates. *security.Service satisfies it.
type RandomSource interface {
	GenerateSecureRandom(length int, charset string) (string, error)
	ReplaceLeadingDigit(code string) (string, error)
}

// ExistsFunc reports whether code is already in use
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// InsertFunc persists a record under code. It returns ErrDuplicateCode
// (possibly wrapped) when the code is already taken.
type InsertFunc func(ctx context.Context, code string) error

// Observer receives one call per candidate tried. It is optional.
type Observer interface {
	RecordCodeAttempt(kind string, collided bool)
}

// Config holds generator tuning
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
}

// Generator implements the unique code allocation policy
type Generator struct {
	random      RandomSource
	logger      *logrus.Entry
	observer    Observer
	maxAttempts int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewGenerator creates a generator drawing candidates from random
func NewGenerator(random RandomSource, cfg Config, logger *logrus.Logger) *Generator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Generator{
		random:      random,
		logger:      logger.WithField("component", "codegen"),
		maxAttempts: cfg.MaxAttempts,
		backoffBase: cfg.BackoffBase,
		sleep:       sleepContext,
	}
}

// WithObserver attaches a metrics observer
func (g *Generator) WithObserver(o Observer) *Generator {
	g.observer = o
	return g
}

// Generate returns a code for which exists reports false. The check and a
// later save are not atomic; prefer Allocate when the storage layer
// enforces uniqueness.
func (g *Generator) Generate(ctx context.Context, kind Kind, exists ExistsFunc) (string, error) {
	return g.run(ctx, kind, func(ctx context.Context, code string) (bool, error) {
		taken, err := exists(ctx, code)
		if err != nil {
			return false, fmt.Errorf("failed to check code uniqueness: %w", err)
		}
		return !taken, nil
	})
}

// Allocate generates candidates and hands each one to insert until the
// storage layer accepts it. Only ErrDuplicateCode triggers a retry.
func (g *Generator) Allocate(ctx context.Context, kind Kind, insert InsertFunc) (string, error) {
	return g.run(ctx, kind, func(ctx context.Context, code string) (bool, error) {
		err := insert(ctx, code)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, ErrDuplicateCode) {
			return false, nil
		}
		return false, err
	})
}

// try reports whether code was accepted
type try func(ctx context.Context, code string) (bool, error)

func (g *Generator) run(ctx context.Context, kind Kind, accept try) (string, error) {
	base, err := minLength(kind)
	if err != nil {
		return "", err
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt >= backoffAfter {
			if err := g.sleep(ctx, time.Duration(attempt)*g.backoffBase); err != nil {
				return "", err
			}
		}

		code, err := g.candidate(kind, base+growth(attempt))
		if err != nil {
			return "", err
		}

		ok, err := accept(ctx, code)
		if err != nil {
			return "", err
		}

		if g.observer != nil {
			g.observer.RecordCodeAttempt(string(kind), !ok)
		}

		if ok {
			if attempt > 0 {
				g.logger.WithFields(logrus.Fields{
					"kind":     kind,
					"attempts": attempt + 1,
					"length":   len(code),
				}).Debug("Unique code allocated after collisions")
			}
			return code, nil
		}
	}

	g.logger.WithFields(logrus.Fields{
		"kind":         kind,
		"max_attempts": g.maxAttempts,
	}).Error("Code generation exhausted")

	return "", ErrCodeGenerationExhausted
}

func (g *Generator) candidate(kind Kind, length int) (string, error) {
	code, err := g.random.GenerateSecureRandom(length, security.DefaultCharset)
	if err != nil {
		return "", fmt.Errorf("failed to generate code candidate: %w", err)
	}

	if kind == KindStudent {
		code, err = g.random.ReplaceLeadingDigit(code)
		if err != nil {
			return "", fmt.Errorf("failed to generate code candidate: %w", err)
		}
	}

	return code, nil
}

// growth returns the extra length for a zero-based attempt index
func growth(attempt int) int {
	switch {
	case attempt >= secondGrowth:
		return 2
	case attempt >= firstGrowth:
		return 1
	default:
		return 0
	}
}

func minLength(kind Kind) (int, error) {
	switch kind {
	case KindDevice:
		return security.DeviceCodeMinLength, nil
	case KindStudent:
		return studentStartLength, nil
	default:
		return 0, fmt.Errorf("unknown code kind: %s", kind)
	}
}

// ValidStudentCode reports whether code has the student code format
func ValidStudentCode(code string) bool {
	return studentCodePattern.MatchString(code)
}

// ValidDeviceCode reports whether code has the device code format
func ValidDeviceCode(code string) bool {
	return deviceCodePattern.MatchString(code)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
