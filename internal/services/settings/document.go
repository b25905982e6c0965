package settings

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/leylinehq/session-service/internal/core/docdb"
	domainerrors "github.com/leylinehq/session-service/internal/domain/errors"
)

// DocumentID is the well-known id of the service configuration document.
const DocumentID = "serviceConfig"

const (
	defaultBasePollInterval = 15 * time.Second
	defaultPollJitter       = 30 * time.Second
	updateAttempts          = 3
	conflictBackoff         = 2500 * time.Millisecond
)

// versionedConfig is the stored shape of the document: a version counter
// guarding compare-and-swap replacement, and the configuration payload.
type versionedConfig struct {
	ID      string `bson:"_id"`
	Version int64  `bson:"version"`
	Data    Config `bson:"data"`
}

// DocumentOptions tunes the document's polling and retry behavior. The
// zero value picks sensible defaults.
type DocumentOptions struct {
	BasePollInterval time.Duration
	PollJitter       time.Duration

	// Sleep is called between conflicting update attempts. Overridable so
	// tests do not wait out the backoff.
	Sleep func(time.Duration)
}

// Document is an optimistic-concurrency view of the service configuration
// document. Reads are served from a local copy refreshed by jittered
// polling; writes are compare-and-swap replacements guarded on the version
// counter, retried a bounded number of times. Change streams would beat
// polling, but they require a replica set, so polling is the portable
// default.
type Document struct {
	collection docdb.Collection
	logger     zerolog.Logger
	opts       DocumentOptions

	mu        sync.RWMutex
	current   versionedConfig
	listeners []func(Config, int64)

	done chan struct{}
	once sync.Once
}

// OpenDocument loads the current configuration document (an absent
// document reads as version zero with empty data) and starts polling for
// out-of-band changes.
func OpenDocument(ctx context.Context, collection docdb.Collection, opts DocumentOptions, logger zerolog.Logger) (*Document, error) {
	if opts.BasePollInterval <= 0 {
		opts.BasePollInterval = defaultBasePollInterval
	}
	if opts.PollJitter <= 0 {
		opts.PollJitter = defaultPollJitter
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	d := &Document{
		collection: collection,
		logger:     logger,
		opts:       opts,
		current:    versionedConfig{ID: DocumentID},
		done:       make(chan struct{}),
	}

	if err := d.load(ctx); err != nil {
		return nil, err
	}

	go d.pollLoop()

	return d, nil
}

// Close stops the polling loop.
func (d *Document) Close() {
	d.once.Do(func() { close(d.done) })
}

// Data returns the current configuration payload.
func (d *Document) Data() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current.Data
}

// Version returns the current document version; zero means the document
// has never been written.
func (d *Document) Version() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current.Version
}

// OnChange registers a listener invoked whenever a new document version is
// observed, whether through a local update or polling. Listeners must not
// block.
func (d *Document) OnChange(fn func(Config, int64)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// Update applies fn to the current configuration and writes the result
// back, guarded on the version counter. When expectedVersion is
// non-negative, the update additionally fails with a conflict if the
// stored version differs, so callers can do read-modify-write across HTTP
// round trips. Version-guard races are retried a bounded number of times.
func (d *Document) Update(ctx context.Context, fn func(Config) (Config, error), expectedVersion int64) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		if err := d.load(ctx); err != nil {
			return err
		}

		d.mu.RLock()
		current := d.current
		d.mu.RUnlock()

		if expectedVersion >= 0 && current.Version != expectedVersion {
			return domainerrors.NewConflictError(
				"service configuration version conflict",
				fmt.Sprintf("expected version %d, found %d", expectedVersion, current.Version))
		}

		next, err := fn(current.Data)
		if err != nil {
			return err
		}

		replacement := versionedConfig{
			ID:      DocumentID,
			Version: current.Version + 1,
			Data:    next,
		}

		conflicted, err := d.write(ctx, current.Version, replacement)
		if err != nil {
			return err
		}
		if !conflicted {
			d.setCurrent(replacement)
			return nil
		}

		d.logger.Debug().
			Int64("version", current.Version).
			Int("attempt", attempt+1).
			Msg("service configuration update conflicted; retrying")
		d.opts.Sleep(conflictBackoff)
	}

	return domainerrors.NewConflictError(
		"service configuration update kept conflicting", "")
}

// write persists the replacement guarded on fromVersion. It reports
// whether the write lost a version race.
func (d *Document) write(ctx context.Context, fromVersion int64, replacement versionedConfig) (bool, error) {
	if fromVersion == 0 {
		_, err := d.collection.InsertOne(ctx, replacement)
		if errors.Is(err, docdb.ErrDuplicateKey) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to create service configuration: %w", err)
		}
		return false, nil
	}

	result, err := d.collection.ReplaceOne(ctx,
		map[string]interface{}{"_id": DocumentID, "version": fromVersion},
		replacement)
	if err != nil {
		return false, fmt.Errorf("failed to replace service configuration: %w", err)
	}

	return result.MatchedCount == 0, nil
}

func (d *Document) load(ctx context.Context) error {
	var stored versionedConfig
	err := d.collection.FindOne(ctx, map[string]interface{}{"_id": DocumentID}).Decode(&stored)
	if errors.Is(err, docdb.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load service configuration: %w", err)
	}

	d.setCurrent(stored)
	return nil
}

func (d *Document) setCurrent(next versionedConfig) {
	d.mu.Lock()
	changed := next.Version != d.current.Version
	if changed {
		d.current = next
	}
	listeners := d.listeners
	d.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(next.Data, next.Version)
	}
}

func (d *Document) pollLoop() {
	for {
		timer := time.NewTimer(d.pollInterval())
		select {
		case <-d.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := d.load(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("service configuration poll failed")
		}
		cancel()
	}
}

// pollInterval spreads polls across a window so instances do not stampede
// the collection in lockstep.
func (d *Document) pollInterval() time.Duration {
	return d.opts.BasePollInterval + time.Duration(rand.Int63n(int64(d.opts.PollJitter)))
}
