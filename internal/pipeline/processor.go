// Package pipeline drives a single object-change event through
// retrieval, scanning, disposition and alerting. Each event is
// independent; the consumer decides message acknowledgment from the
// per-event results.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/ipsix/avsentry/internal/events"
	"github.com/ipsix/avsentry/internal/hashing"
	"github.com/ipsix/avsentry/internal/notify"
	"github.com/ipsix/avsentry/internal/objectstore"
	"github.com/ipsix/avsentry/internal/records"
	"github.com/ipsix/avsentry/internal/scanengine"
)

type Processor struct {
	store    objectstore.Gateway
	engine   scanengine.Engine
	notifier *notify.Notifier
	audit    *records.RecordStore // optional
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewProcessor(store objectstore.Gateway, engine scanengine.Engine, notifier *notify.Notifier, audit *records.RecordStore, logger *zap.SugaredLogger) *Processor {
	return &Processor{
		store:    store,
		engine:   engine,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process runs one event to a terminal result. The local copy of the
// object is removed on every exit path.
func (p *Processor) Process(ctx context.Context, ev events.ChangeEvent) Result {
	started := p.now()
	log := p.logger.With("bucket", ev.Bucket, "key", ev.Key, "size_bytes", ev.SizeBytes)

	local, err := p.store.Fetch(ctx, ev.Bucket, ev.Key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			// Expected under eventual consistency: the object was
			// deleted after the notification fired. Nothing to scan.
			log.Infow("object gone before fetch, skipping")
			p.saveRecord(records.ScanRecord{
				Bucket:     ev.Bucket,
				Key:        ev.Key,
				SizeBytes:  ev.SizeBytes,
				Outcome:    records.OutcomeSkippedMissing,
				StartedAt:  started,
				FinishedAt: p.now(),
			}, log)
			return completed()
		}
		if errors.Is(err, objectstore.ErrAccessDenied) {
			log.Errorw("fetch denied", "error", err)
			return permanent("fetch access denied", err)
		}
		log.Errorw("fetch failed", "error", err)
		return transient("fetch failed", err)
	}
	defer func() {
		if rmErr := os.Remove(local); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnw("temp file cleanup failed", "path", local, "error", rmErr)
		}
	}()

	digest, err := hashing.Digest(local)
	if err != nil {
		log.Errorw("digest failed", "error", err)
		return transient("digest failed", err)
	}
	log = log.With("digest", digest)

	outcome := p.engine.Scan(ctx, local)
	if outcome.Indeterminate() {
		// No verdict: write nothing, alert nothing, let redelivery
		// retry the scan.
		log.Errorw("scan indeterminate", "detail", outcome.Detail)
		return transient("scan indeterminate: "+outcome.Detail, errors.New(outcome.Detail))
	}

	if outcome.Clean() {
		if err := p.store.TagClean(ctx, ev.Bucket, ev.Key, digest); err != nil {
			log.Errorw("clean tag write failed", "error", err)
			return transient("clean tag write failed", err)
		}
		log.Infow("object clean", "outcome", "clean")
		p.saveRecord(records.ScanRecord{
			Bucket:     ev.Bucket,
			Key:        ev.Key,
			SizeBytes:  ev.SizeBytes,
			Digest:     digest,
			Outcome:    records.OutcomeClean,
			StartedAt:  started,
			FinishedAt: p.now(),
		}, log)
		return completed()
	}

	// Infected. Quarantine must succeed before the event may complete;
	// a failed attempt is retried via redelivery, never downgraded.
	location, err := p.store.Quarantine(ctx, ev.Bucket, ev.Key, digest, outcome.Signature)
	if err != nil {
		log.Errorw("quarantine failed", "signature", outcome.Signature, "error", err)
		return transient("quarantine failed", err)
	}
	log.Warnw("malware detected and quarantined",
		"outcome", "infected",
		"signature", outcome.Signature,
		"quarantine_location", location,
	)

	subject, body := p.buildAlert(ev, digest, location, outcome)
	p.notifier.Alert(ctx, subject, body)

	p.saveRecord(records.ScanRecord{
		Bucket:             ev.Bucket,
		Key:                ev.Key,
		SizeBytes:          ev.SizeBytes,
		Digest:             digest,
		Outcome:            records.OutcomeInfected,
		VirusName:          outcome.Signature,
		QuarantineLocation: location,
		ScanOutput:         outcome.Output,
		StartedAt:          started,
		FinishedAt:         p.now(),
	}, log)
	return completed()
}

// saveRecord is best effort: the object-store tags are the durable
// disposition, so a failed audit write never fails the event.
func (p *Processor) saveRecord(rec records.ScanRecord, log *zap.SugaredLogger) {
	if p.audit == nil {
		return
	}
	if err := p.audit.Save(rec); err != nil {
		log.Errorw("audit record save failed", "error", err)
	}
}

func (p *Processor) buildAlert(ev events.ChangeEvent, digest, location string, outcome scanengine.Outcome) (subject, body string) {
	subject = fmt.Sprintf("MALWARE DETECTED - %s", outcome.Signature)
	body = fmt.Sprintf(`SECURITY ALERT - MALWARE DETECTED
=================================

Infected object: %s
Original bucket: %s
Detected virus:  %s
SHA-256:         %s
Size:            %d bytes
Scanned at:      %s

Action taken:
- object copied to quarantine: %s
- original object tagged INFECTED

Scan report:
%s
`,
		ev.Key, ev.Bucket, outcome.Signature, digest, ev.SizeBytes,
		p.now().Format(time.RFC3339), location, outcome.Output)
	return subject, body
}
