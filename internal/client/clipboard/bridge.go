package clipboard

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/clipsync/internal/client/store"
	"github.com/dmitrijs2005/clipsync/internal/logging"
)

// CaptureFunc receives every freshly captured record after it has been
// persisted. The app layer uses it to enqueue the pending mutation and nudge
// the sync engine.
type CaptureFunc func(id string, rec store.Record)

// Bridge is the single local clipboard writer. Capture events flow from
// Watch through Capture into the store; Paste flows the other way and arms
// the echo flag so the resulting change event is swallowed.
type Bridge struct {
	clip       Clipboard
	store      *store.Store
	flag       *EchoFlag
	logger     logging.Logger
	storeImage bool
	onCapture  CaptureFunc

	mu       sync.Mutex
	lastHash [sha256.Size]byte
}

func NewBridge(clip Clipboard, st *store.Store, flag *EchoFlag, storeImage bool, onCapture CaptureFunc, logger logging.Logger) *Bridge {
	return &Bridge{
		clip:       clip,
		store:      st,
		flag:       flag,
		logger:     logger.With("module", "bridge"),
		storeImage: storeImage,
		onCapture:  onCapture,
	}
}

// Run consumes change events until ctx is done.
func (b *Bridge) Run(ctx context.Context) error {
	events := b.clip.Watch(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			if err := b.Capture(ctx); err != nil {
				b.logger.Warn(ctx, "capture failed", "error", err)
			}
		}
	}
}

// Capture handles one clipboard-change event.
func (b *Bridge) Capture(ctx context.Context) error {
	if !b.flag.ShouldCapture() {
		b.logger.Debug(ctx, "echo suppressed")
		return nil
	}

	targets, err := b.clip.Targets(ctx)
	if err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	for _, t := range targets {
		if t == MarkerTarget {
			b.logger.Debug(ctx, "marker mime present, skipping")
			return nil
		}
	}

	target := pickTarget(targets)
	if target == "" {
		return nil
	}

	raw, err := b.clip.Read(ctx, target)
	if err != nil {
		return fmt.Errorf("read %s: %w", target, err)
	}
	if len(raw) == 0 {
		return nil
	}

	// polling fires without a real change; diff against the last payload
	hash := sha256.Sum256(raw)
	b.mu.Lock()
	if hash == b.lastHash {
		b.mu.Unlock()
		return nil
	}
	b.lastHash = hash
	b.mu.Unlock()

	rec := store.Record{Typ: normalizeTyp(target), Device: "os"}
	if isImageTarget(target) {
		if !b.storeImage {
			b.logger.Debug(ctx, "image capture disabled")
			return nil
		}
		rec.Data = base64.StdEncoding.EncodeToString(raw)
	} else {
		rec.Data = string(raw)
	}

	id, err := b.store.Write(rec)
	if err != nil {
		return fmt.Errorf("store capture: %w", err)
	}

	b.logger.Info(ctx, "captured record", "id", id, "typ", rec.Typ, "bytes", len(raw))
	if b.onCapture != nil {
		b.onCapture(id, rec)
	}
	return nil
}

// Paste writes a stored record back to the OS clipboard.
func (b *Bridge) Paste(ctx context.Context, id string) error {
	rec, err := b.store.Read(id)
	if err != nil {
		return fmt.Errorf("load record %s: %w", id, err)
	}

	raw := []byte(rec.Data)
	if rec.IsImage() {
		raw, err = base64.StdEncoding.DecodeString(rec.Data)
		if err != nil {
			return fmt.Errorf("decode record %s: %w", id, err)
		}
	}

	if err := b.flag.Suppress(); err != nil {
		return fmt.Errorf("arm echo flag: %w", err)
	}

	b.mu.Lock()
	b.lastHash = sha256.Sum256(raw)
	b.mu.Unlock()

	if err := b.clip.Write(ctx, rec.Typ, raw); err != nil {
		return err
	}
	b.logger.Info(ctx, "pasted record", "id", id, "typ", rec.Typ)
	return nil
}
