// Package ingest turns an uploaded card photo into a stored, normalized image
// attached to a new card, enriching the card with extracted metadata when the
// vision service can provide it.
//
// A card is created up front so that its id can scope the storage path. Any
// failure before the image reference is attached rolls the card back: the
// placeholder is deleted and, if the image had been stored, so is the file.
// Metadata extraction runs after the image is attached and never triggers a
// rollback.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"cardtracker/models"
	"cardtracker/processor"
	"cardtracker/storage"
	"cardtracker/vision"
)

// RecordStore is the slice of the card store the pipeline writes to. Each call
// is durable once it returns.
type RecordStore interface {
	CreatePlaceholder(ctx context.Context) (string, error)
	AttachImage(ctx context.Context, id string, ref models.ImageRef) error
	MergeMetadata(ctx context.Context, id string, md models.CardMetadata, notes string) error
	Delete(ctx context.Context, id string) error
}

type Normalizer interface {
	Normalize(data []byte) (*processor.NormalizedImage, error)
}

type Namer interface {
	Generate(originalName string, data []byte, cardID string) string
}

type Extractor interface {
	Extract(ctx context.Context, image []byte) vision.Extraction
}

type State int

const (
	Created State = iota + 1
	Validated
	Normalized
	Stored
	MetadataAttempted
	Finalized
	RolledBack
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Validated:
		return "validated"
	case Normalized:
		return "normalized"
	case Stored:
		return "stored"
	case MetadataAttempted:
		return "metadata_attempted"
	case Finalized:
		return "finalized"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Result describes a finalized ingestion.
type Result struct {
	CardID            string
	Image             models.ImageRef
	MetadataExtracted bool
	Confidence        *models.Confidence
	Metadata          *models.CardMetadata
	Notes             string
}

type Deps struct {
	Records    RecordStore
	Storage    storage.Backend
	Normalizer Normalizer
	Names      Namer
	Extractor  Extractor
	Logger     *slog.Logger
	Metrics    *Metrics
}

// Limits bound what a single upload may cost.
type Limits struct {
	MaxUploadSize int64
	// MaxPixels caps width*height; 0 means processor.DefaultMaxPixels.
	MaxPixels int64
}

type Service struct {
	records    RecordStore
	storage    storage.Backend
	normalizer Normalizer
	names      Namer
	extractor  Extractor
	logger     *slog.Logger
	metrics    *Metrics
	limits     Limits
}

const rollbackTimeout = 10 * time.Second

func NewService(d Deps, limits Limits) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = NewMetrics(nil)
	}
	if d.Names == nil {
		d.Names = processor.NewNameGenerator()
	}
	return &Service{
		records:    d.Records,
		storage:    d.Storage,
		normalizer: d.Normalizer,
		names:      d.Names,
		extractor:  d.Extractor,
		logger:     d.Logger.With("component", "ingest"),
		metrics:    d.Metrics,
		limits:     limits,
	}
}

// run tracks one ingestion through the state machine.
type run struct {
	cardID     string
	state      State
	storedPath string
	logger     *slog.Logger
	start      time.Time
}

// Ingest runs the whole pipeline for one upload. Failures are returned as
// *Error; a failed metadata extraction is not a failure.
func (s *Service) Ingest(ctx context.Context, up models.Upload) (*Result, error) {
	start := time.Now()

	id, err := s.records.CreatePlaceholder(ctx)
	if err != nil {
		s.logger.Error("create placeholder card", "error", err)
		s.metrics.observeIngestion(StorageFault.String(), start)
		return nil, &Error{Kind: StorageFault, Err: err}
	}
	r := &run{
		cardID: id,
		state:  Created,
		logger: s.logger.With("card_id", id, "file_name", up.FileName),
		start:  start,
	}

	if err := processor.Validate(up.Data, up.ContentType, s.limits.MaxUploadSize, s.limits.MaxPixels); err != nil {
		return nil, s.rollback(ctx, r, ValidationFault, err)
	}
	r.state = Validated

	img, err := s.normalizer.Normalize(up.Data)
	if err != nil {
		return nil, s.rollback(ctx, r, ProcessingFault, err)
	}
	r.state = Normalized

	name := s.names.Generate(up.FileName, up.Data, id)
	rel, err := s.storage.Save(ctx, img.Data, name, id)
	if err != nil {
		return nil, s.rollback(ctx, r, StorageFault, err)
	}
	r.storedPath = rel

	ref := models.ImageRef{Path: rel, URL: s.storage.URLFor(rel)}
	if err := s.records.AttachImage(ctx, id, ref); err != nil {
		return nil, s.rollback(ctx, r, StorageFault, err)
	}
	r.state = Stored
	r.logger.Info("stored card image",
		"path", rel,
		"width", img.Width,
		"height", img.Height,
		"bytes", len(img.Data))

	res := &Result{CardID: id, Image: ref}
	s.attachMetadata(ctx, r, img.Data, res)

	r.state = Finalized
	s.metrics.observeIngestion("ok", start)
	r.logger.Info("card ingested",
		"metadata_extracted", res.MetadataExtracted,
		"duration", time.Since(start))
	return res, nil
}

func (s *Service) attachMetadata(ctx context.Context, r *run, image []byte, res *Result) {
	ext := s.extractor.Extract(ctx, image)
	r.state = MetadataAttempted

	if !ext.OK() {
		result := "failed"
		if ext.Err == vision.Unavailable {
			result = "unavailable"
		}
		s.metrics.observeExtraction(result)
		r.logger.Warn("metadata extraction skipped", "reason", ext.Err)
		return
	}

	if err := s.records.MergeMetadata(ctx, r.cardID, *ext.Metadata, ext.Notes); err != nil {
		s.metrics.observeExtraction("merge_failed")
		r.logger.Warn("merge extracted metadata", "error", err)
		return
	}
	s.metrics.observeExtraction("ok")

	res.MetadataExtracted = true
	res.Confidence = ext.Confidence
	res.Metadata = ext.Metadata
	res.Notes = ext.Notes
}

// rollback undoes a partially completed ingestion and returns the fault for
// the original cause. Failures while compensating are logged only.
func (s *Service) rollback(ctx context.Context, r *run, kind Kind, cause error) error {
	fault := &Error{Kind: kind, Err: cause}
	if kind == ValidationFault {
		r.logger.Info("upload rejected", "state", r.state, "reason", cause)
	} else {
		r.logger.Error("ingestion failed", "state", r.state, "fault", kind, "error", cause)
	}

	// clean up even when the request itself was cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	err := s.records.Delete(ctx, r.cardID)
	s.metrics.observeRollback("delete_card", err)
	if err != nil {
		r.logger.Error("rollback: delete placeholder card", "error", err)
	}

	if r.storedPath != "" {
		_, err := s.storage.Delete(ctx, r.storedPath)
		s.metrics.observeRollback("delete_image", err)
		if err != nil {
			r.logger.Error("rollback: delete stored image", "path", r.storedPath, "error", err)
		}
	}

	r.state = RolledBack
	s.metrics.observeIngestion(kind.String(), r.start)
	return fault
}
