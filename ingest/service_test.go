package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardtracker/logging"
	"cardtracker/models"
	"cardtracker/processor"
	"cardtracker/storage"
	"cardtracker/vision"
)

const maxUpload = 10 * 1024 * 1024

type harness struct {
	svc     *Service
	records *memRecords
	local   *storage.LocalBackend
	store   *flakyStorage
	metrics *Metrics
}

func newHarness(t *testing.T, ext Extractor) *harness {
	t.Helper()
	local, err := storage.NewLocalBackend(t.TempDir(), "/uploads")
	require.NoError(t, err)

	h := &harness{
		records: newMemRecords(),
		local:   local,
		store:   &flakyStorage{Backend: local},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	if ext == nil {
		ext = vision.NewExtractor(vision.Config{Enabled: false}, logging.Discard())
	}
	h.svc = NewService(Deps{
		Records:    h.records,
		Storage:    h.store,
		Normalizer: processor.NewNormalizer(1024, 85),
		Names:      processor.NewNameGenerator(),
		Extractor:  ext,
		Logger:     logging.Discard(),
		Metrics:    h.metrics,
	}, Limits{MaxUploadSize: maxUpload, MaxPixels: 4_000_000})
	return h
}

func cardJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 90, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

// flatPNG compresses to a few kilobytes whatever its dimensions.
func flatPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func (h *harness) fileCount(t *testing.T) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(h.local.BaseDir(), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return err
	})
	require.NoError(t, err)
	return n
}

func visionServer(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *vision.Extractor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return vision.NewExtractor(vision.Config{
		APIKey:  "key",
		Enabled: true,
		BaseURL: srv.URL,
		Timeout: timeout,
	}, logging.Discard())
}

func TestIngestLargeJPEGWithExtractionDisabled(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.Ingest(context.Background(), models.Upload{
		Data:        cardJPEG(t, 3000, 2000),
		ContentType: "image/jpeg",
		FileName:    "griffey front.jpg",
	})
	require.NoError(t, err)

	assert.False(t, res.MetadataExtracted)
	assert.Nil(t, res.Confidence)
	assert.Regexp(t, regexp.MustCompile(`^/uploads/`+res.CardID+`/\d{8}_\d{6}_[0-9a-f]{8}_griffey_front\.jpg$`), res.Image.URL)
	assert.Equal(t, res.CardID+"/", res.Image.Path[:len(res.CardID)+1])

	card, ok := h.records.get(res.CardID)
	require.True(t, ok)
	assert.Equal(t, res.Image.Path, card.ImagePath)
	assert.Equal(t, res.Image.URL, card.ImageURL)
	assert.Equal(t, models.CardReady, card.Status)

	stored, err := os.ReadFile(filepath.Join(h.local.BaseDir(), filepath.FromSlash(res.Image.Path)))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Width)
	assert.Equal(t, 683, cfg.Height)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ingestions.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.extractions.WithLabelValues("unavailable")))
}

func TestIngestCorruptBytesRollsBack(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Ingest(context.Background(), models.Upload{
		Data:        []byte("this is not a jpeg"),
		ContentType: "image/jpeg",
		FileName:    "card.jpg",
	})
	require.Error(t, err)

	assert.Equal(t, ValidationFault, KindOf(err))
	assert.ErrorIs(t, err, processor.ErrCorruptImage)
	require.Len(t, h.records.created, 1)
	assert.Zero(t, h.records.count(), "placeholder removed")
	assert.Zero(t, h.fileCount(t))
}

func TestIngestExtractionTimeoutKeepsImage(t *testing.T) {
	ext := visionServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}, 50*time.Millisecond)
	h := newHarness(t, ext)

	res, err := h.svc.Ingest(context.Background(), models.Upload{
		Data:        cardJPEG(t, 400, 560),
		ContentType: "image/jpeg",
		FileName:    "card.jpg",
	})
	require.NoError(t, err)

	assert.False(t, res.MetadataExtracted)
	assert.Nil(t, res.Confidence)

	card, ok := h.records.get(res.CardID)
	require.True(t, ok)
	assert.Equal(t, res.Image.Path, card.ImagePath)
	assert.True(t, card.IsEmpty())

	exists, err := h.local.Exists(context.Background(), res.Image.Path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.extractions.WithLabelValues("failed")))
}

func TestIngestMergesCleanedMetadata(t *testing.T) {
	ext := visionServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{
				"content": `{"player_name":"unknown","year":"1998","confidence":"high","notes":"slight corner wear"}`,
			}}},
		})
	}, time.Second)
	h := newHarness(t, ext)

	res, err := h.svc.Ingest(context.Background(), models.Upload{
		Data:        cardJPEG(t, 300, 420),
		ContentType: "image/jpeg",
		FileName:    "card.jpg",
	})
	require.NoError(t, err)

	assert.True(t, res.MetadataExtracted)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, models.ConfidenceHigh, *res.Confidence)
	assert.Equal(t, "slight corner wear", res.Notes)

	card, ok := h.records.get(res.CardID)
	require.True(t, ok)
	assert.Nil(t, card.PlayerName)
	require.NotNil(t, card.Year)
	assert.Equal(t, 1998, *card.Year)
	require.NotNil(t, card.Notes)
	assert.Equal(t, "slight corner wear", *card.Notes)
}

func TestIngestValidationFaults(t *testing.T) {
	h := newHarness(t, nil)
	valid := cardJPEG(t, 50, 70)

	tests := []struct {
		name       string
		upload     models.Upload
		target     error
		wantStatus int
	}{
		{"unsupported type", models.Upload{Data: valid, ContentType: "application/pdf"}, processor.ErrUnsupportedType, http.StatusBadRequest},
		{"too large", models.Upload{Data: make([]byte, maxUpload+1), ContentType: "image/jpeg"}, processor.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{"too many pixels", models.Upload{Data: flatPNG(t, 2001, 2000), ContentType: "image/png"}, processor.ErrTooLarge, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Ingest(context.Background(), tt.upload)

			var ie *Error
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, ValidationFault, ie.Kind)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, tt.wantStatus, ie.HTTPStatus())
			assert.Equal(t, ie.Err.Error(), ie.Message())
		})
	}
	assert.Zero(t, h.records.count())
}

func TestIngestProcessingFaultRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.svc.normalizer = failingNormalizer{err: processor.ErrProcessingFailed}

	_, err := h.svc.Ingest(context.Background(), models.Upload{
		Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg", FileName: "x.jpg",
	})

	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ProcessingFault, ie.Kind)
	assert.Equal(t, http.StatusInternalServerError, ie.HTTPStatus())
	assert.Equal(t, "Failed to process card image", ie.Message())
	assert.Zero(t, h.records.count())
	assert.Zero(t, h.fileCount(t))
}

func TestIngestStorageFaults(t *testing.T) {
	t.Run("save fails", func(t *testing.T) {
		h := newHarness(t, nil)
		h.store.saveErr = errors.New("disk full")

		_, err := h.svc.Ingest(context.Background(), models.Upload{
			Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg", FileName: "x.jpg",
		})
		assert.Equal(t, StorageFault, KindOf(err))
		assert.Zero(t, h.records.count())
		assert.Zero(t, h.fileCount(t))
	})

	t.Run("attach fails after save", func(t *testing.T) {
		h := newHarness(t, nil)
		h.records.attachErr = errors.New("write conflict")

		_, err := h.svc.Ingest(context.Background(), models.Upload{
			Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg", FileName: "x.jpg",
		})
		assert.Equal(t, StorageFault, KindOf(err))
		assert.Zero(t, h.records.count())
		assert.Zero(t, h.fileCount(t), "stored image compensated")

		entries, err := os.ReadDir(h.local.BaseDir())
		require.NoError(t, err)
		assert.Empty(t, entries, "card directory pruned")
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rollbacks.WithLabelValues("delete_image", "ok")))
	})

	t.Run("placeholder cannot be created", func(t *testing.T) {
		h := newHarness(t, nil)
		h.records.createErr = errors.New("mongo down")

		_, err := h.svc.Ingest(context.Background(), models.Upload{
			Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg",
		})
		assert.Equal(t, StorageFault, KindOf(err))
	})
}

func TestIngestRollbackFailuresDoNotMaskCause(t *testing.T) {
	h := newHarness(t, nil)
	h.records.attachErr = errors.New("write conflict")
	h.records.deleteErr = errors.New("delete failed")
	h.store.deleteErr = errors.New("storage offline")

	_, err := h.svc.Ingest(context.Background(), models.Upload{
		Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg", FileName: "x.jpg",
	})

	require.Error(t, err)
	assert.Equal(t, StorageFault, KindOf(err))
	assert.Contains(t, err.Error(), "write conflict")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rollbacks.WithLabelValues("delete_card", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rollbacks.WithLabelValues("delete_image", "error")))
}

func TestIngestRollbackSurvivesCancelledRequest(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.records.onAttach = cancel
	h.records.attachErr = context.Canceled

	_, err := h.svc.Ingest(ctx, models.Upload{
		Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg", FileName: "x.jpg",
	})
	require.Error(t, err)
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	assert.Zero(t, h.records.count())
	assert.Zero(t, h.fileCount(t))
}

func TestIngestMergeFailureIsSoft(t *testing.T) {
	ext := extractorFunc(func(ctx context.Context, image []byte) vision.Extraction {
		brand := "Topps"
		c := models.ConfidenceLow
		return vision.Extraction{Metadata: &models.CardMetadata{Brand: &brand}, Confidence: &c}
	})
	h := newHarness(t, ext)
	h.records.mergeErr = errors.New("update failed")

	res, err := h.svc.Ingest(context.Background(), models.Upload{
		Data: cardJPEG(t, 20, 20), ContentType: "image/jpeg", FileName: "x.jpg",
	})
	require.NoError(t, err)
	assert.False(t, res.MetadataExtracted)
	assert.Nil(t, res.Confidence)

	card, ok := h.records.get(res.CardID)
	require.True(t, ok)
	assert.Equal(t, res.Image.Path, card.ImagePath)
}

func TestIngestExtractorSeesNormalizedImage(t *testing.T) {
	var seen []byte
	ext := extractorFunc(func(ctx context.Context, image []byte) vision.Extraction {
		seen = image
		return vision.Extraction{Err: "nothing"}
	})
	h := newHarness(t, ext)

	res, err := h.svc.Ingest(context.Background(), models.Upload{
		Data: cardJPEG(t, 2048, 100), ContentType: "image/jpeg", FileName: "x.jpg",
	})
	require.NoError(t, err)

	stored, err := os.ReadFile(filepath.Join(h.local.BaseDir(), filepath.FromSlash(res.Image.Path)))
	require.NoError(t, err)
	assert.Equal(t, stored, seen)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stored", Stored.String())
	assert.Equal(t, "rolled_back", RolledBack.String())
	assert.Equal(t, "unknown", State(0).String())
}
