package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cardtracker/database"
	"cardtracker/ingest"
	"cardtracker/models"
	"cardtracker/storage"
	"cardtracker/utils"
)

const (
	requestTimeout = 10 * time.Second
	// room for the multipart envelope around the file itself
	multipartOverhead = 1 << 20
)

type Ingester interface {
	Ingest(ctx context.Context, up models.Upload) (*ingest.Result, error)
}

// CardStore is the read and delete side of the card records.
type CardStore interface {
	Get(ctx context.Context, id string) (*models.Card, error)
	List(ctx context.Context, page, limit int) ([]models.Card, int64, error)
	Delete(ctx context.Context, id string) error
}

type CardController struct {
	ingester      Ingester
	cards         CardStore
	storage       storage.Backend
	maxUploadSize int64
	logger        *slog.Logger
}

func NewCardController(ing Ingester, cards CardStore, store storage.Backend, maxUploadSize int64, logger *slog.Logger) *CardController {
	if logger == nil {
		logger = slog.Default()
	}
	return &CardController{
		ingester:      ing,
		cards:         cards,
		storage:       store,
		maxUploadSize: maxUploadSize,
		logger:        logger.With("component", "controller"),
	}
}

func (cc *CardController) ScanCard(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, cc.maxUploadSize+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			utils.Abort(c, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		utils.Abort(c, http.StatusBadRequest, "No image file provided")
		return
	}

	fileContent, err := file.Open()
	if err != nil {
		cc.logger.Error("open uploaded file", "error", err)
		utils.Abort(c, http.StatusInternalServerError, "Something went wrong")
		return
	}
	defer fileContent.Close()

	// one byte past the limit is enough for the validator to reject it
	data, err := io.ReadAll(io.LimitReader(fileContent, cc.maxUploadSize+1))
	if err != nil {
		cc.logger.Error("read uploaded file", "error", err)
		utils.Abort(c, http.StatusInternalServerError, "Something went wrong")
		return
	}

	res, err := cc.ingester.Ingest(c.Request.Context(), models.Upload{
		Data:        data,
		ContentType: file.Header.Get("Content-Type"),
		FileName:    file.Filename,
	})
	if err != nil {
		var ie *ingest.Error
		if errors.As(err, &ie) {
			utils.Abort(c, ie.HTTPStatus(), ie.Message())
			return
		}
		cc.logger.Error("ingest card", "error", err)
		utils.Abort(c, http.StatusInternalServerError, "Failed to process card image")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	card, err := cc.cards.Get(ctx, res.CardID)
	if err != nil {
		cc.logger.Warn("reload scanned card", "card_id", res.CardID, "error", err)
	}

	c.JSON(http.StatusOK, models.ScanResponse{
		Message:              "Card scanned successfully",
		CardID:               res.CardID,
		ImageURL:             res.Image.URL,
		Card:                 card,
		MetadataExtracted:    res.MetadataExtracted,
		ExtractionConfidence: res.Confidence,
	})
}

func (cc *CardController) ListCards(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, limit := utils.Pagination(c)

	cards, total, err := cc.cards.List(ctx, page, limit)
	if err != nil {
		cc.logger.Error("list cards", "error", err)
		utils.Abort(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	for i := range cards {
		cc.sign(ctx, &cards[i])
	}

	c.JSON(http.StatusOK, models.CardListResponse{
		Cards:      cards,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: utils.TotalPages(total, limit),
	})
}

func (cc *CardController) GetCard(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	card, err := cc.cards.Get(ctx, c.Param("id"))
	if err != nil {
		cc.abortLookup(c, err)
		return
	}
	cc.sign(ctx, card)
	c.JSON(http.StatusOK, card)
}

// DeleteCard removes the stored image before the record so that a failure
// never leaves an image without a card pointing at it.
func (cc *CardController) DeleteCard(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	id := c.Param("id")
	card, err := cc.cards.Get(ctx, id)
	if err != nil {
		cc.abortLookup(c, err)
		return
	}

	if card.ImagePath != "" {
		if _, err := cc.storage.Delete(ctx, card.ImagePath); err != nil {
			cc.logger.Error("delete card image", "card_id", id, "path", card.ImagePath, "error", err)
			utils.Abort(c, http.StatusInternalServerError, "Error deleting card image")
			return
		}
	}

	if err := cc.cards.Delete(ctx, id); err != nil {
		cc.abortLookup(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Card deleted", "card_id": id})
}

func (cc *CardController) abortLookup(c *gin.Context, err error) {
	if errors.Is(err, database.ErrCardNotFound) {
		utils.Abort(c, http.StatusNotFound, "Card not found")
		return
	}
	cc.logger.Error("card lookup", "id", c.Param("id"), "error", err)
	utils.Abort(c, http.StatusInternalServerError, "Internal server error")
}

// sign fills in a presigned URL when the backend supports it. The public URL
// stays usable if signing fails.
func (cc *CardController) sign(ctx context.Context, card *models.Card) {
	p, ok := cc.storage.(storage.Presigner)
	if !ok || card.ImagePath == "" {
		return
	}
	u, err := p.PresignURL(ctx, card.ImagePath)
	if err != nil {
		cc.logger.Warn("presign card image", "card_id", card.ID.Hex(), "error", err)
		return
	}
	card.SignedURL = u
}
