package handlers

import (
	"context"
	"errors"
	"image"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/handpose-api/internal/classifier"
	"github.com/Brownie44l1/handpose-api/internal/sampler"
	"github.com/Brownie44l1/handpose-api/internal/scores"
)

// FailureDisplay is shown in place of a result string when classification fails.
const FailureDisplay = "null"

// StatusClientClosedRequest is reported when the client went away before the
// classification finished. net/http has no constant for it.
const StatusClientClosedRequest = 499

type Classifier interface {
	Classify(ctx context.Context, img image.Image) (*scores.Result, error)
	ClassifyTensor(ctx context.Context, input []float32) (*scores.Result, error)
	Labels() []string
	TensorLen() int
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Display string `json:"display"`
}

type Handler struct {
	classifier Classifier
	sampler    *sampler.Sampler
	maxUpload  int64
}

func NewHandler(c Classifier, s *sampler.Sampler, maxUpload int64) *Handler {
	return &Handler{
		classifier: c,
		sampler:    s,
		maxUpload:  maxUpload,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"classes":    h.classifier.Labels(),
		"tensor_len": h.classifier.TensorLen(),
	})
}

// Predict classifies an already encoded planar tensor.
func (h *Handler) Predict(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, errors.New("invalid JSON"))
		return
	}

	result, err := h.classifier.ClassifyTensor(c.Request.Context(), req.Image)
	if err != nil {
		failClassification(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PredictFromImage classifies a multipart upload in the "image" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))

	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, errTooLarge)
			return
		}
		fail(c, http.StatusBadRequest, errors.New("no image file provided, use 'image' as the form field name"))
		return
	}
	file, err := header.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}
	defer file.Close()

	img, mime, err := decodeImage(file, h.maxUpload)
	if err != nil {
		failDecode(c, err)
		return
	}
	log.Debug().Str("file", header.Filename).Str("mime", mime).
		Int("width", img.Bounds().Dx()).Int("height", img.Bounds().Dy()).Msg("received image")

	result, err := h.classifier.Classify(c.Request.Context(), img)
	if err != nil {
		failClassification(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// PushFrame offers a raw encoded frame to the live sampler. It never waits
// for the classification itself.
func (h *Handler) PushFrame(c *gin.Context) {
	img, _, err := decodeImage(c.Request.Body, h.maxUpload)
	if err != nil {
		failDecode(c, err)
		return
	}

	decision := h.sampler.Offer(img)
	status := http.StatusAccepted
	if decision != sampler.Accepted {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"decision": decision.String()})
}

func (h *Handler) LatestFrame(c *gin.Context) {
	snap, ok := h.sampler.Latest()
	if !ok {
		fail(c, http.StatusNotFound, errors.New("no frame classified yet"))
		return
	}
	c.JSON(http.StatusOK, snap)
}

func fail(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error(), Display: FailureDisplay})
}

func failDecode(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, err)
	default:
		fail(c, http.StatusBadRequest, errors.New("invalid image format, supported: JPEG, PNG, GIF, WebP, BMP, TIFF"))
	}
}

func failClassification(c *gin.Context, err error) {
	switch {
	case errors.Is(err, classifier.ErrInvalidInput):
		fail(c, http.StatusBadRequest, err)
	case errors.Is(err, classifier.ErrConcurrencyRejected):
		fail(c, http.StatusTooManyRequests, errors.New("previous model still running"))
	case errors.Is(err, classifier.ErrTimeout):
		fail(c, http.StatusGatewayTimeout, errors.New("prediction timed out"))
	case errors.Is(err, classifier.ErrCanceled):
		log.Debug().Err(err).Msg("client went away before prediction finished")
		fail(c, StatusClientClosedRequest, errors.New("prediction canceled"))
	default:
		log.Error().Err(err).Msg("Prediction error")
		fail(c, http.StatusInternalServerError, errors.New("prediction failed"))
	}
}
