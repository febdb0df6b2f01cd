package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/handpose-api/internal/classifier"
	"github.com/Brownie44l1/handpose-api/internal/sampler"
	"github.com/Brownie44l1/handpose-api/internal/scores"
)

type stubEngine struct {
	scores []float32
}

func (s *stubEngine) Predict(context.Context, []float32) ([]float32, error) {
	return s.scores, nil
}

type fakeClassifier struct {
	err error
	got image.Image
}

func (f *fakeClassifier) Classify(_ context.Context, img image.Image) (*scores.Result, error) {
	f.got = img
	return nil, f.err
}

func (f *fakeClassifier) ClassifyTensor(context.Context, []float32) (*scores.Result, error) {
	return nil, f.err
}

func (f *fakeClassifier) Labels() []string { return []string{"ok", "thumbup"} }

func (f *fakeClassifier) TensorLen() int { return 3 * 224 * 224 }

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * y), G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "hand.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func newTestRouter(t *testing.T, maxUpload int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, err := classifier.New(&stubEngine{scores: []float32{1.0, 3.0}}, classifier.DefaultConfig())
	require.NoError(t, err)
	return NewRouter(NewHandler(c, sampler.New(c, time.Hour), maxUpload))
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	r := newTestRouter(t, 10<<20)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
	assert.Contains(t, w.Body.String(), `"thumbup"`)
}

func TestPredictFromImage(t *testing.T) {
	r := newTestRouter(t, 10<<20)
	body, ct := multipartBody(t, "image", pngBytes(t, 300, 200))

	req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res scores.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "ok:0.12  ,  thumbup:0.88", res.Display)
	assert.Equal(t, "thumbup", res.Label)
	assert.Len(t, res.Predictions, 2)
}

func TestPredictFromImageRejectsBadUploads(t *testing.T) {
	t.Run("missing field", func(t *testing.T) {
		r := newTestRouter(t, 10<<20)
		body, ct := multipartBody(t, "photo", pngBytes(t, 10, 10))
		req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, FailureDisplay, decodeError(t, w).Display)
	})

	t.Run("not an image", func(t *testing.T) {
		r := newTestRouter(t, 10<<20)
		body, ct := multipartBody(t, "image", []byte("hello, this is plain text"))
		req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, FailureDisplay, decodeError(t, w).Display)
	})

	t.Run("body over the multipart limit", func(t *testing.T) {
		r := newTestRouter(t, 64)
		body, ct := multipartBody(t, "image", bytes.Repeat([]byte{0x89}, 1<<20+4096))
		req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Equal(t, FailureDisplay, decodeError(t, w).Display)
	})

	t.Run("too large", func(t *testing.T) {
		r := newTestRouter(t, 64)
		body, ct := multipartBody(t, "image", pngBytes(t, 64, 64))
		req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestPredictTensor(t *testing.T) {
	r := newTestRouter(t, 10<<20)

	payload, err := json.Marshal(PredictionRequest{Image: make([]float32, 3*224*224)})
	require.NoError(t, err)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok:0.12  ,  thumbup:0.88")

	payload, err = json.Marshal(PredictionRequest{Image: []float32{1, 2, 3}})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(payload)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader([]byte("{"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClassificationErrorStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
	}{
		{classifier.ErrConcurrencyRejected, http.StatusTooManyRequests},
		{classifier.ErrTimeout, http.StatusGatewayTimeout},
		{classifier.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("%w: %w", classifier.ErrCanceled, context.Canceled), StatusClientClosedRequest},
		{&classifier.StageError{Stage: classifier.StagePredict, Err: errors.New("x")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		fc := &fakeClassifier{err: tc.err}
		r := NewRouter(NewHandler(fc, sampler.New(nil, 0), 10<<20))

		body, ct := multipartBody(t, "image", pngBytes(t, 8, 8))
		req := httptest.NewRequest(http.MethodPost, "/predict/image", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, FailureDisplay, decodeError(t, w).Display)
	}
}

func TestFrames(t *testing.T) {
	r := newTestRouter(t, 10<<20)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frames/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	frame := pngBytes(t, 64, 48)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(frame)))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "accepted")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader(frame)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "dropped_interval")

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/frames/latest", nil))
		return w.Code == http.StatusOK && bytes.Contains(w.Body.Bytes(), []byte("thumbup:0.88"))
	}, time.Second, 5*time.Millisecond)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/frames", bytes.NewReader([]byte("garbage"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
