package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/engine"
	"github.com/ConvoSphere/DataExtract/extractor"
	"github.com/ConvoSphere/DataExtract/job"
)

// submitExtraction accepts a multipart upload and either serves the
// result inline from the cache (200) or queues an extraction job (202).
//
// Form fields:
//
//	file       — the document (required)
//	options    — JSON option bag (optional)
//	priority   — low | normal | high (optional, default normal)
//	timeout_ms — per-job wall-clock budget override (optional)
func (a *API) submitExtraction(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("missing file field: "+err.Error()))
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("unreadable upload: "+err.Error()))
		return
	}
	defer f.Close() //nolint:errcheck // read-only handle

	content, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("unreadable upload: "+err.Error()))
		return
	}

	var opts extractor.Options
	if raw := c.PostForm("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("malformed options: "+err.Error()))
			return
		}
	}

	priority := job.Priority(c.DefaultPostForm("priority", string(job.PriorityNormal)))
	if !priority.Valid() {
		c.JSON(http.StatusBadRequest, errorBody("priority must be low, normal, or high"))
		return
	}

	var timeout time.Duration
	if raw := c.PostForm("timeout_ms"); raw != "" {
		var millis int64
		if err := json.Unmarshal([]byte(raw), &millis); err != nil || millis < 0 {
			c.JSON(http.StatusBadRequest, errorBody("timeout_ms must be a non-negative integer"))
			return
		}
		timeout = time.Duration(millis) * time.Millisecond
	}

	res, err := a.eng.Submit(c.Request.Context(), engine.SubmitRequest{
		Owner:    identity(c),
		Filename: fileHeader.Filename,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  content,
		Options:  opts,
		Priority: priority,
		Timeout:  timeout,
	})
	if err != nil {
		a.renderError(c, err)
		return
	}

	if res.Cached != nil {
		c.JSON(http.StatusOK, gin.H{
			"cached": true,
			"result": res.Cached.Result,
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"cached":               false,
		"job":                  res.Job,
		"estimated_completion": res.EstimatedCompletion,
	})
}

// renderError maps engine errors to HTTP status codes.
func (a *API) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dataextract.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(err.Error()))
	case errors.Is(err, dataextract.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, errorBody(err.Error()))
	case errors.Is(err, dataextract.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, dataextract.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, errorBody(err.Error()))
	case errors.Is(err, dataextract.ErrJobNotFound), errors.Is(err, dataextract.ErrKeyNotFound):
		c.JSON(http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, dataextract.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorBody(err.Error()))
	default:
		a.logger.Error("request failed", "error", err.Error(), "path", c.FullPath())
		c.JSON(http.StatusInternalServerError, errorBody("internal error"))
	}
}
