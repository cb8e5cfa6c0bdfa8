package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
)

func (a *API) getJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid job ID: "+err.Error()))
		return
	}

	j, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) getResult(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid job ID: "+err.Error()))
		return
	}

	// Report the job's own state before poking the cache so callers get
	// a 409 for unfinished jobs rather than a misleading 404.
	j, err := a.eng.Status(c.Request.Context(), jobID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	if j.Status != job.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{
			"error":  "job is not completed",
			"status": j.Status,
		})
		return
	}

	entry, err := a.eng.Result(c.Request.Context(), jobID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry.Result)
}

func (a *API) cancelJob(c *gin.Context) {
	jobID, err := id.ParseJobID(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("invalid job ID: "+err.Error()))
		return
	}

	accepted, err := a.eng.Cancel(c.Request.Context(), jobID)
	if err != nil {
		a.renderError(c, err)
		return
	}
	if !accepted {
		c.JSON(http.StatusConflict, errorBody("job already reached a terminal state"))
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) listJobs(c *gin.Context) {
	var (
		jobs []*job.Job
		err  error
	)
	if raw := c.Query("status"); raw != "" {
		status := job.Status(raw)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, errorBody("unknown status filter: "+raw))
			return
		}
		jobs, err = a.eng.Registry().ListByStatus(c.Request.Context(), status)
	} else {
		jobs, err = a.eng.Registry().List(c.Request.Context())
	}
	if err != nil {
		a.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}
