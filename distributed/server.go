package distributed

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewServer wires the worker HTTP API over an in-process worker. One
// route proves chunks; compiled provers are cached across requests by
// the underlying LocalWorker.
func NewServer(worker *LocalWorker) *gin.Engine {
	router := gin.Default()
	router.GET("/health", healthCheck)
	router.POST("/prove", proveChunk(worker))
	return router
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "Health check passed",
	})
}

func proveChunk(worker *LocalWorker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		job, err := decodeJob(&req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := worker.Prove(c.Request.Context(), job)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		vkBuf := new(bytes.Buffer)
		if _, err := res.VerifyingKey.WriteTo(vkBuf); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		witBuf := new(bytes.Buffer)
		if _, err := res.PublicWitness.WriteTo(witBuf); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		finals := make([]string, len(res.Finals))
		for i, v := range res.Finals {
			finals[i] = elementString(v)
		}

		c.JSON(http.StatusOK, &ProveResponse{
			Chunk:         res.Index,
			PrevRoot:      elementString(res.PrevRoot),
			Root:          elementString(res.Root),
			Finals:        finals,
			Proof:         res.ProofBytes,
			VerifyingKey:  vkBuf.Bytes(),
			PublicWitness: witBuf.Bytes(),
			Elapsed:       res.Elapsed.String(),
		})
	}
}
