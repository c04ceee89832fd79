package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	tracelot "github.com/tracelot/tracelot"
)

// RegisterGin mounts the service's routes on a gin router or group.
func RegisterGin(r gin.IRouter, s *Service) {
	r.GET("/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Snapshot())
	})

	r.POST("/refresh", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Refresh(c.Request.Context()))
	})

	r.POST("/lots", func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortGin(c, tracelot.Errorf(tracelot.ErrCodeValidation, "reading request body: %v", err))
			return
		}
		resp, err := s.CreateLot(c.Request.Context(), body)
		if err != nil {
			abortGin(c, err)
			return
		}
		c.JSON(http.StatusCreated, resp)
	})

	r.POST("/lots/:id/steps/:index/validate", func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			abortGin(c, err)
			return
		}
		index, err := parseIndex(c.Param("index"))
		if err != nil {
			abortGin(c, err)
			return
		}
		if err := s.ValidateStep(c.Request.Context(), id, index); err != nil {
			abortGin(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lotId": id, "stepIndex": index})
	})

	r.POST("/lots/:id/deposit", func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			abortGin(c, err)
			return
		}
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortGin(c, tracelot.Errorf(tracelot.ErrCodeValidation, "reading request body: %v", err))
			return
		}
		if err := s.Deposit(c.Request.Context(), id, body); err != nil {
			abortGin(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lotId": id})
	})

	r.POST("/lots/:id/release", func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			abortGin(c, err)
			return
		}
		if err := s.Release(c.Request.Context(), id); err != nil {
			abortGin(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lotId": id})
	})

	r.POST("/lots/:id/refund", func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			abortGin(c, err)
			return
		}
		if err := s.Refund(c.Request.Context(), id); err != nil {
			abortGin(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"lotId": id})
	})
}

func abortGin(c *gin.Context, err error) {
	c.AbortWithStatusJSON(StatusOf(err), ErrorBody(err))
}
