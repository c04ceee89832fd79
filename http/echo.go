package http

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	tracelot "github.com/tracelot/tracelot"
)

// echoRoutes is the subset of *echo.Echo and *echo.Group the adapter needs.
type echoRoutes interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterEcho mounts the service's routes on an echo instance or group.
func RegisterEcho(e echoRoutes, s *Service) {
	e.GET("/snapshot", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.Snapshot())
	})

	e.POST("/refresh", func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.Refresh(c.Request().Context()))
	})

	e.POST("/lots", func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return abortEcho(c, tracelot.Errorf(tracelot.ErrCodeValidation, "reading request body: %v", err))
		}
		resp, err := s.CreateLot(c.Request().Context(), body)
		if err != nil {
			return abortEcho(c, err)
		}
		return c.JSON(http.StatusCreated, resp)
	})

	e.POST("/lots/:id/steps/:index/validate", func(c echo.Context) error {
		id, err := parseID(c.Param("id"))
		if err != nil {
			return abortEcho(c, err)
		}
		index, err := parseIndex(c.Param("index"))
		if err != nil {
			return abortEcho(c, err)
		}
		if err := s.ValidateStep(c.Request().Context(), id, index); err != nil {
			return abortEcho(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"lotId": id, "stepIndex": index})
	})

	e.POST("/lots/:id/deposit", func(c echo.Context) error {
		id, err := parseID(c.Param("id"))
		if err != nil {
			return abortEcho(c, err)
		}
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return abortEcho(c, tracelot.Errorf(tracelot.ErrCodeValidation, "reading request body: %v", err))
		}
		if err := s.Deposit(c.Request().Context(), id, body); err != nil {
			return abortEcho(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"lotId": id})
	})

	e.POST("/lots/:id/release", func(c echo.Context) error {
		id, err := parseID(c.Param("id"))
		if err != nil {
			return abortEcho(c, err)
		}
		if err := s.Release(c.Request().Context(), id); err != nil {
			return abortEcho(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"lotId": id})
	})

	e.POST("/lots/:id/refund", func(c echo.Context) error {
		id, err := parseID(c.Param("id"))
		if err != nil {
			return abortEcho(c, err)
		}
		if err := s.Refund(c.Request().Context(), id); err != nil {
			return abortEcho(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{"lotId": id})
	})
}

func abortEcho(c echo.Context, err error) error {
	return c.JSON(StatusOf(err), ErrorBody(err))
}
