package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"todo-proj/internal/result"
	"todo-proj/internal/store"
	"todo-proj/internal/task"
)

const maxBodySize = 1 << 20

type createRequest struct {
	Title    string  `json:"title"`
	Priority string  `json:"priority"`
	DueDate  *string `json:"due_date"`
}

// updateRequest leaves priority and due_date unchanged when they are absent.
// An empty due_date clears it.
type updateRequest struct {
	Title     string   `json:"title"`
	Completed flexBool `json:"completed"`
	Priority  *string  `json:"priority"`
	DueDate   *string  `json:"due_date"`
}

type reorderRequest struct {
	IDs *[]int64 `json:"ids"`
}

// flexBool accepts true/false as well as the 0/1 integers older clients send.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*b = true
	case "false", "0", "null":
		*b = false
	default:
		return fmt.Errorf("completed must be a boolean, got %s", data)
	}
	return nil
}

var errTitleRequired = echo.NewHTTPError(http.StatusBadRequest, "Title is required")

func (s *Server) listTodos(c echo.Context) error {
	tasks, err := s.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTodo(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	t, err := s.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) createTodo(c echo.Context) error {
	var req createRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Title) == "" {
		return errTitleRequired
	}
	t, err := s.svc.Create(c.Request().Context(), task.CreateInput{
		Title:    req.Title,
		Priority: req.Priority,
		DueDate:  req.DueDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (s *Server) updateTodo(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Title) == "" {
		return errTitleRequired
	}

	ctx := c.Request().Context()
	// omitted fields keep their stored value inside the same UPDATE
	in := task.UpdateInput{
		Title:        req.Title,
		Completed:    bool(req.Completed),
		KeepPriority: req.Priority == nil,
		KeepDueDate:  req.DueDate == nil,
	}
	if req.Priority != nil {
		in.Priority = *req.Priority
	}
	if req.DueDate != nil {
		in.DueDate = req.DueDate
	}

	t, err := s.svc.Update(ctx, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTodo(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := s.svc.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) clearCompleted(c echo.Context) error {
	n, err := s.svc.ClearCompleted(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) reorderTodos(c echo.Context) error {
	var req reorderRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	if req.IDs == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "ids must be an array of task ids")
	}
	if err := s.svc.Reorder(c.Request().Context(), *req.IDs); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) exportTodos(c echo.Context) error {
	format := strings.ToLower(c.QueryParam("format"))
	if format == "" {
		format = "json"
	}
	b, err := result.NewExporter(s.svc).Export(c.Request().Context(), format)
	if errors.Is(err, result.ErrUnknownFormat) {
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("format must be one of %s", strings.Join(result.Formats(), ", ")))
	}
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="todos.%s"`, format))
	return c.Blob(http.StatusOK, result.ContentType(format), b)
}

func pathID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

func decode(c echo.Context, v any) error {
	if err := c.Echo().JSONSerializer.Deserialize(c, v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body").SetInternal(err)
	}
	return nil
}

// handleError renders every failure as {"error": message}.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(code)
	} else {
		werr = c.JSON(code, map[string]string{"error": msg})
	}
	if werr != nil {
		s.log.WithError(werr).Warn("write error response")
	}
}

func statusOf(err error) (int, string) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, fmt.Sprint(he.Message)
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), store.ErrInvalid.Error()+": ")
	default:
		return http.StatusInternalServerError, err.Error()
	}
}
