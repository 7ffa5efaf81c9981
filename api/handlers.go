package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"quadrantd/domain"
	"quadrantd/watch"
)

const requestBodyMaxSize = 1 << 20

// QuadrantLister serves quadrant listings. The Redis cache satisfies it in
// front of the store; without Redis the service itself is used.
type QuadrantLister interface {
	ListQuadrant(ctx context.Context, q domain.Quadrant) ([]domain.Task, error)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc *domain.TaskService, listings QuadrantLister, hub *watch.Hub, auth *Auth, logger *log.Logger) {
	if listings == nil {
		listings = svc
	}
	undo := newUndoBuffer()

	g := e.Group("/api", authMiddleware(auth))

	g.GET("/quadrants/:q/tasks", getQuadrantTasks(svc, listings, logger))
	g.GET("/tasks", getTasks(svc))
	g.GET("/tasks/:id", getTask(svc))
	g.POST("/tasks", postTask(svc))
	g.PUT("/tasks/:id", putTask(svc))
	g.DELETE("/tasks/:id", deleteTask(svc, undo))
	g.POST("/undo/:token", postUndo(svc, undo))

	g.POST("/tasks/:id/quadrant", postQuadrantMove(svc))
	g.POST("/tasks/:id/pin", postPin(svc))
	g.POST("/tasks/:id/up", postMove(svc, svc.MoveUp))
	g.POST("/tasks/:id/down", postMove(svc, svc.MoveDown))
	g.POST("/tasks/:id/status", postStatus(svc))
	g.POST("/tasks/:id/defer", postDefer(svc))

	g.GET("/mit", getMIT(svc))
	g.GET("/mit/suggested", getSuggestedMIT(svc))
	g.PUT("/mit/:id", putMIT(svc))
	g.DELETE("/mit", deleteMIT(svc))

	g.GET("/search", getSearch(svc))
	g.GET("/reminders", getReminders(svc))
	g.POST("/sweep", postSweep(svc, logger))
	g.GET("/stats", getStats(svc))
	g.GET("/stream", getStream(hub))

	e.GET("/healthz", healthz())
}

func authMiddleware(auth *Auth) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
				return c.String(http.StatusUnauthorized, err.Error())
			}
			return next(c)
		}
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func quadrantParam(c echo.Context) (domain.Quadrant, error) {
	v, err := strconv.Atoi(c.Param("q"))
	if err != nil {
		return 0, fmt.Errorf("invalid quadrant %q", c.Param("q"))
	}
	q := domain.Quadrant(v)
	for _, known := range domain.Quadrants() {
		if q == known {
			return q, nil
		}
	}
	return 0, fmt.Errorf("unknown quadrant %d", v)
}

func idParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", c.Param("id"))
	}
	return id, nil
}

func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func getQuadrantTasks(svc *domain.TaskService, listings QuadrantLister, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := newRequestMetrics(logger, "quadrant_tasks")
		defer func() { metrics.Log(c.Response().Status, err) }()

		q, perr := quadrantParam(c)
		if perr != nil {
			metrics.SetErrorStage("params")
			err = c.String(http.StatusBadRequest, perr.Error())
			return err
		}

		ctx := c.Request().Context()
		var tasks []domain.Task
		var listErr error
		fetchStart := time.Now()
		if c.QueryParam("view") == "today" {
			tasks, listErr = svc.ListTodayQuadrant(ctx, q)
		} else {
			tasks, listErr = listings.ListQuadrant(ctx, q)
		}
		metrics.ObserveStore(time.Since(fetchStart))
		if listErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(listErr)
			err = c.String(http.StatusInternalServerError, listErr.Error())
			return err
		}
		metrics.SetTasksReturned(len(tasks))
		err = c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
		return err
	}
}

func getTasks(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		from, to := c.QueryParam("from"), c.QueryParam("to")

		createdFrom, createdTo := c.QueryParam("createdFrom"), c.QueryParam("createdTo")

		var tasks []domain.Task
		var err error
		switch {
		case from != "" || to != "":
			start, perr := time.ParseInLocation("2006-01-02", from, time.Local)
			if perr != nil {
				return c.String(http.StatusBadRequest, "invalid from date")
			}
			end, perr := time.ParseInLocation("2006-01-02", to, time.Local)
			if perr != nil {
				return c.String(http.StatusBadRequest, "invalid to date")
			}
			tasks, err = svc.ListDueRange(ctx, start, end)
		case createdFrom != "" || createdTo != "":
			start, perr := time.ParseInLocation("2006-01-02", createdFrom, time.Local)
			if perr != nil {
				return c.String(http.StatusBadRequest, "invalid createdFrom date")
			}
			end, perr := time.ParseInLocation("2006-01-02", createdTo, time.Local)
			if perr != nil {
				return c.String(http.StatusBadRequest, "invalid createdTo date")
			}
			tasks, err = svc.ListCreatedRange(ctx, start, end)
		case c.QueryParam("active") == "1":
			tasks, err = svc.ListActive(ctx)
		default:
			tasks, err = svc.ListAll(ctx)
		}
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getTask(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		task, err := svc.GetTask(c.Request().Context(), id)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.NoContent(http.StatusNotFound)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func postTask(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var draft domain.Draft
		if err := decodeBody(c, &draft); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		draft.ID = nil
		id, err := svc.Upsert(c.Request().Context(), draft)
		if err != nil {
			if domain.IsValidation(err) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusCreated, idResponse{ID: id})
	}
}

func putTask(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		var draft domain.Draft
		if err := decodeBody(c, &draft); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		draft.ID = &id
		updated, err := svc.Upsert(c.Request().Context(), draft)
		if err != nil {
			if domain.IsValidation(err) {
				return c.String(http.StatusBadRequest, err.Error())
			}
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if updated == 0 {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, idResponse{ID: updated})
	}
}

func deleteTask(svc *domain.TaskService, undo *undoBuffer) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		deleted, err := svc.DeleteAndReturn(c.Request().Context(), id)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if deleted == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, deleteResponse{UndoToken: undo.Add(*deleted)})
	}
}

func postUndo(svc *domain.TaskService, undo *undoBuffer) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, ok := undo.Take(c.Param("token"))
		if !ok {
			return c.String(http.StatusNotFound, "unknown undo token")
		}
		if err := svc.Restore(c.Request().Context(), task); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, idResponse{ID: task.ID})
	}
}

func postQuadrantMove(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		var req quadrantRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		target := domain.Quadrant(req.Quadrant)
		valid := false
		for _, known := range domain.Quadrants() {
			if target == known {
				valid = true
				break
			}
		}
		if !valid {
			return c.String(http.StatusBadRequest, "unknown quadrant")
		}
		if err := svc.MoveToQuadrant(c.Request().Context(), id, target); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postPin(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		if err := svc.TogglePinned(c.Request().Context(), id); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postMove(svc *domain.TaskService, move func(ctx context.Context, id int64) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		if err := move(c.Request().Context(), id); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postStatus(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		var req statusRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		switch domain.Status(req.Status) {
		case domain.StatusInProgress, domain.StatusCompleted, domain.StatusOverdue:
		default:
			return c.String(http.StatusBadRequest, "unknown status")
		}
		if err := svc.SetStatus(c.Request().Context(), id, domain.Status(req.Status)); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postDefer(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		var req deferRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if err := svc.DeferDue(c.Request().Context(), id, req.Days); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getMIT(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := svc.MIT(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func getSuggestedMIT(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		task, err := svc.SuggestedMIT(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if task == nil {
			return c.NoContent(http.StatusNoContent)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func putMIT(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, perr := idParam(c)
		if perr != nil {
			return c.String(http.StatusBadRequest, perr.Error())
		}
		if err := svc.SetMIT(c.Request().Context(), id); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteMIT(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := svc.ClearMIT(c.Request().Context()); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getSearch(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		query := c.QueryParam("q")
		if query == "" {
			return c.String(http.StatusBadRequest, "missing query")
		}
		tasks, err := svc.Search(c.Request().Context(), query)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getReminders(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := svc.ActiveReminders(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func postSweep(svc *domain.TaskService, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		updated, err := svc.UpdateOverdueTasks(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		if updated > 0 && logger != nil {
			logger.WithField("updated", updated).Info("overdue sweep via api")
		}
		return c.JSON(http.StatusOK, sweepResponse{Updated: updated})
	}
}

func getStats(svc *domain.TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		tasks, err := svc.ListAll(c.Request().Context())
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		perQuadrant := map[domain.Quadrant]*quadrantStats{}
		for _, q := range domain.Quadrants() {
			perQuadrant[q] = &quadrantStats{Quadrant: int(q)}
		}
		resp := statsResponse{}
		for _, t := range tasks {
			qs := perQuadrant[t.Quadrant]
			qs.Total++
			resp.Total++
			switch t.Status {
			case domain.StatusCompleted:
				qs.Completed++
				resp.Completed++
			case domain.StatusOverdue:
				qs.Overdue++
				resp.Overdue++
			default:
				qs.InProgress++
			}
			if t.IsPinned {
				qs.Pinned++
			}
		}
		for _, q := range domain.Quadrants() {
			resp.Quadrants = append(resp.Quadrants, *perQuadrant[q])
		}
		return c.JSON(http.StatusOK, resp)
	}
}

// getStream serves a server-sent event stream of quadrant-change events.
// Each event's data is the JSON array of quadrant codes that changed.
func getStream(hub *watch.Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		if hub == nil {
			return c.NoContent(http.StatusNotImplemented)
		}
		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set("Cache-Control", "no-cache")
		res.Header().Set("Connection", "keep-alive")
		res.WriteHeader(http.StatusOK)
		res.Flush()

		events, cancel := hub.Subscribe()
		defer cancel()

		ctx := c.Request().Context()
		heartbeat := time.NewTicker(30 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-heartbeat.C:
				if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
					return nil
				}
				res.Flush()
			case batch, ok := <-events:
				if !ok {
					return nil
				}
				data, err := sonic.ConfigStd.Marshal(batch)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(res, "event: tasks\ndata: %s\n\n", data); err != nil {
					return nil
				}
				res.Flush()
			}
		}
	}
}
