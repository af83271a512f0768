package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"jobhost/internal/errors"
	"jobhost/internal/storage"
	"jobhost/internal/task/engine"
	"jobhost/internal/task/job"
	"jobhost/internal/task/scheduler"
	logx "jobhost/pkg/logx"
)

const historyTimeout = 3 * time.Second

type jobKeyDTO struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

type dashboardDTO struct {
	scheduler.Snapshot
	HistorySource string `json:"history_source"`
	History       any    `json:"history"`
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.SendString("Healthy")
}

// ensureStarted starts a stopped scheduler so API calls made before
// startup complete still work.
func (s *Server) ensureStarted(ctx context.Context) error {
	if s.sched.IsStarted() {
		return nil
	}
	s.log.Info("scheduler not started; starting on API request")
	return s.sched.Start(ctx)
}

func (s *Server) triggerJob(c *fiber.Ctx) error {
	name, group := c.Params("name"), c.Params("group")
	ctx := c.UserContext()

	if err := s.ensureStarted(ctx); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	k := job.NewKey(name, group)
	if _, ok := s.sched.GetJobDetail(k); !ok {
		keys := s.sched.ListJobKeys("")
		available := make([]string, 0, len(keys))
		for _, jk := range keys {
			available = append(available, jk.String())
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":         fmt.Sprintf("Job '%s' not found", k),
			"availableJobs": available,
		})
	}

	if err := s.sched.TriggerJob(ctx, k, nil); err != nil {
		s.log.Warn("manual trigger failed", logx.String("job", k.String()), logx.Err(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("Job '%s' in group '%s' triggered successfully", k.Name, k.Group),
	})
}

func (s *Server) listJobs(c *fiber.Ctx) error {
	if err := s.ensureStarted(c.UserContext()); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	keys := s.sched.ListJobKeys("")
	out := make([]jobKeyDTO, 0, len(keys))
	for _, k := range keys {
		out = append(out, jobKeyDTO{Name: k.Name, Group: k.Group})
	}
	return c.JSON(out)
}

func (s *Server) dashboard(c *fiber.Ctx) error {
	snap := s.sched.Snapshot()
	out := dashboardDTO{Snapshot: snap}
	out.Engine.History = nil

	if s.hist != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), historyTimeout)
		defer cancel()
		recs, err := s.hist.RecentExecutions(ctx, s.cfg.HistoryLimit)
		if err != nil {
			return errors.Wrap(err, "load execution history")
		}
		if recs == nil {
			recs = []storage.ExecutionRecord{}
		}
		out.HistorySource = "storage"
		out.History = recs
		return c.JSON(out)
	}

	// Engine history is oldest first; the dashboard lists newest first.
	items := snap.Engine.History
	if len(items) > s.cfg.HistoryLimit {
		items = items[len(items)-s.cfg.HistoryLimit:]
	}
	rev := make([]engine.HistoryItem, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		rev = append(rev, items[i])
	}
	out.HistorySource = "memory"
	out.History = rev
	return c.JSON(out)
}
