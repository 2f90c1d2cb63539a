package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/SignalFox/internal/pkg/sweeper"
)

// a sweep pages through every expired row, so it gets more time than a
// regular request
const sweepTimeout = 10 * time.Minute

// CronController lets an external scheduler trigger the subscription sweep.
type CronController struct {
	sweeper *sweeper.Sweeper
}

func NewCronController(s *sweeper.Sweeper) *CronController {
	return &CronController{sweeper: s}
}

// HandleSweep handles POST /internal/cron/sweep
func (cc *CronController) HandleSweep(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), sweepTimeout)
	defer cancel()

	report, err := cc.sweeper.Run(ctx)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Cron] Sweep triggered from %s: promoted=%d reverted=%d", c.IP(), report.Promoted, report.Reverted)
	return c.JSON(report)
}
