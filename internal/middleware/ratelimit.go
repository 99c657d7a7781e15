package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware caps run submissions per client, per second and
// per day, using Redis counters. An assignment run is expensive, so
// the defaults are deliberately low.
func RateLimitMiddleware(rdb *redis.Client, perSecond, perDay int) fiber.Handler {
	if perSecond <= 0 {
		perSecond = 1
	}
	if perDay <= 0 {
		perDay = 200
	}

	return func(c *fiber.Ctx) error {
		ctx := context.Background()
		now := time.Now()
		client := c.IP()

		keySecond := fmt.Sprintf("rl:%s:second:%d", client, now.Unix())
		keyDay := fmt.Sprintf("rl:%s:day:%s", client, now.Format("2006-01-02"))

		countSecond, err := rdb.Incr(ctx, keySecond).Result()
		if err == nil {
			rdb.Expire(ctx, keySecond, 2*time.Second)
			if countSecond > int64(perSecond) {
				c.Set("X-RateLimit-Limit-Second", strconv.Itoa(perSecond))
				c.Set("Retry-After", "1")
				return c.Status(429).JSON(fiber.Map{
					"error":      "rate_limit_exceeded",
					"message":    "Too many run submissions per second",
					"limit_type": "per_second",
				})
			}
		}

		countDay, err := rdb.Incr(ctx, keyDay).Result()
		if err == nil {
			rdb.Expire(ctx, keyDay, 48*time.Hour)
			if countDay > int64(perDay) {
				c.Set("X-RateLimit-Limit-Day", strconv.Itoa(perDay))
				return c.Status(429).JSON(fiber.Map{
					"error":      "rate_limit_exceeded",
					"message":    "Daily run submission quota exhausted",
					"limit_type": "per_day",
				})
			}
			remaining := int64(perDay) - countDay
			if remaining < 0 {
				remaining = 0
			}
			c.Set("X-RateLimit-Remaining-Day", strconv.FormatInt(remaining, 10))
		}

		// Redis being down never blocks a submission
		return c.Next()
	}
}
