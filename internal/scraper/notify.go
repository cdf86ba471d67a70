package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/follower-tracker/internal/goal"
	"github.com/JakeFAU/follower-tracker/internal/tracker"
)

// notify sends goal and change notifications for a freshly appended count.
// Delivery problems are logged only.
func (s *Service) notify(ctx context.Context, channel tracker.Channel, previous, next *int64) {
	if s.deps.Notifier == nil || next == nil {
		return
	}
	var pending []tracker.Notification
	if s.cfg.NotifyGoal && goal.Reached(previous, next, channel.FollowerGoal) {
		pending = append(pending, goalNotification(channel, *channel.FollowerGoal))
	}
	if s.cfg.NotifyChange {
		if delta, changed := goal.Changed(previous, next); changed {
			pending = append(pending, changeNotification(channel, delta, *next))
		}
	}
	for _, n := range pending {
		sent, err := s.deps.Notifier.Send(ctx, channel.UserID, n)
		if err != nil {
			s.logger.Warn("send notification failed",
				zap.String("channel_id", channel.ID),
				zap.String("title", n.Title),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("notification sent",
			zap.String("channel_id", channel.ID),
			zap.String("title", n.Title),
			zap.Int("devices", sent),
		)
	}
}

func goalNotification(channel tracker.Channel, target int64) tracker.Notification {
	return tracker.Notification{
		Title: "Goal reached",
		Body:  fmt.Sprintf("%s reached %s followers", channelLabel(channel), formatCount(target)),
		URL:   "/channels/" + channel.ID,
	}
}

func changeNotification(channel tracker.Channel, delta, now int64) tracker.Notification {
	sign := "+"
	if delta < 0 {
		sign = "-"
		delta = -delta
	}
	return tracker.Notification{
		Title: channelLabel(channel),
		Body:  fmt.Sprintf("%s%s followers (now %s)", sign, formatCount(delta), formatCount(now)),
		URL:   "/channels/" + channel.ID,
	}
}

func channelLabel(channel tracker.Channel) string {
	if channel.DisplayName != "" {
		return channel.DisplayName
	}
	return channel.URL
}

// formatCount renders n with comma thousands separators.
func formatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := false
	if s[0] == '-' {
		neg, s = true, s[1:]
	}
	var out []byte
	for i := range len(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, s[i])
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}
