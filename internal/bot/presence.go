package bot

import (
	"fmt"
	"time"

	"github.com/samber/lo"
)

const presenceUpdateInterval = 60 * time.Second

func (b *Bot) startPresenceUpdater() {
	if b.presenceStop != nil {
		return
	}
	b.presenceStop = make(chan struct{})
	go func(stop <-chan struct{}) {
		ticker := time.NewTicker(presenceUpdateInterval)
		defer ticker.Stop()

		b.updatePresence()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				b.updatePresence()
			}
		}
	}(b.presenceStop)
}

func (b *Bot) stopPresenceUpdater() {
	if b.presenceStop == nil {
		return
	}
	close(b.presenceStop)
	b.presenceStop = nil
}

func (b *Bot) updatePresence() {
	status := presenceStatus(lo.SumBy(b.shards, func(sh *shard) int {
		return sh.registry.Playing()
	}))

	for _, sh := range b.shards {
		if err := sh.session.UpdateListeningStatus(status); err != nil {
			b.logger.Debug().Err(err).Int("shard", sh.session.ShardID).Msg("failed to update presence")
		}
	}
}

func presenceStatus(playing int) string {
	if playing == 1 {
		return "1 guild listening"
	}
	return fmt.Sprintf("%d guilds listening", playing)
}
